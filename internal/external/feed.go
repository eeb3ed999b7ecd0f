package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kjannette/trahn-swarm/internal/models"
)

const (
	DefaultFeedURL = "wss://pumpportal.fun/api/data"

	feedWriteWait      = 10 * time.Second
	feedPongWait       = 60 * time.Second
	feedPingPeriod     = (feedPongWait * 9) / 10
	feedReconnectDelay = 2 * time.Second
	feedMaxReconnect   = 60 * time.Second
	feedBuffer         = 64
)

type feedCommand struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

type newTokenEvent struct {
	Mint         string  `json:"mint"`
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	TxType       string  `json:"txType"`
	MarketCapSol float64 `json:"marketCapSol"`
	SolAmount    float64 `json:"solAmount"`
}

// SignalFeed turns a websocket stream of token launches into Signals. It
// reconnects with backoff until its context ends.
type SignalFeed struct {
	url    string
	dialer websocket.Dialer
	logger *slog.Logger
	now    func() time.Time

	out chan models.Signal

	mu      sync.Mutex
	dropped int
}

func NewSignalFeed(url string, logger *slog.Logger) *SignalFeed {
	if url == "" {
		url = DefaultFeedURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalFeed{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "signal_feed")),
		now:    time.Now,
		out:    make(chan models.Signal, feedBuffer),
	}
}

// Poll drains up to limit buffered signals without blocking.
func (f *SignalFeed) Poll(limit int) []models.Signal {
	var out []models.Signal
	for len(out) < limit {
		select {
		case s := <-f.out:
			out = append(out, s)
		default:
			return out
		}
	}
	return out
}

// Dropped counts signals discarded because the buffer was full.
func (f *SignalFeed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Run connects, subscribes, and reads until ctx ends.
func (f *SignalFeed) Run(ctx context.Context) {
	delay := feedReconnectDelay
	for ctx.Err() == nil {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("signal feed disconnected", slog.Any("error", err), slog.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, feedMaxReconnect)
	}
}

func (f *SignalFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("signal feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		return conn.WriteMessage(msgType, data)
	}

	sub, _ := json.Marshal(feedCommand{Method: "subscribeNewToken"})
	if err := write(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("signal feed: subscribe: %w", err)
	}
	f.logger.Info("signal feed connected", slog.String("url", f.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("signal feed: read: %w", err)
		}
		f.handle(data)
	}
}

func (f *SignalFeed) handle(data []byte) {
	var ev newTokenEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	// Subscription acks and trade events carry no create txType.
	if ev.Mint == "" || (ev.TxType != "" && ev.TxType != "create") {
		return
	}
	sig := models.Signal{Asset: ev.Mint, Ticker: ev.Symbol, Score: ev.MarketCapSol, DiscoveredAt: f.now()}
	select {
	case f.out <- sig:
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		f.logger.Debug("signal dropped: buffer full", slog.String("asset", ev.Mint))
	}
}
