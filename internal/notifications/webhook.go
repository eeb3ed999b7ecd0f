package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/trahn-swarm/internal/httputil"
	"github.com/kjannette/trahn-swarm/internal/models"
)

const queueSize = 100

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	logger     *slog.Logger

	queue     chan string
	startOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
}

func NewSender(webhookURL, botName string, logger *slog.Logger) *Sender {
	if botName == "" {
		botName = "TrahnSwarm"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "notifications"))
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Logger:      logger,
		},
		logger: logger,
		queue:  make(chan string, queueSize),
	}
}

// Send posts msg and waits for delivery.
func (s *Sender) Send(msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.logger.Info("notify", slog.String("message", formatted))

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.logger.Error("marshal webhook payload", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.logger.Warn("webhook delivery failed after retries", slog.Any("error", err))
		return
	}
	resp.Body.Close()
}

// Post queues msg for background delivery. A full queue drops the message.
func (s *Sender) Post(msg string) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.drain()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.logger.Warn("notification queue full, dropping", slog.String("message", msg))
	}
}

func (s *Sender) drain() {
	defer s.wg.Done()
	for msg := range s.queue {
		s.Send(msg)
	}
}

// Close delivers what is queued and stops the background worker.
func (s *Sender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.startOnce.Do(func() {})
	s.wg.Wait()
}

// Record turns notable journal entries into notifications. It satisfies
// journal.Mirror and never blocks on the webhook.
func (s *Sender) Record(_ context.Context, e models.JournalEntry) error {
	if msg, ok := Describe(e); ok {
		s.Post(msg)
	}
	return nil
}

// Describe renders e as a one-line message. Routine entries (retries, skips,
// gate blocks) are not worth a notification.
func Describe(e models.JournalEntry) (string, bool) {
	name := e.Ticker
	if name == "" {
		name = shortAsset(e.Asset)
	}
	prefix := ""
	if e.Paper {
		prefix = "[PAPER] "
	}
	switch e.Action {
	case models.ActionBuy:
		return fmt.Sprintf("%s%s bought %s for %.4f SOL via %s", prefix, e.Agent, name, e.NativeAmount, e.Venue), true
	case models.ActionSell:
		pnl := ""
		if e.RealizedPnL != nil {
			pnl = fmt.Sprintf(", PnL %+.4f SOL", *e.RealizedPnL)
		}
		reason := ""
		if e.Reason != "" {
			reason = " (" + e.Reason + ")"
		}
		return fmt.Sprintf("%s%s sold %s for %.4f SOL%s%s", prefix, e.Agent, name, e.NativeAmount, pnl, reason), true
	case models.ActionGateApproved:
		return fmt.Sprintf("%sSnipe approved: %s (%s)", prefix, name, e.Reason), true
	case models.ActionBundle:
		return fmt.Sprintf("%sBundle sent for %s: %s", prefix, name, e.Reason), true
	case models.ActionStaleCleanup:
		return fmt.Sprintf("%s%s dropped stale position %s", prefix, e.Agent, name), true
	}
	return "", false
}

func shortAsset(a string) string {
	if len(a) <= 8 {
		return a
	}
	return a[:4] + ".." + a[len(a)-4:]
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
