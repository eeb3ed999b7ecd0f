package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/paper"
)

const maxQueryLimit = 1000

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// PositionSource is the live position book.
type PositionSource interface {
	Snapshot() models.PositionBook
	OpenCount() int
}

// JournalSource is the local journal file.
type JournalSource interface {
	Tail() []models.JournalEntry
	Entries(f models.JournalFilter) ([]models.JournalEntry, error)
}

// JournalQuerier is the database mirror of the journal. Optional.
type JournalQuerier interface {
	GetByDay(ctx context.Context, tradingDay string, paperMode *bool) ([]models.JournalEntry, error)
	GetAll(ctx context.Context, f models.JournalFilter, paperMode *bool) ([]models.JournalEntry, error)
	GetStats(ctx context.Context, paperMode *bool) (*models.JournalStats, error)
}

// PaperSource reports the simulated ledger in paper mode.
type PaperSource interface {
	Stats() []paper.Stats
	Trades() []paper.Trade
}

// Pinger is anything the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources wires the server to the running swarm. Only Positions and Journal
// are required.
type Sources struct {
	Positions PositionSource
	Journal   JournalSource
	Repo      JournalQuerier
	Paper     PaperSource
	Checks    map[string]Pinger
}

type Server struct {
	src        Sources
	httpServer *http.Server
	apiKey     string
	logger     *slog.Logger
}

func NewServer(src Sources, port int, apiKey, corsOrigin string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		src:    src,
		apiKey: apiKey,
		logger: logger.With(slog.String("component", "api")),
	}

	mux := http.NewServeMux()

	// Position routes
	mux.HandleFunc("GET /v1/positions", s.handlePositions)
	mux.HandleFunc("GET /v1/positions/{agent}", s.handleAgentPositions)

	// Journal routes
	mux.HandleFunc("GET /v1/journal/tail", s.handleJournalTail)
	mux.HandleFunc("GET /v1/journal/day/{date}", s.handleJournalByDay)
	mux.HandleFunc("GET /v1/journal/all", s.handleJournalAll)
	mux.HandleFunc("GET /v1/journal/stats", s.handleJournalStats)

	// Paper routes
	mux.HandleFunc("GET /v1/paper/stats", s.handlePaperStats)
	mux.HandleFunc("GET /v1/paper/trades", s.handlePaperTrades)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := s.authMiddleware(corsMiddleware(mux, corsOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.logger.Info("REST API server started",
		slog.String("addr", s.httpServer.Addr),
		slog.Bool("auth", s.apiKey != ""),
		slog.Bool("db", s.src.Repo != nil))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// parseMode extracts the ?mode= query parameter.
// Returns a *bool: nil = all, true = paper, false = live.
func parseMode(r *http.Request) (*bool, error) {
	v := r.URL.Query().Get("mode")
	switch v {
	case "", "all":
		return nil, nil
	case "paper":
		b := true
		return &b, nil
	case "live":
		b := false
		return &b, nil
	default:
		return nil, fmt.Errorf("invalid mode %q, expected paper|live|all", v)
	}
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
