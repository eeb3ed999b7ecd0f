// Package position holds the per-agent, per-asset ledger. It is the only
// writer of Position records; every mutation schedules a durable rewrite of
// the full book.
package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kjannette/trahn-swarm/internal/models"
)

// Mirror receives a copy of the book after each durable write.
type Mirror interface {
	Persist(ctx context.Context, book models.PositionBook) error
}

type Store struct {
	mu   sync.Mutex
	book models.PositionBook

	path   string
	now    func() time.Time
	logger *slog.Logger
	mirror Mirror

	dirty     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool // set under mu; later mutations write through
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithMirror(m Mirror) Option { return func(s *Store) { s.mirror = m } }

// NewStore creates a store persisted at path. An empty path keeps the book in
// memory only. The background writer runs until Close.
func NewStore(path string, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		book:   models.PositionBook{},
		path:   path,
		now:    time.Now,
		logger: logger.With(slog.String("component", "positions")),
		dirty:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.writer()
	return s
}

// Load replaces the in-memory book with the file contents. A missing file is
// not an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("position: read %s: %w", s.path, err)
	}
	book := models.PositionBook{}
	if err := json.Unmarshal(raw, &book); err != nil {
		return fmt.Errorf("position: decode %s: %w", s.path, err)
	}
	// Drop anything that violates the ledger invariants.
	for agent, assets := range book {
		for asset, p := range assets {
			if p.Tokens <= 0 {
				delete(assets, asset)
			}
		}
		if len(assets) == 0 {
			delete(book, agent)
		}
	}

	s.mu.Lock()
	s.book = book
	s.mu.Unlock()
	s.logger.Info("positions loaded", slog.String("path", s.path), slog.Int("open", s.OpenCount()))
	return nil
}

// ReconcileBuy records a confirmed buy. tokens is the freshly observed on-chain
// balance and replaces the stored count; nativeSpent is added to the cost basis.
func (s *Store) ReconcileBuy(agent, asset string, priceAtDecision, nativeSpent float64, tokens int64) models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokens < 0 {
		tokens = 0
	}
	assets := s.book[agent]
	if assets == nil {
		assets = map[string]models.Position{}
		s.book[agent] = assets
	}
	p, held := assets[asset]
	if !held || p.Tokens == 0 {
		p = models.Position{
			Tokens:    tokens,
			CostBasis: nativeSpent,
			AvgPrice:  priceAtDecision,
			EntryTime: s.now(),
		}
	} else {
		added := tokens - p.Tokens
		if added > 0 {
			p.AvgPrice = (float64(p.Tokens)*p.AvgPrice + float64(added)*priceAtDecision) / float64(p.Tokens+added)
		}
		p.Tokens = tokens
		p.CostBasis += nativeSpent
		if p.EntryTime.IsZero() {
			p.EntryTime = s.now()
		}
	}
	if p.Tokens == 0 {
		// Buy confirmed but nothing observable yet; keep nothing rather than a zero row.
		delete(assets, asset)
		s.pruneLocked(agent)
		s.markDirty()
		return models.Position{}
	}
	assets[asset] = p
	s.markDirty()
	return p
}

// ReconcileSellFull removes the position and returns the cost basis consumed.
func (s *Store) ReconcileSellFull(agent, asset string, received float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.book[agent][asset]
	if !ok {
		return 0
	}
	return s.closeLocked(agent, asset, p, received)
}

// ReconcileSellPartial removes tokensSold from the position and scales the cost
// basis by the remaining fraction. It returns the cost basis consumed. Selling
// everything that is held is treated as a full sell.
func (s *Store) ReconcileSellPartial(agent, asset string, received float64, tokensSold int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.book[agent][asset]
	if !ok || tokensSold <= 0 {
		return 0
	}
	if tokensSold >= p.Tokens {
		return s.closeLocked(agent, asset, p, received)
	}
	return s.scaleLocked(agent, asset, p, p.Tokens-tokensSold, tokensSold)
}

// ReconcileSellObserved applies a confirmed sell using the observed balances:
// sold is pre minus post and remaining is the post balance. The cost basis is
// scaled by remaining/(remaining+sold), so a stored count that drifted from
// the chain does not delete a position that still holds tokens.
func (s *Store) ReconcileSellObserved(agent, asset string, received float64, sold, remaining int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.book[agent][asset]
	if !ok || sold <= 0 {
		return 0
	}
	if remaining <= 0 {
		return s.closeLocked(agent, asset, p, received)
	}
	return s.scaleLocked(agent, asset, p, remaining, sold)
}

func (s *Store) closeLocked(agent, asset string, p models.Position, received float64) float64 {
	delete(s.book[agent], asset)
	s.pruneLocked(agent)
	s.markDirty()
	s.logger.Debug("position closed",
		slog.String("agent", agent), slog.String("asset", asset),
		slog.Float64("received", received), slog.Float64("cost", p.CostBasis))
	return p.CostBasis
}

func (s *Store) scaleLocked(agent, asset string, p models.Position, remaining, sold int64) float64 {
	prior := p.CostBasis
	p.CostBasis = prior * float64(remaining) / float64(remaining+sold)
	p.Tokens = remaining
	p.ConsecutiveSellFailures = 0
	s.book[agent][asset] = p
	s.markDirty()
	return prior - p.CostBasis
}

func (s *Store) Get(agent, asset string) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.book[agent][asset]
	return p, ok
}

// RecordSellFailure bumps the failure counter and returns the new value.
func (s *Store) RecordSellFailure(agent, asset string) int {
	return s.update(agent, asset, func(p *models.Position) { p.ConsecutiveSellFailures++ }).ConsecutiveSellFailures
}

func (s *Store) ResetSellFailures(agent, asset string) {
	s.update(agent, asset, func(p *models.Position) { p.ConsecutiveSellFailures = 0 })
}

func (s *Store) MarkSellAttempt(agent, asset string, at time.Time) {
	s.update(agent, asset, func(p *models.Position) { p.LastSellAttempt = at })
}

// BackfillEntryTime stamps EntryTime on positions restored without one.
func (s *Store) BackfillEntryTime(agent, asset string) {
	s.update(agent, asset, func(p *models.Position) {
		if p.EntryTime.IsZero() {
			p.EntryTime = s.now()
		}
	})
}

// Delete drops a position without sell accounting. Used for stale cleanup.
func (s *Store) Delete(agent, asset string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.book[agent][asset]; !ok {
		return false
	}
	delete(s.book[agent], asset)
	s.pruneLocked(agent)
	s.markDirty()
	return true
}

// Snapshot returns a deep copy of the book.
func (s *Store) Snapshot() models.PositionBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, assets := range s.book {
		n += len(assets)
	}
	return n
}

// Flush writes the current book synchronously.
func (s *Store) Flush() error {
	return s.write()
}

// Close stops the background writer and flushes once more. Mutations that
// arrive after Close are written to disk synchronously.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
		<-s.done
		err = s.write()
	})
	return err
}

func (s *Store) update(agent, asset string, fn func(*models.Position)) models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.book[agent][asset]
	if !ok {
		return models.Position{}
	}
	fn(&p)
	s.book[agent][asset] = p
	s.markDirty()
	return p
}

func (s *Store) pruneLocked(agent string) {
	if len(s.book[agent]) == 0 {
		delete(s.book, agent)
	}
}

func (s *Store) copyLocked() models.PositionBook {
	out := make(models.PositionBook, len(s.book))
	for agent, assets := range s.book {
		cp := make(map[string]models.Position, len(assets))
		for asset, p := range assets {
			cp[asset] = p
		}
		out[agent] = cp
	}
	return out
}

// markDirty must be called with mu held. Writes are coalesced: any number of
// mutations between two writer wakeups produce one file rewrite.
func (s *Store) markDirty() {
	if s.closed {
		if err := s.persistLocked(); err != nil {
			s.logger.Error("persist positions after close failed", slog.Any("error", err))
		}
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Store) writer() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.dirty:
			if err := s.write(); err != nil {
				s.logger.Error("persist positions failed", slog.Any("error", err))
			}
		}
	}
}

func (s *Store) write() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	book := s.copyLocked()
	s.mu.Unlock()

	if s.path != "" {
		raw, err := json.MarshalIndent(book, "", "  ")
		if err != nil {
			return fmt.Errorf("position: encode: %w", err)
		}
		if err := writeAtomic(s.path, raw); err != nil {
			return err
		}
	}
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mirror.Persist(ctx, book); err != nil {
			s.logger.Warn("position mirror save failed", slog.Any("error", err))
		}
	}
	return nil
}

// persistLocked writes the book to the file without the mirror. mu is held.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.copyLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("position: encode: %w", err)
	}
	return writeAtomic(s.path, raw)
}

func writeAtomic(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("position: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("position: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("position: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("position: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("position: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("position: rename: %w", err)
	}
	return nil
}
