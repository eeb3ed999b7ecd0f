package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner is a background feed (oracle poller, signal socket) that lives as
// long as the service.
type Runner interface {
	Run(ctx context.Context)
}

type Service struct {
	mu      sync.Mutex
	trader  *Trader
	runners []Runner
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(trader *Trader, logger *slog.Logger, runners ...Runner) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{trader: trader, runners: runners, logger: logger.With(slog.String("component", "bot"))}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.logger.Info("already running")
		return nil
	}
	if s.trader == nil {
		return errors.New("bot: no trader")
	}

	mode := "LIVE MODE"
	if s.trader.cfg.Paper {
		mode = "PAPER MODE"
	}
	if s.trader.Notify != nil {
		s.trader.Notify.Post(fmt.Sprintf("Starting swarm with %d agents - %s", len(s.trader.Engine.Agents()), mode))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, r := range s.runners {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			r.Run(runCtx)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.trader.Run(runCtx)
		s.logger.Info("run loop exited")
	}()

	s.logger.Info("started", slog.String("mode", mode))
	return nil
}

// Stop halts the driver and feeds, waits up to timeout for in-flight snipes,
// exit passes and trades, and flushes the position book.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.trader.Stop()
	s.cancel()
	s.wg.Wait()
	s.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if s.trader.Sniper != nil {
		if err := s.trader.Sniper.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bot: snipes still running: %w", err))
		}
	}
	if s.trader.Exits != nil {
		if err := s.trader.Exits.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bot: exit pass still running: %w", err))
		}
	}
	if err := s.trader.Engine.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("bot: trades still running: %w", err))
	}
	if err := s.trader.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bot: flush positions: %w", err))
	}
	s.logger.Info("stopped", slog.Int("open_positions", s.trader.Store.OpenCount()))
	return errors.Join(errs...)
}

func (s *Service) Trader() *Trader { return s.trader }
