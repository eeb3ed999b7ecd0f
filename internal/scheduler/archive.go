package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Rotator is the journal side of an archive run.
type Rotator interface {
	Path() string
	Rotate(dst string) error
}

// Uploader ships a rotated file to long-term storage.
type Uploader interface {
	PutFile(ctx context.Context, key, file string) error
}

type ArchiveConfig struct {
	Interval time.Duration // e.g. 24*time.Hour
	// KeepLocal leaves the rotated file on disk after a successful upload.
	KeepLocal  bool
	OnArchived func(key string)
}

// ArchiveScheduler periodically rotates the trade journal and uploads the
// rotated segment. A failed upload keeps the segment on disk.
type ArchiveScheduler struct {
	journal  Rotator
	uploader Uploader
	cfg      ArchiveConfig
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	runMu   sync.Mutex
}

func NewArchiveScheduler(journal Rotator, uploader Uploader, cfg ArchiveConfig, logger *slog.Logger) *ArchiveScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveScheduler{
		journal:  journal,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "archive_scheduler")),
		now:      time.Now,
	}
}

func (s *ArchiveScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if _, err := s.ArchiveNow(ctx); err != nil {
					s.logger.Error("journal archive failed", slog.Any("error", err))
				}
				cancel()
			}
		}
	}()

	s.logger.Info("started", slog.Duration("interval", s.cfg.Interval))
}

func (s *ArchiveScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("stopped")
}

func (s *ArchiveScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ArchiveNow rotates the journal and uploads the segment. It returns the
// object key. An empty journal is skipped with an empty key.
func (s *ArchiveScheduler) ArchiveNow(ctx context.Context) (string, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	src := s.journal.Path()
	if src == "" {
		return "", errors.New("scheduler: journal has no file")
	}
	st, err := os.Stat(src)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("scheduler: stat journal: %w", err)
	}
	if err != nil || st.Size() == 0 {
		s.logger.Debug("journal empty, nothing to archive")
		return "", nil
	}

	stamp := s.now().UTC().Format("20060102T150405Z")
	ext := filepath.Ext(src)
	dst := strings.TrimSuffix(src, ext) + "-" + stamp + ext
	if err := s.journal.Rotate(dst); err != nil {
		return "", fmt.Errorf("scheduler: rotate: %w", err)
	}

	key := filepath.Base(dst)
	if err := s.uploader.PutFile(ctx, key, dst); err != nil {
		return "", fmt.Errorf("scheduler: upload %s: %w", key, err)
	}
	if !s.cfg.KeepLocal {
		if err := os.Remove(dst); err != nil {
			s.logger.Warn("could not remove archived segment", slog.String("file", dst), slog.Any("error", err))
		}
	}
	s.logger.Info("journal archived", slog.String("key", key), slog.Int64("bytes", st.Size()))
	if s.cfg.OnArchived != nil {
		s.cfg.OnArchived(key)
	}
	return key, nil
}
