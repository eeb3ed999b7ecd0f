package strategy

import (
	"log/slog"
	"os"
	"time"
)

// Reloader watches a rules file and swaps it into a Holder when its
// modification time changes. A file that fails to parse leaves the current
// strategy in place.
type Reloader struct {
	path     string
	holder   *Holder
	interval time.Duration
	logger   *slog.Logger
	modTime  time.Time

	lastCheck time.Time
}

func NewReloader(path string, holder *Holder, interval time.Duration, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reloader{path: path, holder: holder, interval: interval, logger: logger.With(slog.String("component", "strategy"))}
}

// Check reloads the file if it changed since the last successful load.
// It reports whether a new strategy was installed.
func (r *Reloader) Check() (bool, error) {
	if r.path == "" {
		return false, nil
	}
	fi, err := os.Stat(r.path)
	if err != nil {
		return false, err
	}
	if !fi.ModTime().After(r.modTime) {
		return false, nil
	}
	rules, err := LoadRules(r.path)
	if err != nil {
		// Remember the bad mtime so the same broken file is not re-parsed every check.
		r.modTime = fi.ModTime()
		r.logger.Error("strategy reload failed, keeping current rules", slog.String("path", r.path), slog.Any("error", err))
		return false, err
	}
	r.holder.Swap(rules)
	r.modTime = fi.ModTime()
	r.logger.Info("strategy loaded", slog.String("path", r.path), slog.String("name", rules.Name), slog.Int("rules", len(rules.Rules)))
	return true, nil
}

// Tick runs Check at most once per interval. The driver calls it every tick.
func (r *Reloader) Tick(now time.Time) {
	if now.Sub(r.lastCheck) < r.interval {
		return
	}
	r.lastCheck = now
	if _, err := r.Check(); err != nil && !os.IsNotExist(err) {
		r.logger.Debug("strategy check", slog.Any("error", err))
	}
}
