// Package journal is the append-only trade log. The JSONL file is the system
// of record; the in-memory tail and the database mirrors are conveniences.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-swarm/internal/models"
)

// DisplayTail is how many entries Tail keeps.
const DisplayTail = 20

// Mirror receives every appended entry on a best-effort basis.
type Mirror interface {
	Record(ctx context.Context, e models.JournalEntry) error
}

type Journal struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	closed  bool
	tail    []models.JournalEntry
	counts  map[string]int
	sells   []float64
	day     string // trading day of dayN
	dayN    int
	mirrors []Mirror
	paper   bool
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Journal)

func WithMirror(m Mirror) Option { return func(j *Journal) { j.mirrors = append(j.mirrors, m) } }

func WithClock(now func() time.Time) Option { return func(j *Journal) { j.now = now } }

// WithPaper tags every entry as a paper trade.
func WithPaper(paper bool) Option { return func(j *Journal) { j.paper = paper } }

// Open opens (or creates) the journal file at path and replays it to rebuild
// the tail and per-agent counters. An empty path keeps the journal in memory.
func Open(path string, logger *slog.Logger, opts ...Option) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		path:   path,
		counts: map[string]int{},
		now:    time.Now,
		logger: logger.With(slog.String("component", "journal")),
	}
	for _, o := range opts {
		o(j)
	}
	if path == "" {
		return j, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}
	if err := j.replay(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	j.file = f
	if err := terminateLastLine(path, f); err != nil {
		j.logger.Warn("could not terminate torn journal line", slog.Any("error", err))
	}
	return j, nil
}

// terminateLastLine appends a newline when the file ends mid-record so the
// next append starts on a fresh line.
func terminateLastLine(path string, w *os.File) error {
	r, err := os.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	st, err := r.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] != '\n' {
		_, err = w.Write([]byte{'\n'})
	}
	return err
}

func (j *Journal) replay() error {
	err := j.scan(func(e models.JournalEntry) bool {
		j.remember(e)
		return true
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Append stamps e with an ID and timestamp, writes it, and forwards it to the
// mirrors. The stamped entry is returned.
func (j *Journal) Append(e models.JournalEntry) models.JournalEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = j.now().UTC()
	}
	if e.TradingDay == "" {
		e.TradingDay = e.Timestamp.UTC().Format("2006-01-02")
	}
	if j.paper {
		e.Paper = true
	}

	j.mu.Lock()
	if j.file == nil && j.path != "" && !j.closed {
		// A failed reopen during rotation left no handle; try again.
		if err := j.reopenLocked(); err != nil {
			j.logger.Error("journal file unavailable, entry kept in memory only",
				slog.Any("error", err), slog.String("action", string(e.Action)))
		}
	}
	if j.file != nil {
		line, err := json.Marshal(e)
		if err == nil {
			line = append(line, '\n')
			_, err = j.file.Write(line)
		}
		if err != nil {
			j.logger.Error("journal write failed", slog.Any("error", err), slog.String("action", string(e.Action)))
		}
	}
	j.remember(e)
	mirrors := j.mirrors
	j.mu.Unlock()

	j.logger.Info("journal",
		slog.String("agent", e.Agent),
		slog.String("action", string(e.Action)),
		slog.String("asset", e.Asset),
		slog.Float64("native", e.NativeAmount),
		slog.Int("attempt", e.Attempt),
		slog.String("reason", e.Reason),
		slog.String("tx", e.TxRef),
	)

	for _, m := range mirrors {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := m.Record(ctx, e); err != nil {
			j.logger.Warn("journal mirror failed", slog.Any("error", err))
		}
		cancel()
	}
	return e
}

// remember updates the in-memory views. Caller holds mu (or owns j exclusively).
func (j *Journal) remember(e models.JournalEntry) {
	j.tail = append(j.tail, e)
	if len(j.tail) > DisplayTail {
		j.tail = append([]models.JournalEntry(nil), j.tail[len(j.tail)-DisplayTail:]...)
	}
	if e.Action.IsTrade() {
		j.counts[e.Agent]++
		if e.TradingDay != j.day {
			j.day, j.dayN = e.TradingDay, 0
		}
		j.dayN++
	}
	if e.Action == models.ActionSell && e.RealizedPnL != nil {
		j.sells = append(j.sells, *e.RealizedPnL)
		if len(j.sells) > 200 {
			j.sells = j.sells[len(j.sells)-200:]
		}
	}
}

// Tail returns the most recent entries, oldest first.
func (j *Journal) Tail() []models.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.JournalEntry(nil), j.tail...)
}

// RecentSells returns realized PnL of the last n confirmed sells, newest first.
func (j *Journal) RecentSells(n int) []float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n > len(j.sells) {
		n = len(j.sells)
	}
	out := make([]float64, 0, n)
	for i := len(j.sells) - 1; i >= len(j.sells)-n; i-- {
		out = append(out, j.sells[i])
	}
	return out
}

// CountForAgent counts confirmed buys and sells for agent.
func (j *Journal) CountForAgent(agent string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts[agent]
}

// CountToday counts confirmed trades in the current UTC trading day. It is
// the fallback daily counter when no database is configured.
func (j *Journal) CountToday(context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.day != j.now().UTC().Format("2006-01-02") {
		return 0, nil
	}
	return j.dayN, nil
}

func (j *Journal) Path() string { return j.path }

// Entries reads the file and returns the newest entries matching f, newest first.
func (j *Journal) Entries(f models.JournalFilter) ([]models.JournalEntry, error) {
	if j.path == "" {
		j.mu.Lock()
		defer j.mu.Unlock()
		return filterNewest(j.tail, f), nil
	}
	var all []models.JournalEntry
	err := j.scan(func(e models.JournalEntry) bool {
		if f.Match(e) {
			all = append(all, e)
		}
		return true
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return filterNewest(all, models.JournalFilter{Limit: f.Limit}), nil
}

func filterNewest(in []models.JournalEntry, f models.JournalFilter) []models.JournalEntry {
	var out []models.JournalEntry
	for i := len(in) - 1; i >= 0; i-- {
		if !f.Match(in[i]) {
			continue
		}
		out = append(out, in[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func (j *Journal) scan(fn func(models.JournalEntry) bool) error {
	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e models.JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			j.logger.Warn("skipping malformed journal line", slog.Int("line", line), slog.Any("error", err))
			continue
		}
		if !fn(e) {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("journal: scan: %w", err)
	}
	return nil
}

// Rotate closes the current file, renames it to dst, and starts a fresh file.
// The in-memory tail and counters are kept.
func (j *Journal) Rotate(dst string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.path == "" {
		return errors.New("journal: rotate: in-memory journal")
	}
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		if err != nil {
			j.logger.Warn("journal close before rotate failed", slog.Any("error", err))
		}
	}
	if err := os.Rename(j.path, dst); err != nil {
		// Reopen so appends keep working even if the rename failed.
		if oerr := j.reopenLocked(); oerr != nil {
			j.logger.Error("journal reopen failed", slog.Any("error", oerr))
		}
		return fmt.Errorf("journal: rotate rename: %w", err)
	}
	if err := j.reopenLocked(); err != nil {
		j.logger.Error("journal reopen failed, will retry on next append", slog.Any("error", err))
		return fmt.Errorf("journal: rotate reopen: %w", err)
	}
	return nil
}

func (j *Journal) reopenLocked() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	j.file = f
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
