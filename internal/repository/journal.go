package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-swarm/internal/models"
)

const journalColumns = `id, timestamp, trading_day, agent, asset, ticker, action, reason,
	native_amount, tokens, tx_ref, venue, attempt, realized_pnl, is_paper`

// JournalRepo mirrors trade journal entries into Postgres for querying.
type JournalRepo struct {
	pool *pgxpool.Pool
}

func NewJournalRepo(pool *pgxpool.Pool) *JournalRepo {
	return &JournalRepo{pool: pool}
}

func (r *JournalRepo) Record(ctx context.Context, e models.JournalEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO journal_entries (`+journalColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, ts, TradingDay(ts), e.Agent, e.Asset, e.Ticker, string(e.Action), e.Reason,
		e.NativeAmount, e.Tokens, e.TxRef, e.Venue, e.Attempt, e.RealizedPnL, e.Paper,
	)
	if err != nil {
		return fmt.Errorf("repository: record journal entry: %w", err)
	}
	return nil
}

// GetByDay returns entries for a given trading day, oldest first.
// If paperMode is non-nil, filters by is_paper.
func (r *JournalRepo) GetByDay(ctx context.Context, tradingDay string, paperMode *bool) ([]models.JournalEntry, error) {
	query, args := buildFilteredQuery(
		`SELECT `+journalColumns+` FROM journal_entries WHERE trading_day = $1`,
		[]any{tradingDay},
		paperMode,
	)
	query += " ORDER BY timestamp ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GetAll returns the most recent entries matching the filter.
func (r *JournalRepo) GetAll(ctx context.Context, f models.JournalFilter, paperMode *bool) ([]models.JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM journal_entries WHERE 1=1`
	var args []any
	if f.Agent != "" {
		args = append(args, f.Agent)
		query += fmt.Sprintf(" AND agent = $%d", len(args))
	}
	if f.Asset != "" {
		args = append(args, f.Asset)
		query += fmt.Sprintf(" AND asset = $%d", len(args))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	query, args = buildFilteredQuery(query, args, paperMode)

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// RecentSells returns the realized PnL of the last n confirmed sells, newest first.
func (r *JournalRepo) RecentSells(ctx context.Context, n int) ([]float64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT realized_pnl FROM journal_entries
		 WHERE action = 'SELL' AND realized_pnl IS NOT NULL
		 ORDER BY timestamp DESC LIMIT $1`,
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		out = append(out, pnl)
	}
	return out, rows.Err()
}

// GetStats returns aggregate journal statistics.
// If paperMode is non-nil, filters by is_paper.
func (r *JournalRepo) GetStats(ctx context.Context, paperMode *bool) (*models.JournalStats, error) {
	query, args := buildFilteredQuery(
		`SELECT
			COUNT(*),
			COUNT(CASE WHEN action = 'BUY' THEN 1 END),
			COUNT(CASE WHEN action = 'SELL' THEN 1 END),
			COUNT(CASE WHEN action IN ('BUY_FAIL','SELL_FAIL') THEN 1 END),
			COALESCE(SUM(CASE WHEN action IN ('BUY','SELL') THEN native_amount END), 0),
			COALESCE(SUM(realized_pnl), 0),
			MIN(timestamp),
			MAX(timestamp)
		 FROM journal_entries WHERE 1=1`,
		nil,
		paperMode,
	)

	var s models.JournalStats
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&s.TotalEntries, &s.BuyCount, &s.SellCount, &s.FailCount,
		&s.NativeVolume, &s.RealizedPnL, &s.FirstEntry, &s.LastEntry,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountToday counts confirmed trades in the current trading day.
func (r *JournalRepo) CountToday(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM journal_entries
		 WHERE trading_day = $1 AND action IN ('BUY','SELL')`,
		TradingDayNow(),
	).Scan(&count)
	return count, err
}

// buildFilteredQuery appends an is_paper clause when paperMode is non-nil.
func buildFilteredQuery(baseQuery string, baseArgs []any, paperMode *bool) (string, []any) {
	if paperMode == nil {
		return baseQuery, baseArgs
	}
	args := append(baseArgs, *paperMode)
	return baseQuery + fmt.Sprintf(" AND is_paper = $%d", len(args)), args
}

// --- scan helpers ---

func scanEntry(row scannable) (models.JournalEntry, error) {
	var e models.JournalEntry
	var td time.Time
	var action string
	err := row.Scan(
		&e.ID, &e.Timestamp, &td, &e.Agent, &e.Asset, &e.Ticker, &action, &e.Reason,
		&e.NativeAmount, &e.Tokens, &e.TxRef, &e.Venue, &e.Attempt, &e.RealizedPnL, &e.Paper,
	)
	if err != nil {
		return e, err
	}
	e.Action = models.Action(action)
	e.TradingDay = td.Format("2006-01-02")
	return e, nil
}

func collectEntries(rows rowsIter) ([]models.JournalEntry, error) {
	var out []models.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
