package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-swarm/internal/models"
)

// Snapshot is one stored copy of the full position book.
type Snapshot struct {
	ID            int                 `json:"id"`
	Book          models.PositionBook `json:"book"`
	OpenPositions int                 `json:"openPositions"`
	IsActive      bool                `json:"isActive"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// SnapshotRepo keeps a queryable history of the position book. The local
// positions file stays authoritative; this is an operator-facing copy.
type SnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

func (r *SnapshotRepo) GetActive(ctx context.Context) (*Snapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, book, open_positions, is_active, created_at, updated_at
		 FROM position_snapshots WHERE is_active = true ORDER BY updated_at DESC LIMIT 1`,
	)
	s, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Save deactivates the current snapshot and inserts book as the new active one.
func (r *SnapshotRepo) Save(ctx context.Context, book models.PositionBook) (*Snapshot, error) {
	raw, err := json.Marshal(book)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal book: %w", err)
	}
	open := 0
	for _, assets := range book {
		open += len(assets)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE position_snapshots SET is_active = false WHERE is_active = true`); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO position_snapshots (book, open_positions, is_active, updated_at)
		 VALUES ($1, $2, true, NOW())
		 RETURNING id, book, open_positions, is_active, created_at, updated_at`,
		raw, open,
	)
	s, err := scanSnapshot(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SnapshotRepo) GetHistory(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, book, open_positions, is_active, created_at, updated_at
		 FROM position_snapshots ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSnapshot(row scannable) (*Snapshot, error) {
	var s Snapshot
	var raw []byte
	if err := row.Scan(&s.ID, &raw, &s.OpenPositions, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.Book); err != nil {
		return nil, fmt.Errorf("repository: decode book: %w", err)
	}
	return &s, nil
}

// Persist saves book and discards the stored row.
func (r *SnapshotRepo) Persist(ctx context.Context, book models.PositionBook) error {
	_, err := r.Save(ctx, book)
	return err
}
