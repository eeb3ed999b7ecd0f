package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS journal_entries (
	id            UUID PRIMARY KEY,
	timestamp     TIMESTAMPTZ NOT NULL,
	trading_day   DATE NOT NULL,
	agent         TEXT NOT NULL,
	asset         TEXT NOT NULL,
	ticker        TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	native_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	tokens        BIGINT NOT NULL DEFAULT 0,
	tx_ref        TEXT NOT NULL DEFAULT '',
	venue         TEXT NOT NULL DEFAULT '',
	attempt       INT NOT NULL DEFAULT 0,
	realized_pnl  DOUBLE PRECISION,
	is_paper      BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS journal_entries_agent_idx ON journal_entries (agent, timestamp DESC);
CREATE INDEX IF NOT EXISTS journal_entries_day_idx ON journal_entries (trading_day);

CREATE TABLE IF NOT EXISTS position_snapshots (
	id             SERIAL PRIMARY KEY,
	book           JSONB NOT NULL,
	open_positions INT NOT NULL DEFAULT 0,
	is_active      BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the mirror tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("repository: ensure schema: %w", err)
	}
	return nil
}
