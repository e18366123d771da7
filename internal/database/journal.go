package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/shardgate/internal/connection"
)

const createShardStates = `
CREATE TABLE IF NOT EXISTS shard_states (
	id          BIGSERIAL PRIMARY KEY,
	conn_id     UUID,
	shard_index INTEGER NOT NULL,
	shard_total INTEGER NOT NULL,
	state       TEXT NOT NULL,
	sequence    BIGINT NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS shard_states_shard_idx ON shard_states (shard_index, recorded_at DESC)`

const insertShardState = `
INSERT INTO shard_states (conn_id, shard_index, shard_total, state, sequence, reason, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal records shard lifecycle transitions in the shard_states table.
type Journal struct {
	db     Execer
	logger *slog.Logger
}

// NewJournal creates a journal writing through db.
func NewJournal(db Execer, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}
}

// EnsureSchema creates the shard_states table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, createShardStates); err != nil {
		return fmt.Errorf("create shard_states: %w", err)
	}
	return nil
}

// RecordShardState inserts one transition.
func (j *Journal) RecordShardState(ctx context.Context, st connection.ShardState) error {
	var connID any
	if st.ConnID != uuid.Nil {
		connID = st.ConnID.String()
	}

	_, err := j.db.Exec(ctx, insertShardState,
		connID,
		st.Index,
		st.Total,
		string(st.State),
		int64(st.Sequence),
		st.Reason,
		st.At,
	)
	if err != nil {
		return fmt.Errorf("insert shard state: %w", err)
	}

	j.logger.Debug("shard state recorded", "shard", st.Index, "state", st.State)
	return nil
}
