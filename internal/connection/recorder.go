package connection

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ShardState is one lifecycle transition of a shard.
type ShardState struct {
	ConnID   uuid.UUID // uuid.Nil when the shard never completed Hello
	Index    int
	Total    int
	State    State
	Sequence uint64
	Reason   string
	At       time.Time
}

// StateRecorder persists shard lifecycle transitions.
type StateRecorder interface {
	RecordShardState(ctx context.Context, st ShardState) error
}

type nopRecorder struct{}

func (nopRecorder) RecordShardState(context.Context, ShardState) error { return nil }
