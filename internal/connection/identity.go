package connection

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Identity describes one shard's session. It is fixed after Hello except
// for the sequence number, which is shared by every copy and written only
// by the shard's receiver.
type Identity struct {
	ConnID            uuid.UUID
	ShardIndex        int
	ShardTotal        int
	HeartbeatInterval time.Duration

	sequence *atomic.Uint64
}

func newIdentity(index, total int, interval time.Duration) Identity {
	return Identity{
		ConnID:            uuid.New(),
		ShardIndex:        index,
		ShardTotal:        total,
		HeartbeatInterval: interval,
		sequence:          new(atomic.Uint64),
	}
}

// Sequence returns the last sequence number seen, or 0 if none yet.
func (id Identity) Sequence() uint64 {
	if id.sequence == nil {
		return 0
	}
	return id.sequence.Load()
}

func (id Identity) setSequence(seq uint64) {
	id.sequence.Store(seq)
}

// Shard returns the [index, total] pair sent in Identify.
func (id Identity) Shard() [2]int {
	return [2]int{id.ShardIndex, id.ShardTotal}
}
