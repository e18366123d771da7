package connection

import (
	"context"
	"time"

	"github.com/rickgao/shardgate/internal/gateway"
)

// heartbeat submits a Heartbeat carrying the latest sequence once every
// interval. The first beat fires after a random fraction of the interval.
// A heartbeat request from the gateway triggers an immediate beat.
func (s *Shard) heartbeat(ctx context.Context) error {
	interval := s.identity.HeartbeatInterval
	timer := time.NewTimer(firstBeatDelay(interval, s.jitter()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.beatNow:
			timer.Stop()
		}

		seq := s.identity.Sequence()
		if err := s.submit(ctx, gateway.NewHeartbeat(seq)); err != nil {
			return nil
		}
		s.logger.Debug("heartbeat queued", "sequence", seq)

		timer.Reset(interval)
	}
}

func firstBeatDelay(interval time.Duration, jitter float64) time.Duration {
	if jitter < 0 || jitter >= 1 {
		jitter = 0
	}
	return time.Duration(float64(interval) * jitter)
}
