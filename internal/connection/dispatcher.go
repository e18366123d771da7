package connection

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/shardgate/internal/gateway"
	"github.com/rickgao/shardgate/internal/metrics"
)

// outboundFrame is a serialized command waiting for the writer.
type outboundFrame struct {
	op   gateway.Opcode
	data []byte
}

func newSendLimiter(limit int, window time.Duration) *rate.Limiter {
	if limit < 1 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}

// dispatch is the single consumer of the command queue. Commands are
// serialized in arrival order and handed to the writer over an unbuffered
// channel, so frames reach the wire in the order they were queued.
func (s *Shard) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			data, err := cmd.Marshal()
			if err != nil {
				s.logger.Warn("dropping command", "op", cmd.Opcode(), "error", err)
				continue
			}
			select {
			case s.frames <- outboundFrame{op: cmd.Opcode(), data: data}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// write owns the write half of the connection. A write failure ends the shard.
func (s *Shard) write(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.frames:
			if err := s.limiter.Wait(ctx); err != nil {
				if stopped(ctx, err) {
					return nil
				}
				return fmt.Errorf("send limiter: %w", err)
			}
			if err := s.conn.WriteMessage(f.data); err != nil {
				if stopped(ctx, err) {
					return nil
				}
				return fmt.Errorf("write %s: %w", f.op, err)
			}
			if f.op == gateway.OpHeartbeat {
				metrics.HeartbeatsSent.WithLabelValues(s.label).Inc()
			}
			s.logger.Debug("frame sent", "op", f.op, "bytes", len(f.data))
		}
	}
}
