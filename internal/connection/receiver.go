package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/rickgao/shardgate/internal/gateway"
	"github.com/rickgao/shardgate/internal/metrics"
)

// Event is an inbound frame tagged with the shard it arrived on.
type Event struct {
	Shard      int
	Frame      gateway.Frame
	ReceivedAt time.Time // Local timestamp when ReadMessage returned
}

// receive reads frames until the connection closes. Malformed frames are
// skipped; a transport error ends the shard.
func (s *Shard) receive(ctx context.Context) error {
	for {
		data, err := s.conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			if stopped(ctx, err) {
				return nil
			}
			return s.readError(err)
		}

		frame, err := gateway.DecodeFrame(data)
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(s.label).Inc()
			s.logger.Warn("skipping malformed frame", "error", err, "bytes", len(data))
			continue
		}

		if frame.Sequence != nil {
			s.identity.setSequence(*frame.Sequence)
		}
		metrics.EventsReceived.WithLabelValues(s.label, frame.Op.String()).Inc()

		switch frame.Op {
		case gateway.OpHeartbeat:
			select {
			case s.beatNow <- struct{}{}:
			default:
			}
		case gateway.OpHeartbeatACK:
			s.lastAck.Store(receivedAt.UnixNano())
			metrics.HeartbeatAcks.WithLabelValues(s.label).Inc()
		case gateway.OpReconnect, gateway.OpInvalidSession:
			s.logger.Warn("gateway requested a new session", "op", frame.Op)
		}

		s.events.publish(Event{Shard: s.identity.ShardIndex, Frame: frame, ReceivedAt: receivedAt})
	}
}

func (s *Shard) readError(err error) error {
	code := closeCode(err)
	if code == gateway.CloseAuthenticationFailed {
		return &AuthError{Shard: s.identity.ShardIndex, Code: code, Err: err}
	}
	if code != 0 {
		return fmt.Errorf("gateway closed connection: %s: %w", gateway.CloseReason(code), err)
	}
	return fmt.Errorf("read: %w", err)
}
