package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/rickgao/shardgate/internal/gateway"
)

// State is a shard's position in its lifecycle.
type State string

const (
	StateConnecting  State = "connecting"
	StateAwaitHello  State = "await_hello"
	StateIdentifying State = "identifying"
	StateActive      State = "active"
	StateFailed      State = "failed"
	StateDead        State = "dead"
)

type readResult struct {
	data []byte
	err  error
}

// awaitHello reads the first frame and returns the heartbeat interval it announces.
// On timeout or cancellation the connection is closed to unblock the pending read.
func awaitHello(ctx context.Context, conn Conn, shard int, timeout time.Duration) (time.Duration, error) {
	result := make(chan readResult, 1)
	go func() {
		data, err := conn.ReadMessage()
		result <- readResult{data: data, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var r readResult
	select {
	case r = <-result:
	case <-expired:
		conn.Close()
		return 0, &HandshakeError{Shard: shard, State: StateAwaitHello, Err: ErrHandshakeTimeout}
	case <-ctx.Done():
		conn.Close()
		return 0, &HandshakeError{Shard: shard, State: StateAwaitHello, Err: ctx.Err()}
	}

	if r.err != nil {
		if code := closeCode(r.err); code == gateway.CloseAuthenticationFailed {
			return 0, &AuthError{Shard: shard, Code: code, Err: r.err}
		}
		return 0, &HandshakeError{Shard: shard, State: StateAwaitHello, Err: fmt.Errorf("read hello: %w", r.err)}
	}

	frame, err := gateway.DecodeFrame(r.data)
	if err != nil {
		return 0, &HandshakeError{Shard: shard, State: StateAwaitHello, Err: err}
	}
	if frame.Op != gateway.OpHello {
		return 0, &HandshakeError{
			Shard: shard,
			State: StateAwaitHello,
			Err:   fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedOpcode, gateway.OpHello, frame.Op),
		}
	}

	hello, err := gateway.DecodePayload[gateway.HelloData](frame)
	if err != nil {
		return 0, &HandshakeError{Shard: shard, State: StateAwaitHello, Err: err}
	}
	if hello.HeartbeatInterval == 0 {
		return 0, &HandshakeError{Shard: shard, State: StateAwaitHello, Err: ErrInvalidHeartbeat}
	}

	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}
