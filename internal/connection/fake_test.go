package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/shardgate/internal/gateway"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. Frames pushed to in are returned by
// ReadMessage; every written frame is delivered on writes.
type fakeConn struct {
	in     chan []byte
	errs   chan error
	writes chan []byte

	writeDelay time.Duration
	inWrite    atomic.Int32
	overlapped atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		errs:   make(chan error, 1),
		writes: make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func newHelloConn(intervalMS uint64) *fakeConn {
	c := newFakeConn()
	c.push(fmt.Sprintf(`{"op":10,"d":{"heartbeat_interval":%d}}`, intervalMS))
	return c
}

func (c *fakeConn) push(frame string) {
	c.in <- []byte(frame)
}

func (c *fakeConn) fail(err error) {
	c.errs <- err
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	if c.inWrite.Add(1) > 1 {
		c.overlapped.Store(true)
	}
	defer c.inWrite.Add(-1)

	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes <- buf
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out connections built by newConn, in dial order.
type fakeDialer struct {
	mu      sync.Mutex
	newConn func(n int) (*fakeConn, error)
	conns   []*fakeConn
	urls    []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.urls)
	d.urls = append(d.urls, url)
	c, err := d.newConn(n)
	if err != nil {
		return nil, err
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(n int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[n]
}

func helloDialer(intervalMS uint64) *fakeDialer {
	return &fakeDialer{newConn: func(int) (*fakeConn, error) {
		return newHelloConn(intervalMS), nil
	}}
}

// nextFrame waits for the next written frame and decodes it.
func nextFrame(t *testing.T, c *fakeConn, timeout time.Duration) gateway.Frame {
	t.Helper()
	select {
	case data := <-c.writes:
		f, err := gateway.DecodeFrame(data)
		if err != nil {
			t.Fatalf("written frame %q does not decode: %v", data, err)
		}
		return f
	case <-time.After(timeout):
		t.Fatalf("no frame written within %v", timeout)
		return gateway.Frame{}
	}
}

// nextHeartbeat skips frames until a heartbeat is written.
func nextHeartbeat(t *testing.T, c *fakeConn, timeout time.Duration) gateway.Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		f := nextFrame(t, c, time.Until(deadline))
		if f.Op == gateway.OpHeartbeat {
			return f
		}
	}
}

func testShardConfig() ShardConfig {
	return ShardConfig{
		Index:            0,
		Total:            1,
		URL:              "wss://gateway.test/?v=10&encoding=json",
		Token:            "test-token",
		Intents:          gateway.NewIntents(gateway.IntentGuilds, gateway.IntentGuildMessages),
		Properties:       gateway.IdentifyProperties{OS: "linux", Browser: "shardgate", Device: "shardgate"},
		HandshakeTimeout: time.Second,
		CommandBuffer:    32,
		EventBuffer:      64,
		Jitter:           func() float64 { return 0.999 },
	}
}

func openTestShard(t *testing.T, c *fakeConn, cfg ShardConfig) *Shard {
	t.Helper()
	s, err := OpenShard(context.Background(), &fakeDialer{newConn: func(int) (*fakeConn, error) { return c, nil }}, cfg, nil)
	if err != nil {
		t.Fatalf("OpenShard failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func closeError(code int) error {
	return &websocket.CloseError{Code: code, Text: "closed by test"}
}
