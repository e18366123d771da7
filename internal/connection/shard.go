package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/shardgate/internal/gateway"
	"github.com/rickgao/shardgate/internal/metrics"
)

// ShardConfig configures a single shard.
type ShardConfig struct {
	Index            int
	Total            int
	URL              string // Fully built gateway URL including query
	Token            string
	Intents          gateway.Intents
	Properties       gateway.IdentifyProperties
	HandshakeTimeout time.Duration // Max wait for Hello (0 = no limit)
	CommandBuffer    int           // Command queue capacity
	EventBuffer      int           // Per-subscriber event buffer
	SendLimit        int           // Frames allowed per SendWindow
	SendWindow       time.Duration
	Jitter           func() float64 // Fraction of the interval before the first beat; nil uses rand
}

// DefaultShardConfig returns sensible defaults.
func DefaultShardConfig() ShardConfig {
	return ShardConfig{
		Total:            1,
		HandshakeTimeout: 30 * time.Second,
		CommandBuffer:    32,
		EventBuffer:      64,
		SendLimit:        120,
		SendWindow:       60 * time.Second,
	}
}

// Shard is an active gateway session. All methods are safe for concurrent use.
type Shard struct {
	identity Identity
	logger   *slog.Logger
	label    string

	conn     Conn
	commands chan gateway.Command
	frames   chan outboundFrame
	beatNow  chan struct{}
	limiter  *rate.Limiter
	jitter   func() float64
	events   *broadcaster

	openedAt time.Time
	lastAck  atomic.Int64 // Unix nanos of the last heartbeat ACK

	ctx    context.Context // Cancelled when any loop fails or the shard is closed
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// OpenShard connects, waits for Hello, queues Identify and starts the shard loops.
// ctx bounds the handshake and the lifetime of the shard.
func OpenShard(ctx context.Context, dialer Dialer, cfg ShardConfig, logger *slog.Logger) (*Shard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Total < 1 {
		return nil, &ConfigError{Field: "shard total", Err: ErrInvalidShardCount}
	}
	if cfg.Index < 0 || cfg.Index >= cfg.Total {
		return nil, &ConfigError{Field: "shard index", Err: fmt.Errorf("%d out of range [0, %d)", cfg.Index, cfg.Total)}
	}
	if cfg.CommandBuffer < 1 {
		cfg.CommandBuffer = 1
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 1
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Float64
	}

	logger = logger.With("shard", cfg.Index)
	logger.Debug("shard state", "state", StateConnecting, "url", cfg.URL)

	conn, err := dialer.Dial(ctx, cfg.URL)
	if err != nil {
		return nil, &ConnectError{Shard: cfg.Index, URL: cfg.URL, Err: err}
	}

	logger.Debug("shard state", "state", StateAwaitHello)
	interval, err := awaitHello(ctx, conn, cfg.Index, cfg.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	identity := newIdentity(cfg.Index, cfg.Total, interval)
	logger = logger.With("conn_id", identity.ConnID)
	logger.Debug("shard state", "state", StateIdentifying, "heartbeat_interval", interval)

	s := &Shard{
		identity: identity,
		logger:   logger,
		label:    metrics.ShardLabel(cfg.Index),
		conn:     conn,
		commands: make(chan gateway.Command, cfg.CommandBuffer),
		frames:   make(chan outboundFrame),
		beatNow:  make(chan struct{}, 1),
		limiter:  newSendLimiter(cfg.SendLimit, cfg.SendWindow),
		jitter:   cfg.Jitter,
		openedAt: time.Now(),
		done:     make(chan struct{}),
	}
	s.events = newBroadcaster(cfg.EventBuffer, func() {
		metrics.DroppedEvents.WithLabelValues(s.label).Inc()
	})

	// Identify is first on the wire: the queue is empty and nothing consumes it yet.
	s.commands <- gateway.Identify{Data: gateway.IdentifyData{
		Token:      cfg.Token,
		Properties: cfg.Properties,
		Shard:      identity.Shard(),
		Intents:    cfg.Intents,
	}}

	shardCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(shardCtx)
	s.ctx = gctx
	s.cancel = cancel

	g.Go(func() error { return s.dispatch(gctx) })
	g.Go(func() error { return s.write(gctx) })
	g.Go(func() error { return s.heartbeat(gctx) })
	g.Go(func() error { return s.receive(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.conn.Close()
		return nil
	})

	go func() {
		err := g.Wait()
		cancel()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.events.close()
		close(s.done)
	}()

	logger.Info("shard active", "heartbeat_interval", interval)
	return s, nil
}

// Identity returns a copy of the shard's identity. The copy observes sequence updates.
func (s *Shard) Identity() Identity {
	return s.identity
}

// Send queues a command. It blocks while the queue is full and fails with
// ErrChannelClosed once the shard has stopped.
func (s *Shard) Send(ctx context.Context, cmd gateway.Command) error {
	if s.ctx.Err() != nil {
		return ErrChannelClosed
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.ctx.Done():
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a new event subscriber. Events received before the
// call are not replayed.
func (s *Shard) Subscribe() *Subscription {
	return s.events.subscribe()
}

// LastHeartbeatAck returns when the gateway last acknowledged a heartbeat.
func (s *Shard) LastHeartbeatAck() time.Time {
	ns := s.lastAck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// OpenedAt returns when the shard completed its handshake.
func (s *Shard) OpenedAt() time.Time {
	return s.openedAt
}

// Done is closed once every shard loop has exited.
func (s *Shard) Done() <-chan struct{} {
	return s.done
}

// Err reports why the shard stopped. It is nil while the shard runs and
// after a requested shutdown.
func (s *Shard) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State reports whether the shard is still active.
func (s *Shard) State() State {
	select {
	case <-s.done:
		return StateDead
	default:
		return StateActive
	}
}

// Close stops the shard and waits for its loops to exit.
func (s *Shard) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// submit queues a command from inside the shard's own loops.
func (s *Shard) submit(ctx context.Context, cmd gateway.Command) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ErrChannelClosed
	}
}

// stopped reports whether a loop error was caused by shutdown rather than a failure.
func stopped(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
