package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/shardgate/internal/api"
	"github.com/rickgao/shardgate/internal/gateway"
	"github.com/rickgao/shardgate/internal/metrics"
)

// Policy decides how many shards to run. The zero value is an invalid fixed count.
type Policy struct {
	automatic bool
	count     int
}

// Automatic uses the shard count recommended by the gateway.
func Automatic() Policy {
	return Policy{automatic: true}
}

// Fixed runs exactly n shards.
func Fixed(n int) Policy {
	return Policy{count: n}
}

// Resolve returns the shard count to run given the recommended count.
func (p Policy) Resolve(recommended int) (int, error) {
	if p.automatic {
		if recommended < 1 {
			return 1, nil
		}
		return recommended, nil
	}
	if p.count < 1 {
		return 0, &ConfigError{Field: "shard count", Err: ErrInvalidShardCount}
	}
	return p.count, nil
}

func (p Policy) String() string {
	if p.automatic {
		return "automatic"
	}
	return "fixed(" + strconv.Itoa(p.count) + ")"
}

// ManagerConfig configures the shard manager.
type ManagerConfig struct {
	Token            string
	Intents          gateway.Intents
	Properties       gateway.IdentifyProperties
	GatewayVersion   int           // Protocol version in the connect URL
	BucketCooldown   time.Duration // Wait between session-start buckets
	HandshakeTimeout time.Duration // Max wait for Hello per shard
	CommandBuffer    int           // Command queue capacity per shard
	EventBuffer      int           // Buffer per event subscriber
	SendLimit        int           // Outbound frames per SendWindow per shard
	SendWindow       time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		GatewayVersion:   10,
		BucketCooldown:   5 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		CommandBuffer:    32,
		EventBuffer:      64,
		SendLimit:        120,
		SendWindow:       60 * time.Second,
	}
}

// ShardFailure records a shard that failed to open or died while running.
type ShardFailure struct {
	Index int
	Stage string // One of the metrics.Stage* values
	Err   error
	At    time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder persists shard lifecycle transitions.
func WithRecorder(r StateRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithSleep replaces the bucket cooldown wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// WithJitter sets the first-heartbeat jitter source for every shard.
func WithJitter(jitter func() float64) Option {
	return func(m *Manager) {
		m.jitter = jitter
	}
}

// recordTimeout bounds a single state recorder call.
const recordTimeout = 5 * time.Second

// Manager opens and tracks the shards of one bot.
type Manager struct {
	cfg      ManagerConfig
	dialer   Dialer
	logger   *slog.Logger
	recorder StateRecorder
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func() float64

	registry *Registry

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	abort     context.CancelCauseFunc
	startDone chan struct{}
	startErr  error
	failures  []ShardFailure
	watchers  sync.WaitGroup
}

// NewManager creates a shard manager.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GatewayVersion == 0 {
		cfg.GatewayVersion = 10
	}

	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		logger:    logger,
		recorder:  nopRecorder{},
		sleep:     sleepContext,
		registry:  NewRegistry(),
		startDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start validates the policy and begins opening shards in the background.
// The returned registry fills as shards become active.
// Shards stay open until Stop is called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context, policy Policy, info *api.GatewayBot) (*Registry, error) {
	if info == nil {
		return nil, &ConfigError{Field: "gateway metadata", Err: errors.New("missing")}
	}

	total, err := policy.Resolve(info.Shards)
	if err != nil {
		return nil, err
	}

	connectURL, err := buildConnectURL(info.URL, m.cfg.GatewayVersion)
	if err != nil {
		return nil, &ConfigError{Field: "gateway url", Err: err}
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	startCtx, abort := context.WithCancelCause(runCtx)
	m.cancel = cancel
	m.abort = abort
	m.mu.Unlock()

	bucket := info.SessionStartLimit.MaxConcurrency
	if bucket < 1 {
		bucket = 1
	}
	if limit := info.SessionStartLimit; limit.Total > 0 && limit.Remaining < total {
		m.logger.Warn("not enough session starts remaining",
			"remaining", limit.Remaining,
			"shards", total,
			"reset_after", limit.ResetAfterDuration(),
		)
	}

	metrics.ShardsTotal.Set(float64(total))
	m.logger.Info("starting shards",
		"policy", policy,
		"shards", total,
		"max_concurrency", bucket,
		"url", connectURL,
	)

	go func() {
		defer close(m.startDone)
		err := m.run(runCtx, startCtx, connectURL, total, bucket)
		abort(nil)
		m.mu.Lock()
		m.startErr = err
		m.mu.Unlock()
	}()

	return m.registry, nil
}

// run opens shards in index order, one bucket at a time.
// Shards live on ctx; startCtx is cancelled early when an opened shard is
// rejected by the gateway, with the rejection as its cause.
func (m *Manager) run(ctx, startCtx context.Context, connectURL string, total, bucket int) error {
	for i := 0; i < total; i++ {
		if i > 0 && i%bucket == 0 {
			metrics.BucketWaits.Inc()
			m.logger.Debug("waiting for bucket cooldown", "next_shard", i, "cooldown", m.cfg.BucketCooldown)
			if err := m.sleep(startCtx, m.cfg.BucketCooldown); err != nil {
				return startupErr(startCtx, err)
			}
		}
		if startCtx.Err() != nil {
			return context.Cause(startCtx)
		}

		shard, err := OpenShard(ctx, m.dialer, m.shardConfig(i, total, connectURL), m.logger)
		if err != nil {
			m.fail(i, total, err)

			var authErr *AuthError
			if errors.As(err, &authErr) {
				m.logger.Error("gateway rejected token, aborting startup", "shard", i, "error", err)
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		if err := m.registry.Insert(i, shard); err != nil {
			shard.Close()
			m.fail(i, total, err)
			continue
		}

		m.record(ShardState{
			ConnID:   shard.identity.ConnID,
			Index:    i,
			Total:    total,
			State:    StateActive,
			Sequence: shard.identity.Sequence(),
		})
		m.watch(shard)
		m.updateStatus()
	}

	if startCtx.Err() != nil {
		return context.Cause(startCtx)
	}
	m.logger.Info("shard startup complete", "active", m.registry.Len(), "shards", total)
	return nil
}

func (m *Manager) shardConfig(index, total int, connectURL string) ShardConfig {
	return ShardConfig{
		Index:            index,
		Total:            total,
		URL:              connectURL,
		Token:            m.cfg.Token,
		Intents:          m.cfg.Intents,
		Properties:       m.cfg.Properties,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		CommandBuffer:    m.cfg.CommandBuffer,
		EventBuffer:      m.cfg.EventBuffer,
		SendLimit:        m.cfg.SendLimit,
		SendWindow:       m.cfg.SendWindow,
		Jitter:           m.jitter,
	}
}

// watch records the shard's death once its loops exit.
func (m *Manager) watch(shard *Shard) {
	m.watchers.Add(1)
	go func() {
		defer m.watchers.Done()
		<-shard.Done()

		id := shard.Identity()
		st := ShardState{
			ConnID:   id.ConnID,
			Index:    id.ShardIndex,
			Total:    id.ShardTotal,
			State:    StateDead,
			Sequence: id.Sequence(),
		}
		if err := shard.Err(); err != nil {
			st.Reason = err.Error()
			m.addFailure(id.ShardIndex, err)
			shard.logger.Error("shard died", "error", err, "sequence", st.Sequence)

			var authErr *AuthError
			if errors.As(err, &authErr) {
				m.abortStartup(err)
			}
		} else {
			shard.logger.Info("shard closed", "sequence", st.Sequence)
		}

		m.record(st)
		m.updateStatus()
	}()
}

// abortStartup stops opening further shards. It has no effect once startup
// has finished.
func (m *Manager) abortStartup(err error) {
	m.mu.Lock()
	abort := m.abort
	m.mu.Unlock()

	select {
	case <-m.startDone:
		return
	default:
	}
	m.logger.Error("gateway rejected token, aborting startup", "error", err)
	abort(err)
}

// startupErr prefers the abort cause over the error returned by a wait on startCtx.
func startupErr(startCtx context.Context, err error) error {
	if startCtx.Err() != nil {
		return context.Cause(startCtx)
	}
	return err
}

func (m *Manager) fail(index, total int, err error) {
	m.addFailure(index, err)
	m.logger.Warn("shard failed to open", "shard", index, "error", err)
	m.record(ShardState{
		Index:  index,
		Total:  total,
		State:  StateFailed,
		Reason: err.Error(),
	})
}

func (m *Manager) addFailure(index int, err error) {
	stage := failureStage(err)
	metrics.ShardFailures.WithLabelValues(stage).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, ShardFailure{
		Index: index,
		Stage: stage,
		Err:   err,
		At:    time.Now(),
	})
}

// record writes st to the recorder on its own context so transitions are
// kept after the startup context is cancelled.
func (m *Manager) record(st ShardState) {
	if st.At.IsZero() {
		st.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.RecordShardState(ctx, st); err != nil {
		m.logger.Warn("failed to record shard state", "shard", st.Index, "state", st.State, "error", err)
	}
}

func (m *Manager) updateStatus() {
	counts := make(map[string]int)
	for _, s := range m.registry.All() {
		counts[string(s.State())]++
	}
	metrics.SetShardStatuses(counts)
}

// Registry returns the shard registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Failures returns every shard failure recorded so far.
func (m *Manager) Failures() []ShardFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ShardFailure, len(m.failures))
	copy(out, m.failures)
	return out
}

// Wait blocks until the startup sequence has finished and returns the
// error that aborted it, if any.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-m.startDone:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.startErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels startup, closes every shard and waits for their loops to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	started, cancel := m.started, m.cancel
	m.mu.Unlock()
	if !started {
		return nil
	}

	cancel()

	done := make(chan struct{})
	go func() {
		<-m.startDone
		for _, s := range m.registry.All() {
			<-s.Done()
		}
		m.watchers.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all shards stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop shards: %w", ctx.Err())
	}
}

func failureStage(err error) string {
	var (
		authErr      *AuthError
		connectErr   *ConnectError
		handshakeErr *HandshakeError
	)
	switch {
	case errors.As(err, &authErr):
		return metrics.StageAuth
	case errors.As(err, &connectErr):
		return metrics.StageConnect
	case errors.As(err, &handshakeErr):
		return metrics.StageHandshake
	default:
		return metrics.StageRuntime
	}
}

// buildConnectURL appends the protocol version and encoding to the gateway URL.
func buildConnectURL(raw string, version int) (string, error) {
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(version))
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
