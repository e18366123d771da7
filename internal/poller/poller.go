package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/shardgate/internal/api"
	"github.com/rickgao/shardgate/internal/connection"
	"github.com/rickgao/shardgate/internal/metrics"
)

// MetadataSource provides gateway metadata. *api.Client satisfies it.
type MetadataSource interface {
	GetGatewayBot(ctx context.Context) (*api.GatewayBot, error)
}

// ShardView is the part of a shard the poller inspects.
type ShardView interface {
	Identity() connection.Identity
	State() connection.State
	LastHeartbeatAck() time.Time
	OpenedAt() time.Time
}

// ShardSource lists the shards to inspect.
type ShardSource interface {
	Shards() []ShardView
}

// RegistrySource adapts a shard registry to ShardSource.
func RegistrySource(r *connection.Registry) ShardSource {
	return registrySource{r}
}

type registrySource struct {
	r *connection.Registry
}

func (s registrySource) Shards() []ShardView {
	all := s.r.All()
	views := make([]ShardView, len(all))
	for i, sh := range all {
		views[i] = sh
	}
	return views
}

// Result summarizes one poll.
type Result struct {
	Info    *api.GatewayBot // nil if the metadata request failed
	Running int             // Active shards
	Stale   []int           // Indices of active shards missing ACKs
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 10m)
	Timeout  time.Duration // Metadata request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Poller periodically checks gateway metadata and shard heartbeat health.
type Poller struct {
	cfg    Config
	source MetadataSource
	shards ShardSource
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source MetadataSource, shards ShardSource, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:    cfg,
		source: source,
		shards: shards,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("gateway poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("gateway poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll(p.ctx)
		}
	}
}

// poll runs one check and publishes the results as metrics.
func (p *Poller) poll(ctx context.Context) Result {
	var res Result

	for _, s := range p.shards.Shards() {
		if s.State() != connection.StateActive {
			continue
		}
		res.Running++
		if p.stale(s) {
			res.Stale = append(res.Stale, s.Identity().ShardIndex)
		}
	}
	metrics.StaleShards.Set(float64(len(res.Stale)))
	if len(res.Stale) > 0 {
		p.logger.Warn("shards missing heartbeat acks", "shards", res.Stale)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	info, err := p.source.GetGatewayBot(reqCtx)
	if err != nil {
		p.logger.Warn("failed to poll gateway metadata", "error", err)
		return res
	}
	res.Info = info

	metrics.SessionStartsRemaining.Set(float64(info.SessionStartLimit.Remaining))
	metrics.RecommendedShards.Set(float64(info.Shards))
	if info.Shards > res.Running {
		p.logger.Warn("gateway recommends more shards than are running",
			"recommended", info.Shards,
			"running", res.Running,
		)
	}

	p.logger.Debug("poll cycle complete",
		"running", res.Running,
		"stale", len(res.Stale),
		"session_starts_remaining", info.SessionStartLimit.Remaining,
	)
	return res
}

// stale reports whether a shard has gone two intervals without an ACK,
// counting from the handshake when no ACK has arrived yet.
func (p *Poller) stale(s ShardView) bool {
	interval := s.Identity().HeartbeatInterval
	if interval <= 0 {
		return false
	}
	last := s.LastHeartbeatAck()
	if opened := s.OpenedAt(); last.Before(opened) {
		last = opened
	}
	if last.IsZero() {
		return false
	}
	return p.now().Sub(last) > 2*interval
}
