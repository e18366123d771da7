package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/shardgate/internal/api"
	"github.com/rickgao/shardgate/internal/gateway"
)

func gatewayInfo(shards, maxConcurrency int) *api.GatewayBot {
	return &api.GatewayBot{
		URL:    "wss://gateway.test",
		Shards: shards,
		SessionStartLimit: api.SessionStartLimit{
			Total:          1000,
			Remaining:      1000,
			ResetAfter:     86400000,
			MaxConcurrency: maxConcurrency,
		},
	}
}

// sleepRecorder replaces the bucket cooldown and notes how many shards had
// been dialed at each wait.
type sleepRecorder struct {
	mu     sync.Mutex
	dialer *fakeDialer
	at     []int
	waits  []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.at = append(r.at, r.dialer.dials())
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func (r *sleepRecorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.at...)
}

type memRecorder struct {
	mu     sync.Mutex
	states []ShardState
}

func (r *memRecorder) RecordShardState(ctx context.Context, st ShardState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	return nil
}

func (r *memRecorder) count(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st.State == state {
			n++
		}
	}
	return n
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.Token = "test-token"
	cfg.Intents = gateway.NewIntents(gateway.IntentGuilds)
	cfg.SendLimit = 0
	return cfg
}

func startManager(t *testing.T, d *fakeDialer, policy Policy, info *api.GatewayBot, opts ...Option) (*Manager, *Registry, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{dialer: d}
	opts = append([]Option{WithSleep(rec.sleep), WithJitter(func() float64 { return 0.999 })}, opts...)
	m := NewManager(testManagerConfig(), d, nil, opts...)

	reg, err := m.Start(context.Background(), policy, info)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m, reg, rec
}

func waitStartup(t *testing.T, m *Manager) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Wait(ctx)
}

func TestPolicy_Resolve(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		recommended int
		want        int
		wantErr     bool
	}{
		{"automatic", Automatic(), 7, 7, false},
		{"automatic zero recommendation", Automatic(), 0, 1, false},
		{"fixed", Fixed(3), 7, 3, false},
		{"fixed zero", Fixed(0), 7, 0, true},
		{"fixed negative", Fixed(-2), 7, 0, true},
		{"zero value", Policy{}, 7, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.policy.Resolve(tt.recommended)
			if tt.wantErr {
				var ce *ConfigError
				if !errors.As(err, &ce) || !errors.Is(err, ErrInvalidShardCount) {
					t.Errorf("Resolve() err = %v, want ConfigError wrapping ErrInvalidShardCount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestManager_FixedZeroDoesNotConnect(t *testing.T) {
	d := helloDialer(40000)
	m := NewManager(testManagerConfig(), d, nil)

	reg, err := m.Start(context.Background(), Fixed(0), gatewayInfo(4, 1))
	if reg != nil {
		t.Error("registry returned for invalid policy")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || !errors.Is(err, ErrInvalidShardCount) {
		t.Fatalf("Start() err = %v, want ConfigError wrapping ErrInvalidShardCount", err)
	}
	if d.dials() != 0 {
		t.Errorf("dials = %d, want 0", d.dials())
	}
}

func TestManager_Bucketing(t *testing.T) {
	tests := []struct {
		shards, bucket int
		wantWaitsAt    []int
	}{
		{1, 1, nil},
		{3, 1, []int{1, 2}},
		{4, 2, []int{2}},
		{5, 2, []int{2, 4}},
		{6, 16, nil},
		{7, 3, []int{3, 6}},
		{2, 0, []int{1}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d shards bucket %d", tt.shards, tt.bucket), func(t *testing.T) {
			d := helloDialer(40000)
			m, reg, rec := startManager(t, d, Automatic(), gatewayInfo(tt.shards, tt.bucket))

			if err := waitStartup(t, m); err != nil {
				t.Fatalf("Wait failed: %v", err)
			}

			got := rec.calls()
			if len(got) != len(tt.wantWaitsAt) {
				t.Fatalf("waits before shards %v, want %v", got, tt.wantWaitsAt)
			}
			for i := range got {
				if got[i] != tt.wantWaitsAt[i] {
					t.Errorf("waits before shards %v, want %v", got, tt.wantWaitsAt)
					break
				}
			}
			for _, w := range rec.waits {
				if w != 5*time.Second {
					t.Errorf("cooldown = %v, want 5s", w)
				}
			}

			if reg.Len() != tt.shards {
				t.Fatalf("registry has %d shards, want %d", reg.Len(), tt.shards)
			}
			// Shards are dialed in increasing index order.
			for n := 0; n < tt.shards; n++ {
				f := nextFrame(t, d.conn(n), time.Second)
				data, err := gateway.DecodePayload[gateway.IdentifyData](f)
				if err != nil {
					t.Fatalf("decode identify: %v", err)
				}
				if data.Shard != [2]int{n, tt.shards} {
					t.Errorf("dial %d identified as %v, want [%d %d]", n, data.Shard, n, tt.shards)
				}
			}
		})
	}
}

func TestManager_ThreeShardsOneConcurrency(t *testing.T) {
	d := helloDialer(40000)
	m, reg, rec := startManager(t, d, Fixed(3), gatewayInfo(1, 1))

	if err := waitStartup(t, m); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n := len(rec.calls()); n != 2 {
		t.Errorf("cooldown waits = %d, want 2", n)
	}
	for i := 0; i < 3; i++ {
		s, ok := reg.Get(i)
		if !ok {
			t.Fatalf("shard %d not registered", i)
		}
		if id := s.Identity(); id.ShardIndex != i || id.ShardTotal != 3 {
			t.Errorf("shard %d identity = [%d, %d]", i, id.ShardIndex, id.ShardTotal)
		}
	}
}

func TestManager_ConnectURL(t *testing.T) {
	d := helloDialer(40000)
	m, _, _ := startManager(t, d, Fixed(1), gatewayInfo(1, 1))
	if err := waitStartup(t, m); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	u, err := url.Parse(d.urls[0])
	if err != nil {
		t.Fatalf("parse dialed url: %v", err)
	}
	if u.Host != "gateway.test" {
		t.Errorf("host = %q, want gateway.test", u.Host)
	}
	if v := u.Query().Get("v"); v != "10" {
		t.Errorf("v = %q, want 10", v)
	}
	if enc := u.Query().Get("encoding"); enc != "json" {
		t.Errorf("encoding = %q, want json", enc)
	}
}

func TestManager_FailedShardDoesNotStopStartup(t *testing.T) {
	d := &fakeDialer{newConn: func(n int) (*fakeConn, error) {
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		return newHelloConn(40000), nil
	}}
	m, reg, _ := startManager(t, d, Fixed(3), gatewayInfo(3, 3))

	if err := waitStartup(t, m); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got := reg.Indices(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("Indices = %v, want [0 2]", got)
	}

	failures := m.Failures()
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if failures[0].Index != 1 || failures[0].Stage != "connect" {
		t.Errorf("failure = %+v, want shard 1 at connect", failures[0])
	}
}

func TestManager_AuthErrorAbortsStartup(t *testing.T) {
	d := &fakeDialer{newConn: func(n int) (*fakeConn, error) {
		if n == 1 {
			c := newFakeConn()
			c.fail(closeError(gateway.CloseAuthenticationFailed))
			return c, nil
		}
		return newHelloConn(40000), nil
	}}
	m, reg, _ := startManager(t, d, Fixed(4), gatewayInfo(4, 4))

	err := waitStartup(t, m)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Wait() err = %v, want AuthError", err)
	}
	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
	if reg.Len() != 1 {
		t.Errorf("registry has %d shards, want 1", reg.Len())
	}
}

func TestManager_AuthCloseAfterIdentifyAbortsStartup(t *testing.T) {
	d := helloDialer(40000)
	cooldown := func(ctx context.Context, _ time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	}
	m, reg, _ := startManager(t, d, Automatic(), gatewayInfo(3, 1), WithSleep(cooldown))

	deadline := time.Now().Add(time.Second)
	for d.dials() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.dials() == 0 {
		t.Fatal("shard 0 was never dialed")
	}
	c := d.conn(0)
	if f := nextFrame(t, c, time.Second); f.Op != gateway.OpIdentify {
		t.Fatalf("first frame op = %d, want identify", f.Op)
	}
	c.fail(closeError(gateway.CloseAuthenticationFailed))

	err := waitStartup(t, m)
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Wait() err = %v, want AuthError", err)
	}
	if ae.Shard != 0 {
		t.Errorf("AuthError shard = %d, want 0", ae.Shard)
	}
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1", d.dials())
	}
	if reg.Len() != 1 {
		t.Errorf("registry has %d shards, want 1", reg.Len())
	}
}

func TestManager_FailureRecordedAfterCancel(t *testing.T) {
	dialing := make(chan struct{})
	release := make(chan struct{})
	d := &fakeDialer{newConn: func(n int) (*fakeConn, error) {
		if n == 1 {
			close(dialing)
			<-release
			return nil, errors.New("dial aborted")
		}
		return newHelloConn(40000), nil
	}}
	journal := &memRecorder{}
	m := NewManager(testManagerConfig(), d, nil, WithRecorder(journal), WithJitter(func() float64 { return 0.999 }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := m.Start(ctx, Fixed(2), gatewayInfo(2, 2)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		m.Stop(stopCtx)
	})

	select {
	case <-dialing:
	case <-time.After(time.Second):
		t.Fatal("shard 1 was never dialed")
	}
	cancel()
	close(release)

	if err := waitStartup(t, m); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() err = %v, want context.Canceled", err)
	}
	if n := journal.count(StateFailed); n != 1 {
		t.Errorf("failed records = %d, want 1", n)
	}
}

func TestManager_StartTwice(t *testing.T) {
	d := helloDialer(40000)
	m, _, _ := startManager(t, d, Fixed(1), gatewayInfo(1, 1))

	if _, err := m.Start(context.Background(), Fixed(1), gatewayInfo(1, 1)); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() err = %v, want ErrAlreadyStarted", err)
	}
}

func TestManager_MissingMetadata(t *testing.T) {
	m := NewManager(testManagerConfig(), helloDialer(40000), nil)
	var ce *ConfigError
	if _, err := m.Start(context.Background(), Automatic(), nil); !errors.As(err, &ce) {
		t.Errorf("Start(nil) err = %v, want ConfigError", err)
	}
	if _, err := m.Start(context.Background(), Automatic(), &api.GatewayBot{Shards: 1}); !errors.As(err, &ce) {
		t.Errorf("Start(no url) err = %v, want ConfigError", err)
	}
}

func TestManager_StopRecordsStates(t *testing.T) {
	d := helloDialer(40000)
	journal := &memRecorder{}
	m, reg, _ := startManager(t, d, Fixed(2), gatewayInfo(2, 2), WithRecorder(journal))

	if err := waitStartup(t, m); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if n := journal.count(StateActive); n != 2 {
		t.Errorf("active records = %d, want 2", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	for _, s := range reg.All() {
		select {
		case <-s.Done():
		default:
			t.Errorf("shard %d still running after Stop", s.Identity().ShardIndex)
		}
	}
	for n := 0; n < 2; n++ {
		if !d.conn(n).isClosed() {
			t.Errorf("conn %d not closed", n)
		}
	}
	if n := journal.count(StateDead); n != 2 {
		t.Errorf("dead records = %d, want 2", n)
	}
	if len(m.Failures()) != 0 {
		t.Errorf("failures after clean stop = %v", m.Failures())
	}
}

func TestManager_ShardDeathIsRecorded(t *testing.T) {
	d := helloDialer(40000)
	journal := &memRecorder{}
	m, reg, _ := startManager(t, d, Fixed(2), gatewayInfo(2, 2), WithRecorder(journal))
	if err := waitStartup(t, m); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	d.conn(0).fail(closeError(gateway.CloseSessionTimedOut))
	s, _ := reg.Get(0)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("shard 0 did not stop")
	}

	deadline := time.Now().Add(time.Second)
	for journal.count(StateDead) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if journal.count(StateDead) != 1 {
		t.Fatalf("dead records = %d, want 1", journal.count(StateDead))
	}
	failures := m.Failures()
	if len(failures) != 1 || failures[0].Index != 0 || failures[0].Stage != "runtime" {
		t.Errorf("failures = %+v, want shard 0 at runtime", failures)
	}

	other, _ := reg.Get(1)
	if other.State() != StateActive {
		t.Errorf("shard 1 state = %s, want active", other.State())
	}
}

func TestBuildConnectURL(t *testing.T) {
	got, err := buildConnectURL("wss://gateway.test/path?compress=none", 10)
	if err != nil {
		t.Fatalf("buildConnectURL failed: %v", err)
	}
	if got != "wss://gateway.test/path?compress=none&encoding=json&v=10" {
		t.Errorf("buildConnectURL = %q", got)
	}
	if _, err := buildConnectURL("", 10); err == nil {
		t.Error("expected error for empty url")
	}
}
