package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/herd/internal/credentials"
	"github.com/wesleyorama2/herd/internal/report"
	"github.com/wesleyorama2/herd/internal/session"
	"github.com/wesleyorama2/herd/internal/shape"
	"github.com/wesleyorama2/herd/internal/task"
)

// auditPool wraps a pool and fails the test if a credential is ever held by
// two sessions at once.
type auditPool struct {
	*credentials.Pool
	t *testing.T

	mu       sync.Mutex
	held     map[string]bool
	maxOut   int
	releases int
}

func newAuditPool(t *testing.T, n int) *auditPool {
	creds := make([]credentials.Credential, n)
	for i := range creds {
		creds[i] = credentials.Credential{Username: fmt.Sprintf("user%02d", i), Password: "pw"}
	}
	pool, err := credentials.NewPool(creds)
	require.NoError(t, err)
	return &auditPool{Pool: pool, t: t, held: map[string]bool{}}
}

func (p *auditPool) Checkout(ctx context.Context) (credentials.Lease, error) {
	lease, err := p.Pool.Checkout(ctx)
	if err != nil {
		return lease, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held[lease.Credential.Username] {
		p.t.Errorf("credential %s issued twice", lease.Credential.Username)
	}
	p.held[lease.Credential.Username] = true
	if out := len(p.held); out > p.maxOut {
		p.maxOut = out
	}
	return lease, nil
}

func (p *auditPool) Release(lease credentials.Lease) error {
	p.mu.Lock()
	delete(p.held, lease.Credential.Username)
	p.releases++
	p.mu.Unlock()
	return p.Pool.Release(lease)
}

// flakyService fails login, logout and steps at random.
type flakyService struct {
	mu  sync.Mutex
	rng *rand.Rand

	failRate float64
	block    bool

	logins   atomic.Int32
	logouts  atomic.Int32
	executes atomic.Int32
}

func (f *flakyService) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < f.failRate
}

func (f *flakyService) Login(_ context.Context, cred credentials.Credential) (string, error) {
	f.logins.Add(1)
	if f.fail() {
		return "", task.NewUnexpectedStatus(500, []int{200}, []byte("login down"))
	}
	return "token-" + cred.Username, nil
}

func (f *flakyService) Logout(context.Context, string) error {
	f.logouts.Add(1)
	if f.fail() {
		return &task.TransportError{Op: "DELETE /session", Err: errors.New("reset")}
	}
	return nil
}

func (f *flakyService) Execute(ctx context.Context, step *task.Step, _ string, scratch task.Scratch) error {
	f.executes.Add(1)
	if f.block {
		<-ctx.Done()
		return &task.TransportError{Op: step.Name, Err: ctx.Err()}
	}
	if f.fail() {
		return &task.PayloadError{Field: "id", Reason: "missing"}
	}
	scratch["id"] = "1"
	return nil
}

type populations struct {
	report.Nop
	mu   sync.Mutex
	seen []report.Population
}

func (p *populations) Population(pop report.Population) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, pop)
}

func mix(t *testing.T) *task.Mix {
	t.Helper()
	produce := &task.Step{Name: "list", Method: "GET", Path: "/items",
		Extract: []task.Extraction{{Name: "id", Path: "id"}}}
	consume := &task.Step{Name: "detail", Method: "GET", Path: "/items/{{id}}",
		Requires: []string{"id"}}
	browse, err := task.NewBehavior("browse", task.KindSequential, 2, []*task.Step{produce, consume})
	require.NoError(t, err)

	produce2 := *produce
	produce2.Weight = 1
	consume2 := *consume
	consume2.Weight = 3
	random, err := task.NewBehavior("random", task.KindWeighted, 1, []*task.Step{&produce2, &consume2})
	require.NoError(t, err)

	m, err := task.NewMix([]*task.Behavior{browse, random})
	require.NoError(t, err)
	return m
}

func stages(t *testing.T, st ...shape.Stage) shape.Shape {
	t.Helper()
	s, err := shape.NewStages(st, shape.PerStage)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	pool := newAuditPool(t, 1)
	_, err = New(Options{
		Shape:        stages(t, shape.Stage{Duration: time.Second, Sessions: 1, SpawnRate: 1}),
		Pool:         pool,
		Service:      &flakyService{},
		Mix:          mix(t),
		GracefulStop: -time.Second,
	})
	assert.Error(t, err)
}

func TestRun_ConservesCredentialsUnderFailures(t *testing.T) {
	const poolSize = 3
	pool := newAuditPool(t, poolSize)
	svc := &flakyService{rng: rand.New(rand.NewSource(11)), failRate: 0.3}

	o, err := New(Options{
		Shape:        stages(t, shape.Stage{Duration: 400 * time.Millisecond, Sessions: 8, SpawnRate: 1000}),
		Pool:         pool,
		Service:      svc,
		Mix:          mix(t),
		ThinkTime:    session.ThinkTime{Min: time.Millisecond, Max: 3 * time.Millisecond},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 2 * time.Second,
		Seed:         5,
	})
	require.NoError(t, err)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, credentials.Stats{Total: poolSize, Available: poolSize}, summary.Pool)
	assert.LessOrEqual(t, pool.maxOut, poolSize)
	assert.Empty(t, pool.held)
	assert.Equal(t, summary.Spawned, summary.Succeeded+summary.Failed)
	assert.Equal(t, 0, o.Active())
	assert.Positive(t, summary.Failed, "injected login failures should fail some sessions")
	assert.Positive(t, summary.Steps)

	// Every session that got a credential released it exactly once.
	assert.Equal(t, int(svc.logins.Load()), pool.releases)
}

func TestRun_PacesSpawns(t *testing.T) {
	pool := newAuditPool(t, 100)
	svc := &flakyService{rng: rand.New(rand.NewSource(1))}

	o, err := New(Options{
		Shape:        stages(t, shape.Stage{Duration: 200 * time.Millisecond, Sessions: 100, SpawnRate: 10}),
		Pool:         pool,
		Service:      svc,
		Mix:          mix(t),
		ThinkTime:    session.ThinkTime{Min: time.Millisecond, Max: time.Millisecond},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: time.Second,
	})
	require.NoError(t, err)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	// 10/s for 0.2s plus the initial token, never the full delta of 100.
	assert.GreaterOrEqual(t, summary.Spawned, 1)
	assert.LessOrEqual(t, summary.Spawned, 5)
}

func TestRun_RetiresTowardLowerTarget(t *testing.T) {
	pool := newAuditPool(t, 4)
	svc := &flakyService{rng: rand.New(rand.NewSource(1))}
	pops := &populations{}

	o, err := New(Options{
		Shape: stages(t,
			shape.Stage{Duration: 200 * time.Millisecond, Sessions: 4, SpawnRate: 1000},
			shape.Stage{Duration: 300 * time.Millisecond, Sessions: 1, SpawnRate: 1000},
		),
		Pool:         pool,
		Service:      svc,
		Mix:          mix(t),
		Reporter:     pops,
		ThinkTime:    session.ThinkTime{Min: time.Millisecond, Max: 2 * time.Millisecond},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: time.Second,
	})
	require.NoError(t, err)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Peak)
	assert.Equal(t, 4, summary.Spawned, "no failures, so no replacements")

	pops.mu.Lock()
	defer pops.mu.Unlock()
	require.NotEmpty(t, pops.seen)
	last := pops.seen[len(pops.seen)-1]
	assert.Equal(t, 1, last.Target)
	assert.Equal(t, 1, last.Stage)
	assert.Equal(t, 1, last.Active)
}

func TestRun_CancelStopsGracefully(t *testing.T) {
	pool := newAuditPool(t, 2)
	svc := &flakyService{rng: rand.New(rand.NewSource(1))}

	o, err := New(Options{
		Shape:        stages(t, shape.Stage{Duration: time.Minute, Sessions: 2, SpawnRate: 1000}),
		Pool:         pool,
		Service:      svc,
		Mix:          mix(t),
		ThinkTime:    session.ThinkTime{Min: time.Millisecond, Max: time.Millisecond},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		assert.Eventually(t, func() bool { return svc.executes.Load() > 5 }, time.Second, time.Millisecond)
	}()

	summary, err := o.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.False(t, summary.Forced)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, int32(2), svc.logouts.Load())
	assert.Equal(t, 2, summary.Pool.Available)

	_, err = o.Run(context.Background())
	assert.Error(t, err, "an orchestrator runs once")
}

func TestRun_ForcedStopStillReleases(t *testing.T) {
	pool := newAuditPool(t, 2)
	svc := &flakyService{rng: rand.New(rand.NewSource(1)), block: true}

	o, err := New(Options{
		Shape:        stages(t, shape.Stage{Duration: 100 * time.Millisecond, Sessions: 2, SpawnRate: 1000}),
		Pool:         pool,
		Service:      svc,
		Mix:          mix(t),
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Forced)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(2), svc.logouts.Load(), "sessions log out after their request is cancelled")
	assert.Equal(t, credentials.Stats{Total: 2, Available: 2}, summary.Pool)
}

func TestRun_BehaviorThinkTimeOverride(t *testing.T) {
	run := func(overrides map[string]session.ThinkTime) *flakyService {
		svc := &flakyService{rng: rand.New(rand.NewSource(1))}
		o, err := New(Options{
			Shape:             stages(t, shape.Stage{Duration: 100 * time.Millisecond, Sessions: 1, SpawnRate: 1000}),
			Pool:              newAuditPool(t, 1),
			Service:           svc,
			Mix:               mix(t),
			ThinkTime:         session.ThinkTime{Min: time.Hour, Max: time.Hour},
			BehaviorThinkTime: overrides,
			TickInterval:      10 * time.Millisecond,
			GracefulStop:      time.Second,
			Seed:              3,
		})
		require.NoError(t, err)
		summary, err := o.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, summary.Spawned)
		return svc
	}

	// The hour-long pause after the first step is cut short by the stop.
	assert.LessOrEqual(t, run(nil).executes.Load(), int32(1))

	svc := run(map[string]session.ThinkTime{"browse": {}, "random": {}})
	assert.Greater(t, svc.executes.Load(), int32(10), "a zero override removes the pause between steps")
}

func TestRun_BackpressureWhenPoolSmallerThanTarget(t *testing.T) {
	pool := newAuditPool(t, 1)
	svc := &flakyService{rng: rand.New(rand.NewSource(1))}

	o, err := New(Options{
		Shape:        stages(t, shape.Stage{Duration: 150 * time.Millisecond, Sessions: 3, SpawnRate: 1000}),
		Pool:         pool,
		Service:      svc,
		Mix:          mix(t),
		ThinkTime:    session.ThinkTime{Min: time.Millisecond, Max: time.Millisecond},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: time.Second,
	})
	require.NoError(t, err)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, pool.maxOut)
	assert.Equal(t, 3, summary.Spawned)
	// The two sessions that never got the credential end without one.
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.Pool.Available)
}
