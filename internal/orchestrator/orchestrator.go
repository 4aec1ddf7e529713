// Package orchestrator runs the control loop of a load test: it polls the
// load shape, spawns and retires sessions to track the target population,
// and shuts everything down gracefully at the end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/herd/internal/credentials"
	"github.com/wesleyorama2/herd/internal/report"
	"github.com/wesleyorama2/herd/internal/session"
	"github.com/wesleyorama2/herd/internal/shape"
	"github.com/wesleyorama2/herd/internal/task"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultGracefulStop = 30 * time.Second
)

// Pool is the credential pool shared by all sessions.
type Pool interface {
	session.Leaser
	Stats() credentials.Stats
}

// Options configures an Orchestrator.
type Options struct {
	Shape    shape.Shape
	Pool     Pool
	Service  session.Service
	Mix      *task.Mix
	Reporter report.Reporter
	Logger   *zap.Logger

	ThinkTime session.ThinkTime

	// BehaviorThinkTime overrides ThinkTime for sessions running the
	// named behavior.
	BehaviorThinkTime map[string]session.ThinkTime

	LoginName     string
	LogoutName    string
	LogoutTimeout time.Duration

	// TickInterval is how often the shape is polled.
	TickInterval time.Duration
	// GracefulStop bounds how long retired sessions may take to log out
	// before requests in flight are cancelled.
	GracefulStop time.Duration
	// Seed makes behavior choice and think times reproducible. Zero picks
	// a time-based seed.
	Seed  int64
	RunID string
}

// Summary describes a finished run.
type Summary struct {
	RunID     string            `json:"runId"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Duration  time.Duration     `json:"duration"`
	Spawned   int               `json:"spawned"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Peak      int               `json:"peakSessions"`
	Steps     int               `json:"steps"`
	Failures  int               `json:"stepFailures"`
	Skipped   int               `json:"stepsSkipped"`
	Cancelled bool              `json:"cancelled"`
	Forced    bool              `json:"forcedStop"`
	Pool      credentials.Stats `json:"pool"`
}

// Orchestrator owns the live sessions of one run.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger
	rng    *rand.Rand

	// live is only touched by the control loop, in spawn order.
	live   []*session.Session
	nextID int

	wg      sync.WaitGroup
	running atomic.Int64
	target  atomic.Int64
	started atomic.Bool

	mu      sync.Mutex
	summary Summary
}

// New validates opts and returns an Orchestrator ready to Run.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Shape == nil:
		return nil, errors.New("orchestrator: shape is required")
	case opts.Pool == nil:
		return nil, errors.New("orchestrator: credential pool is required")
	case opts.Service == nil:
		return nil, errors.New("orchestrator: service is required")
	case opts.Mix == nil:
		return nil, errors.New("orchestrator: behavior mix is required")
	case opts.GracefulStop < 0:
		return nil, errors.New("orchestrator: gracefulStop must not be negative")
	}

	if opts.Reporter == nil {
		opts.Reporter = report.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.GracefulStop == 0 {
		opts.GracefulStop = DefaultGracefulStop
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	logger := opts.Logger.With(zap.String("component", "orchestrator"))
	if opts.RunID != "" {
		logger = logger.With(zap.String("run", opts.RunID))
	}

	return &Orchestrator{
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Active returns the number of sessions whose Run has not returned yet.
func (o *Orchestrator) Active() int {
	return int(o.running.Load())
}

// Target returns the population requested by the last tick.
func (o *Orchestrator) Target() int {
	return int(o.target.Load())
}

// Run drives the test until the shape stops or ctx is cancelled, then
// retires every session and waits for them. When Run returns every
// credential is back in the pool. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if !o.started.CompareAndSwap(false, true) {
		return Summary{}, errors.New("orchestrator: already started")
	}

	start := time.Now()
	o.summary.RunID = o.opts.RunID
	o.summary.StartTime = start

	// Sessions outlive ctx so that they can log out; sessionCtx is only
	// cancelled once the graceful stop period has expired.
	sessionCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	o.logger.Info("load test started",
		zap.Duration("duration", o.opts.Shape.TotalDuration()),
		zap.Int("credentials", o.opts.Pool.Stats().Total),
		zap.Int64("seed", o.opts.Seed))

	cancelled := o.control(ctx, sessionCtx, start)
	forced := o.shutdown(cancelSessions)

	end := time.Now()
	o.mu.Lock()
	o.summary.EndTime = end
	o.summary.Duration = end.Sub(start)
	o.summary.Cancelled = cancelled
	o.summary.Forced = forced
	o.summary.Pool = o.opts.Pool.Stats()
	summary := o.summary
	o.mu.Unlock()

	o.logger.Info("load test finished",
		zap.Duration("elapsed", summary.Duration),
		zap.Int("spawned", summary.Spawned),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Bool("cancelled", cancelled))

	if summary.Pool.Outstanding != 0 {
		return summary, fmt.Errorf("orchestrator: %d credentials still leased after shutdown", summary.Pool.Outstanding)
	}
	return summary, nil
}

// control runs the tick loop. It reports whether ctx ended the test.
func (o *Orchestrator) control(ctx, sessionCtx context.Context, start time.Time) bool {
	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	var limiter *rate.Limiter
	for {
		elapsed := time.Since(start)
		target, ok := o.opts.Shape.Tick(elapsed)
		if !ok {
			o.logger.Info("load shape finished", zap.Duration("elapsed", elapsed))
			return false
		}

		limiter = o.pace(limiter, target.SpawnRate)
		o.adjust(sessionCtx, target, limiter)
		o.observe(elapsed, target)

		select {
		case <-ctx.Done():
			o.logger.Info("load test cancelled", zap.Error(ctx.Err()))
			return true
		case <-ticker.C:
		}
	}
}

// pace returns a limiter allowing spawnRate starts or retirements per
// second, with a burst of what one tick may consume.
func (o *Orchestrator) pace(limiter *rate.Limiter, spawnRate float64) *rate.Limiter {
	burst := int(math.Ceil(spawnRate * o.opts.TickInterval.Seconds()))
	if burst < 1 {
		burst = 1
	}
	if limiter == nil {
		return rate.NewLimiter(rate.Limit(spawnRate), burst)
	}
	if limiter.Limit() != rate.Limit(spawnRate) {
		limiter.SetLimit(rate.Limit(spawnRate))
		limiter.SetBurst(burst)
	}
	return limiter
}

// adjust moves the live population toward target without exceeding the
// limiter's pace.
func (o *Orchestrator) adjust(ctx context.Context, target shape.Target, limiter *rate.Limiter) {
	o.reap()
	o.target.Store(int64(target.Sessions))

	delta := target.Sessions - len(o.live)
	switch {
	case delta > 0:
		for i := 0; i < delta && limiter.Allow(); i++ {
			o.spawn(ctx)
		}
	case delta < 0:
		// Retire the most recently spawned sessions first.
		for i := 0; i < -delta && limiter.Allow(); i++ {
			last := len(o.live) - 1
			o.live[last].Retire()
			o.live = o.live[:last]
		}
	}

	o.mu.Lock()
	if n := len(o.live); n > o.summary.Peak {
		o.summary.Peak = n
	}
	o.mu.Unlock()
}

// reap drops sessions that ended on their own (failed login, a
// session-ending step) so they are replaced.
func (o *Orchestrator) reap() {
	kept := o.live[:0]
	for _, s := range o.live {
		select {
		case <-s.Done():
		default:
			kept = append(kept, s)
		}
	}
	clear(o.live[len(kept):])
	o.live = kept
}

func (o *Orchestrator) spawn(ctx context.Context) {
	o.nextID++
	id := fmt.Sprintf("vu-%d", o.nextID)
	if o.opts.RunID != "" {
		id = fmt.Sprintf("%s-%d", o.opts.RunID, o.nextID)
	}

	behavior := o.opts.Mix.Pick(o.rng)
	think := o.opts.ThinkTime
	if t, ok := o.opts.BehaviorThinkTime[behavior.Name]; ok {
		think = t
	}
	s := session.New(id, session.Config{
		Pool:          o.opts.Pool,
		Service:       o.opts.Service,
		Behavior:      behavior,
		Reporter:      o.opts.Reporter,
		Logger:        o.opts.Logger,
		Rand:          rand.New(rand.NewSource(o.rng.Int63())),
		ThinkTime:     think,
		LoginName:     o.opts.LoginName,
		LogoutName:    o.opts.LogoutName,
		LogoutTimeout: o.opts.LogoutTimeout,
	})
	o.live = append(o.live, s)

	o.mu.Lock()
	o.summary.Spawned++
	o.mu.Unlock()

	o.running.Add(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.running.Add(-1)
		o.collect(s.Run(ctx))
	}()
}

func (o *Orchestrator) collect(res session.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch res.Outcome {
	case session.OutcomeSuccess:
		o.summary.Succeeded++
	default:
		o.summary.Failed++
	}
	o.summary.Steps += res.Steps
	o.summary.Failures += res.Failures
	o.summary.Skipped += res.Skipped
}

func (o *Orchestrator) observe(elapsed time.Duration, target shape.Target) {
	obs, ok := o.opts.Reporter.(report.PopulationObserver)
	if !ok {
		return
	}
	obs.Population(report.Population{
		Elapsed: elapsed,
		Active:  o.Active(),
		Target:  target.Sessions,
		Stage:   target.Stage,
	})
}

// shutdown retires every live session and waits for all of them. After
// GracefulStop it cancels their requests and keeps waiting, since each
// session still has to release its credential. It reports whether the
// cancellation was needed.
func (o *Orchestrator) shutdown(cancelSessions context.CancelFunc) bool {
	o.target.Store(0)
	for _, s := range o.live {
		s.Retire()
	}
	o.live = nil

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(o.opts.GracefulStop)
	defer timer.Stop()

	select {
	case <-done:
		return false
	case <-timer.C:
		o.logger.Warn("graceful stop expired; cancelling requests in flight",
			zap.Duration("gracefulStop", o.opts.GracefulStop),
			zap.Int("remaining", o.Active()))
		cancelSessions()
		<-done
		return true
	}
}
