// Package session implements the lifecycle of one simulated user: lease a
// credential, log in, run steps until retired, log out and give the
// credential back.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/herd/internal/credentials"
	"github.com/wesleyorama2/herd/internal/report"
	"github.com/wesleyorama2/herd/internal/task"
)

const (
	DefaultLoginName     = "Login"
	DefaultLogoutName    = "Logout"
	DefaultLogoutTimeout = 10 * time.Second
)

// ErrNoLease is the failure of a session that ended before it obtained a
// credential.
var ErrNoLease = errors.New("session: ended before a credential was leased")

// Service is the target system a session talks to.
type Service interface {
	Login(ctx context.Context, cred credentials.Credential) (token string, err error)
	Logout(ctx context.Context, token string) error
	Execute(ctx context.Context, step *task.Step, token string, scratch task.Scratch) error
}

// Leaser hands out credentials. *credentials.Pool implements it.
type Leaser interface {
	Checkout(ctx context.Context) (credentials.Lease, error)
	Release(lease credentials.Lease) error
}

// ThinkTime is the idle range between two steps of a session.
type ThinkTime struct {
	Min time.Duration
	Max time.Duration
}

// Draw returns a duration uniform in [Min, Max].
func (t ThinkTime) Draw(rng *rand.Rand) time.Duration {
	if t.Max <= t.Min {
		return t.Min
	}
	return t.Min + time.Duration(rng.Int63n(int64(t.Max-t.Min)+1))
}

// Config holds what a session needs to run.
type Config struct {
	Pool     Leaser
	Service  Service
	Behavior *task.Behavior
	Reporter report.Reporter
	Logger   *zap.Logger
	// Rand is owned by the session.
	Rand      *rand.Rand
	ThinkTime ThinkTime

	LoginName     string
	LogoutName    string
	LogoutTimeout time.Duration
}

// Result summarizes a terminated session.
type Result struct {
	ID       string
	Behavior string
	Username string
	Outcome  Outcome
	// Err is why the session failed, nil on success.
	Err error
	// EndedBy names the step whose failure ended the session, if any.
	EndedBy  string
	Steps    int
	Failures int
	Skipped  int
	Duration time.Duration
}

// Session is one simulated user.
type Session struct {
	ID string

	cfg    Config
	logger *zap.Logger

	state   atomic.Int32
	retired atomic.Bool
	retire  chan struct{}
	done    chan struct{}
}

// sessionContext carries the per-run values threaded through the lifecycle.
type sessionContext struct {
	lease     credentials.Lease
	token     string
	scratch   task.Scratch
	scheduler task.Scheduler
}

// New creates an idle session.
func New(id string, cfg Config) *Session {
	if cfg.Reporter == nil {
		cfg.Reporter = report.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.LoginName == "" {
		cfg.LoginName = DefaultLoginName
	}
	if cfg.LogoutName == "" {
		cfg.LogoutName = DefaultLogoutName
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = DefaultLogoutTimeout
	}

	return &Session{
		ID:     id,
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("session", id)),
		retire: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Retire asks the session to log out. A request in flight is allowed to
// finish; the session notices retirement between steps. Retire is
// idempotent and safe from any goroutine.
func (s *Session) Retire() {
	if s.retired.CompareAndSwap(false, true) {
		close(s.retire)
	}
}

// Retired reports whether Retire has been called.
func (s *Session) Retired() bool {
	return s.retired.Load()
}

// Run drives the session through its whole lifecycle on the calling
// goroutine. Cancelling ctx acts like Retire but also aborts requests in
// flight. Run must be called at most once.
func (s *Session) Run(ctx context.Context) Result {
	defer close(s.done)

	start := time.Now()
	res := Result{ID: s.ID, Behavior: s.cfg.Behavior.Name}
	s.emit(report.Event{Kind: report.EventSessionStarted, Detail: res.Behavior})

	res.Outcome, res.Err = s.run(ctx, &res)
	res.Duration = time.Since(start)

	s.setState(StateTerminated)
	s.logger.Debug("session terminated",
		zap.Stringer("outcome", res.Outcome),
		zap.Int("steps", res.Steps),
		zap.Int("failures", res.Failures),
		zap.Error(res.Err))
	s.emit(report.Event{Kind: report.EventSessionTerminated, Detail: res.Outcome.String(), Err: res.Err})
	return res
}

// run returns the terminal outcome. Once a lease is held, every return
// goes through the single deferred release.
func (s *Session) run(ctx context.Context, res *Result) (Outcome, error) {
	s.setState(StateAuthenticating)

	lease, err := s.checkout(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: %v", ErrNoLease, err)
	}
	defer s.release(lease)
	// The pool may hand over a credential released just after retirement.
	// It goes straight back without a login.
	if s.Retired() || ctx.Err() != nil {
		return OutcomeFailed, fmt.Errorf("%w: retired while waiting for a credential", ErrNoLease)
	}
	res.Username = lease.Credential.Username

	sc := &sessionContext{
		lease:     lease,
		scratch:   task.Scratch{},
		scheduler: s.cfg.Behavior.Scheduler(s.cfg.Rand),
	}

	if err := s.authenticate(ctx, sc); err != nil {
		return OutcomeFailed, err
	}

	s.setState(StateActive)
	s.runActive(ctx, sc, res)

	s.setState(StateLoggingOut)
	if err := s.logout(ctx, sc); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeSuccess, nil
}

// checkout waits for a credential until one is free, ctx ends or the
// session is retired.
func (s *Session) checkout(ctx context.Context) (credentials.Lease, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.retire:
			cancel()
		case <-ctx.Done():
		}
	}()
	return s.cfg.Pool.Checkout(ctx)
}

func (s *Session) release(lease credentials.Lease) {
	if err := s.cfg.Pool.Release(lease); err != nil {
		s.logger.Error("failed to release credential", zap.Uint64("lease", lease.ID), zap.Error(err))
	}
}

func (s *Session) authenticate(ctx context.Context, sc *sessionContext) error {
	start := time.Now()
	token, err := s.cfg.Service.Login(ctx, sc.lease.Credential)
	if err == nil && token == "" {
		err = &task.PayloadError{Field: "token", Reason: "login returned an empty token"}
	}
	s.record(s.cfg.LoginName, time.Since(start), err)

	if err != nil {
		s.logger.Warn("login failed", zap.String("user", sc.lease.Credential.Username), zap.Error(err))
		s.emit(report.Event{Kind: report.EventLoginFailed, Err: err})
		return fmt.Errorf("login: %w", err)
	}

	sc.token = token
	return nil
}

func (s *Session) runActive(ctx context.Context, sc *sessionContext, res *Result) {
	for !s.stopping(ctx) {
		step := sc.scheduler.Next()

		if missing := step.Missing(sc.scratch); len(missing) > 0 {
			res.Skipped++
			s.logger.Debug("step skipped", zap.String("step", step.Name), zap.Strings("missing", missing))
			s.emit(report.Event{
				Kind:   report.EventStepSkipped,
				Detail: step.Name,
				Err:    fmt.Errorf("%w: missing %v", task.ErrPreconditionUnmet, missing),
			})
		} else {
			res.Steps++
			if err := s.execute(ctx, sc, step); err != nil {
				res.Failures++
				if step.EndsSession {
					res.EndedBy = step.Name
					return
				}
			}
		}

		s.think(ctx)
	}
}

func (s *Session) execute(ctx context.Context, sc *sessionContext, step *task.Step) error {
	step.Prepare(sc.scratch)

	start := time.Now()
	err := s.cfg.Service.Execute(ctx, step, sc.token, sc.scratch)
	s.record(step.Name, time.Since(start), err)
	return err
}

// logout runs detached from ctx cancellation so the remote session is
// closed during shutdown too.
func (s *Session) logout(ctx context.Context, sc *sessionContext) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LogoutTimeout)
	defer cancel()

	start := time.Now()
	err := s.cfg.Service.Logout(ctx, sc.token)
	s.record(s.cfg.LogoutName, time.Since(start), err)

	if err != nil {
		s.logger.Warn("logout failed; releasing credential anyway", zap.Error(err))
		s.emit(report.Event{Kind: report.EventLogoutFailed, Err: err})
		return fmt.Errorf("logout: %w", err)
	}

	sc.token = ""
	return nil
}

func (s *Session) think(ctx context.Context) {
	d := s.cfg.ThinkTime.Draw(s.cfg.Rand)
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.retire:
	case <-timer.C:
	}
}

func (s *Session) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || s.retired.Load()
}

func (s *Session) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	s.logger.Debug("session state", zap.Stringer("from", old), zap.Stringer("to", state))
}

func (s *Session) record(name string, latency time.Duration, err error) {
	s.cfg.Reporter.Task(report.Record{
		Name:      name,
		SessionID: s.ID,
		Success:   err == nil,
		Latency:   latency,
		Err:       err,
		Timestamp: time.Now(),
	})
}

func (s *Session) emit(e report.Event) {
	e.SessionID = s.ID
	e.Timestamp = time.Now()
	s.cfg.Reporter.Event(e)
}
