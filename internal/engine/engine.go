// Package engine builds a load test from configuration and runs it.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/wesleyorama2/herd/internal/config"
	"github.com/wesleyorama2/herd/internal/credentials"
	"github.com/wesleyorama2/herd/internal/metrics"
	"github.com/wesleyorama2/herd/internal/orchestrator"
	"github.com/wesleyorama2/herd/internal/report"
	"github.com/wesleyorama2/herd/internal/session"
	"github.com/wesleyorama2/herd/internal/shape"
	"github.com/wesleyorama2/herd/internal/target"
	"github.com/wesleyorama2/herd/internal/task"
	"github.com/wesleyorama2/herd/pkg/jsonschema"
)

// Engine wires a TestConfig into a runnable load test.
//
// It coordinates:
//   - Configuration validation and defaults
//   - The credential pool, target client and behavior mix
//   - Metrics collection through the reporter fan-out
//   - The orchestrator that drives the population
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("plan.yaml")
//	eng, _ := engine.NewEngine(cfg)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	logger *zap.Logger
	runID  string

	shape        shape.Shape
	pool         *credentials.Pool
	client       *target.Client
	orchestrator *orchestrator.Orchestrator

	metricsEngine *metrics.Engine
	prometheus    *metrics.Prometheus
	metricsAddr   string

	mu        sync.RWMutex
	startTime time.Time
	running   atomic.Bool
}

// Result contains the complete test results.
type Result struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	RunID       string        `json:"runId"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Sessions orchestrator.Summary `json:"sessions"`
	Metrics  *metrics.Snapshot    `json:"metrics"`

	// Passed is true when every task succeeded and every credential came
	// back to the pool.
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetricsAddr exposes Prometheus metrics on addr while the test runs.
func WithMetricsAddr(addr string) Option {
	return func(e *Engine) {
		e.metricsAddr = addr
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// NewEngine validates cfg and builds every component of the test. Fatal
// setup problems (invalid config, unreadable or malformed credential
// source) are reported here, before any session starts.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = NewRunID()
	}
	logger := e.logger.With(zap.String("run", e.runID))

	var err error
	if e.shape, err = BuildShape(&cfg.Shape); err != nil {
		return nil, err
	}

	behaviors, err := BuildBehaviors(cfg.Behaviors)
	if err != nil {
		return nil, err
	}
	mix, err := task.NewMix(behaviors)
	if err != nil {
		return nil, err
	}

	delimiter, _ := utf8.DecodeRuneInString(cfg.Credentials.Delimiter)
	creds, err := credentials.LoadFile(cfg.Credentials.File, delimiter)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if e.pool, err = credentials.NewPool(creds); err != nil {
		return nil, err
	}

	e.client, err = target.NewClient(cfg.Target.BaseURL, ClientConfig(&cfg.Target), LoginConfig(&cfg.Auth), clientOptions(&cfg.Target, logger)...)
	if err != nil {
		return nil, err
	}

	e.metricsEngine = metrics.NewEngine()
	e.prometheus = metrics.NewPrometheus("herd")
	reporter := report.Multi{e.metricsEngine, e.prometheus, report.NewLog(logger)}

	e.orchestrator, err = orchestrator.New(orchestrator.Options{
		Shape:    e.shape,
		Pool:     e.pool,
		Service:  e.client,
		Mix:      mix,
		Reporter: reporter,
		Logger:   e.logger,

		ThinkTime:         thinkTime(cfg.ThinkTime),
		BehaviorThinkTime: behaviorThinkTimes(cfg.Behaviors),

		LoginName:     cfg.Auth.Login.Name,
		LogoutName:    cfg.Auth.Logout.Name,
		LogoutTimeout: time.Duration(cfg.Auth.Logout.Timeout),
		TickInterval:  time.Duration(cfg.Options.TickInterval),
		GracefulStop:  time.Duration(cfg.Options.GracefulStop),
		Seed:          cfg.Options.Seed,
		RunID:         e.runID,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("engine ready",
		zap.String("test", cfg.Name),
		zap.Int("credentials", e.pool.Len()),
		zap.Int("behaviors", len(behaviors)),
		zap.Duration("duration", e.shape.TotalDuration()))
	return e, nil
}

func thinkTime(t *config.ThinkTimeConfig) session.ThinkTime {
	if t == nil {
		return session.ThinkTime{}
	}
	return session.ThinkTime{Min: time.Duration(t.Min), Max: time.Duration(t.Max)}
}

// behaviorThinkTimes collects the think time overrides by behavior name.
func behaviorThinkTimes(behaviors []config.BehaviorConfig) map[string]session.ThinkTime {
	var out map[string]session.ThinkTime
	for _, b := range behaviors {
		if b.ThinkTime == nil {
			continue
		}
		if out == nil {
			out = make(map[string]session.ThinkTime)
		}
		out[b.Name] = thinkTime(b.ThinkTime)
	}
	return out
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Run executes the test until the shape stops or ctx is cancelled.
//
// The returned Result is never nil. The error is non-nil only when the
// run could not complete cleanly.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine is already running")
	}
	defer e.running.Store(false)

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()
	e.metricsEngine.Reset()

	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	if e.metricsAddr != "" {
		go func() {
			if err := e.prometheus.Serve(serveCtx, e.metricsAddr, e.logger); err != nil {
				e.logger.Error("metrics endpoint failed", zap.String("addr", e.metricsAddr), zap.Error(err))
			}
		}()
	}

	summary, runErr := e.orchestrator.Run(ctx)

	snapshot := e.metricsEngine.GetSnapshot()
	result := &Result{
		Name:        e.config.Name,
		Description: e.config.Description,
		RunID:       e.runID,
		StartTime:   summary.StartTime,
		EndTime:     summary.EndTime,
		Duration:    summary.Duration,
		Sessions:    summary,
		Metrics:     snapshot,
		Passed:      runErr == nil && snapshot.FailedTasks == 0,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	return result, runErr
}

// IsRunning reports whether Run is in progress.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// RunID returns the identifier stamped on logs, sessions and results.
func (e *Engine) RunID() string {
	return e.runID
}

// Shape returns the population profile of the test.
func (e *Engine) Shape() shape.Shape {
	return e.shape
}

// GetMetrics returns current metrics.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	return e.metricsEngine.GetSnapshot()
}

// GetProgress returns the elapsed fraction of the shape's duration
// (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	total := e.shape.TotalDuration()
	if start.IsZero() || total <= 0 {
		return 0
	}
	progress := float64(time.Since(start)) / float64(total)
	if progress > 1 {
		return 1
	}
	return progress
}

// Target returns the population the shape currently asks for.
func (e *Engine) Target() int {
	return e.orchestrator.Target()
}

// PoolStats returns the credential pool counters.
func (e *Engine) PoolStats() credentials.Stats {
	return e.pool.Stats()
}

// BuildShape converts the configured population profile.
func BuildShape(cfg *config.ShapeConfig) (shape.Shape, error) {
	switch cfg.Type {
	case config.ShapeStepRamp, "":
		return shape.NewStepRamp(time.Duration(cfg.StepTime), cfg.StepLoad, cfg.SpawnRate, time.Duration(cfg.TimeLimit))
	case config.ShapeStages:
		mode, err := shape.ParseDurationMode(cfg.StageDurations)
		if err != nil {
			return nil, err
		}
		return shape.NewStages(cfg.StagesList(), mode)
	default:
		return nil, fmt.Errorf("unknown shape type: %s", cfg.Type)
	}
}

// BuildBehaviors converts the configured behaviors, compiling response
// schemas once so every session shares them.
func BuildBehaviors(cfgs []config.BehaviorConfig) ([]*task.Behavior, error) {
	behaviors := make([]*task.Behavior, 0, len(cfgs))
	for _, bc := range cfgs {
		kind, err := task.ParseKind(bc.Kind)
		if err != nil {
			return nil, fmt.Errorf("behavior %q: %w", bc.Name, err)
		}

		steps := make([]*task.Step, 0, len(bc.Steps))
		for _, sc := range bc.Steps {
			step, err := BuildStep(sc)
			if err != nil {
				return nil, fmt.Errorf("behavior %q: %w", bc.Name, err)
			}
			steps = append(steps, step)
		}

		behavior, err := task.NewBehavior(bc.Name, kind, bc.Weight, steps)
		if err != nil {
			return nil, err
		}
		behaviors = append(behaviors, behavior)
	}
	return behaviors, nil
}

// BuildStep converts one configured step.
func BuildStep(sc config.StepConfig) (*task.Step, error) {
	step := &task.Step{
		Name:         sc.Name,
		Method:       strings.ToUpper(sc.Method),
		Path:         sc.Path,
		Body:         sc.Body,
		Headers:      sc.Headers,
		Requires:     sc.Requires,
		ExpectStatus: sc.ExpectStatus,
		ExpectFields: sc.ExpectFields,
		EndsSession:  sc.EndsSession,
		Weight:       sc.Weight,
	}
	for _, ex := range sc.Extract {
		step.Extract = append(step.Extract, task.Extraction{
			Name:  ex.Name,
			Path:  ex.Path,
			From:  ex.From,
			Where: ex.Where,
		})
	}
	if sc.Schema != "" {
		schema, err := jsonschema.Compile(sc.Schema)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", sc.Name, err)
		}
		step.Schema = schema
	}
	if err := step.Validate(); err != nil {
		return nil, err
	}
	return step, nil
}

// ClientConfig maps the target settings onto the HTTP transport.
func ClientConfig(cfg *config.TargetConfig) target.ClientConfig {
	cc := target.DefaultClientConfig()
	cc.Timeout = cfg.Timeout.GetDuration(cc.Timeout)
	if cfg.MaxIdleConnsPerHost > 0 {
		cc.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	cc.MaxConnsPerHost = cfg.MaxConnectionsPerHost
	cc.InsecureSkipVerify = cfg.InsecureSkipVerify
	return cc
}

// LoginConfig maps the auth settings onto the target client.
func LoginConfig(cfg *config.AuthConfig) target.LoginConfig {
	lc := target.DefaultLoginConfig()
	if cfg.Login.Method != "" {
		lc.Method = strings.ToUpper(cfg.Login.Method)
	}
	if cfg.Login.Path != "" {
		lc.Path = cfg.Login.Path
	}
	if cfg.Login.UsernameField != "" {
		lc.UsernameField = cfg.Login.UsernameField
	}
	if cfg.Login.PasswordField != "" {
		lc.PasswordField = cfg.Login.PasswordField
	}
	if cfg.Login.TokenPath != "" {
		lc.TokenPath = cfg.Login.TokenPath
	}
	if len(cfg.Login.ExpectStatus) > 0 {
		lc.ExpectStatus = cfg.Login.ExpectStatus
	}
	if cfg.Logout.Method != "" {
		lc.LogoutMethod = strings.ToUpper(cfg.Logout.Method)
	}
	if cfg.Logout.Path != "" {
		lc.LogoutPath = cfg.Logout.Path
	}
	if len(cfg.Logout.ExpectStatus) > 0 {
		lc.LogoutExpectStatus = cfg.Logout.ExpectStatus
	}
	return lc
}

func clientOptions(cfg *config.TargetConfig, logger *zap.Logger) []target.Option {
	opts := []target.Option{target.WithLogger(logger)}
	if cfg.UserAgent != "" {
		opts = append(opts, target.WithHeader("User-Agent", cfg.UserAgent))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, target.WithHeader(http.CanonicalHeaderKey(k), v))
	}
	return opts
}

// WriteResult writes result as indented JSON to path.
func WriteResult(result *Result, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
