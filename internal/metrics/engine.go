// Package metrics aggregates task records into latency and outcome
// statistics.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/herd/internal/report"
	"github.com/wesleyorama2/herd/internal/task"
)

// Engine collects task records using HDR histograms.
//
// One histogram covers every task; each static task name gets its own for
// the per-task breakdown.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and
// histograms use mutex protection.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures by default
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	tasks   map[string]*taskStats
	tasksMu sync.Mutex

	totalTasks   atomic.Int64
	successTasks atomic.Int64
	failedTasks  atomic.Int64

	events   map[report.EventKind]int64
	eventsMu sync.Mutex

	activeSessions atomic.Int32
	targetSessions atomic.Int32
	peakSessions   atomic.Int32
	stage          atomic.Int32

	// startNanos is the UnixNano of the last reset.
	startNanos atomic.Int64
	config     EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

type taskStats struct {
	hist     *hdrhistogram.Histogram
	success  int64
	failures int64
	errors   map[string]int64
	lastErr  string
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	e := &Engine{
		latencyHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		tasks:       make(map[string]*taskStats),
		events:      make(map[report.EventKind]int64),
		config:      config,
	}
	e.startNanos.Store(time.Now().UnixNano())
	return e
}

// Task records one task execution.
func (e *Engine) Task(r report.Record) {
	latencyMicros := e.clamp(r.Latency.Microseconds())

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.recordTask(r, latencyMicros)

	e.totalTasks.Add(1)
	if r.Success {
		e.successTasks.Add(1)
	} else {
		e.failedTasks.Add(1)
	}
}

// recordTask updates the per-task histogram. HDR histogram RecordValue is
// not thread-safe, so the lock is held throughout.
func (e *Engine) recordTask(r report.Record, latencyMicros int64) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	stats, exists := e.tasks[r.Name]
	if !exists {
		stats = &taskStats{
			hist:   hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
			errors: make(map[string]int64),
		}
		e.tasks[r.Name] = stats
	}

	stats.hist.RecordValue(latencyMicros)
	if r.Success {
		stats.success++
		return
	}
	stats.failures++
	stats.errors[task.ErrorKind(r.Err)]++
	if r.Err != nil {
		stats.lastErr = r.Err.Error()
	}
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

// Event counts a lifecycle event.
func (e *Engine) Event(ev report.Event) {
	e.eventsMu.Lock()
	e.events[ev.Kind]++
	e.eventsMu.Unlock()
}

// Population tracks the session count.
func (e *Engine) Population(p report.Population) {
	e.activeSessions.Store(int32(p.Active))
	e.targetSessions.Store(int32(p.Target))
	e.stage.Store(int32(p.Stage))
	for {
		peak := e.peakSessions.Load()
		if int32(p.Active) <= peak || e.peakSessions.CompareAndSwap(peak, int32(p.Active)) {
			return
		}
	}
}

// GetActiveSessions returns the session count of the last tick.
func (e *Engine) GetActiveSessions() int {
	return int(e.activeSessions.Load())
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	start := time.Unix(0, e.startNanos.Load())
	elapsed := time.Since(start)
	total := e.totalTasks.Load()
	failed := e.failedTasks.Load()

	rate := 0.0
	if elapsed.Seconds() > 0 {
		rate = float64(total) / elapsed.Seconds()
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	e.eventsMu.Lock()
	events := make(map[report.EventKind]int64, len(e.events))
	for k, v := range e.events {
		events[k] = v
	}
	e.eventsMu.Unlock()

	return &Snapshot{
		TotalTasks:     total,
		SuccessTasks:   e.successTasks.Load(),
		FailedTasks:    failed,
		Latency:        latency,
		TasksPerSecond: rate,
		ErrorRate:      errorRate,
		ActiveSessions: int(e.activeSessions.Load()),
		TargetSessions: int(e.targetSessions.Load()),
		PeakSessions:   int(e.peakSessions.Load()),
		Stage:          int(e.stage.Load()),
		Events:         events,
		Tasks:          e.GetTaskStats(),
		Elapsed:        elapsed,
		StartTime:      start,
		Timestamp:      time.Now(),
	}
}

// GetTaskStats returns per-task statistics sorted by name.
func (e *Engine) GetTaskStats() []TaskStats {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	result := make([]TaskStats, 0, len(e.tasks))
	for name, stats := range e.tasks {
		errs := make(map[string]int64, len(stats.errors))
		for k, v := range stats.errors {
			errs[k] = v
		}
		result = append(result, TaskStats{
			Name:      name,
			Success:   stats.success,
			Failures:  stats.failures,
			Latency:   statsOf(stats.hist),
			Errors:    errs,
			LastError: stats.lastErr,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Reset resets all metrics to initial state.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.tasksMu.Lock()
	e.tasks = make(map[string]*taskStats)
	e.tasksMu.Unlock()

	e.eventsMu.Lock()
	e.events = make(map[report.EventKind]int64)
	e.eventsMu.Unlock()

	e.totalTasks.Store(0)
	e.successTasks.Store(0)
	e.failedTasks.Store(0)
	e.activeSessions.Store(0)
	e.targetSessions.Store(0)
	e.peakSessions.Store(0)
	e.stage.Store(0)
	e.startNanos.Store(time.Now().UnixNano())
}

func statsOf(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalTasks     int64                      `json:"totalTasks"`
	SuccessTasks   int64                      `json:"successTasks"`
	FailedTasks    int64                      `json:"failedTasks"`
	Latency        LatencyStats               `json:"latency"`
	TasksPerSecond float64                    `json:"tasksPerSecond"`
	ErrorRate      float64                    `json:"errorRate"`
	ActiveSessions int                        `json:"activeSessions"`
	TargetSessions int                        `json:"targetSessions"`
	PeakSessions   int                        `json:"peakSessions"`
	Stage          int                        `json:"stage"`
	Events         map[report.EventKind]int64 `json:"events"`
	Tasks          []TaskStats                `json:"tasks"`
	Elapsed        time.Duration              `json:"elapsed"`
	StartTime      time.Time                  `json:"startTime"`
	Timestamp      time.Time                  `json:"timestamp"`
}

// TaskStats is the breakdown for one static task name.
type TaskStats struct {
	Name      string           `json:"name"`
	Success   int64            `json:"success"`
	Failures  int64            `json:"failures"`
	Latency   LatencyStats     `json:"latency"`
	Errors    map[string]int64 `json:"errors,omitempty"`
	LastError string           `json:"lastError,omitempty"`
}

// Count returns the number of executions.
func (t TaskStats) Count() int64 {
	return t.Success + t.Failures
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
