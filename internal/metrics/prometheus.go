package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/herd/internal/report"
	"github.com/wesleyorama2/herd/internal/task"
)

// Prometheus exports records and events as Prometheus metrics on its own
// registry.
type Prometheus struct {
	registry *prometheus.Registry

	tasks    *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	events   *prometheus.CounterVec
	active   prometheus.Gauge
	target   prometheus.Gauge
	stage    prometheus.Gauge
}

// NewPrometheus registers the herd metrics under namespace.
func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Task executions by task name and result.",
		}, []string{"task", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed task executions by task name and error kind.",
		}, []string{"task", "kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"task"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by kind.",
		}, []string{"event"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently running.",
		}),
		target: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_sessions",
			Help:      "Session count requested by the load shape.",
		}),
		stage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage",
			Help:      "Index of the current load shape stage.",
		}),
	}

	p.registry.MustRegister(
		p.tasks, p.failures, p.latency, p.events, p.active, p.target, p.stage,
		collectors.NewGoCollector(),
	)
	return p
}

func (p *Prometheus) Task(r report.Record) {
	result := "success"
	if !r.Success {
		result = "failure"
		p.failures.WithLabelValues(r.Name, task.ErrorKind(r.Err)).Inc()
	}
	p.tasks.WithLabelValues(r.Name, result).Inc()
	p.latency.WithLabelValues(r.Name).Observe(r.Latency.Seconds())
}

func (p *Prometheus) Event(e report.Event) {
	p.events.WithLabelValues(string(e.Kind)).Inc()
}

func (p *Prometheus) Population(pop report.Population) {
	p.active.Set(float64(pop.Active))
	p.target.Set(float64(pop.Target))
	p.stage.Set(float64(pop.Stage))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
