// Command generate-sample-report writes a report for a synthetic run, used
// to preview the output formats without a target service.
package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/wesleyorama2/herd/internal/credentials"
	"github.com/wesleyorama2/herd/internal/engine"
	"github.com/wesleyorama2/herd/internal/metrics"
	"github.com/wesleyorama2/herd/internal/orchestrator"
	"github.com/wesleyorama2/herd/internal/output"
	"github.com/wesleyorama2/herd/internal/report"
	"github.com/wesleyorama2/herd/internal/task"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	data, err := output.FormatResult(createSampleResult(), output.FormatForPath(outputPath))
	if err == nil {
		err = os.WriteFile(outputPath, data, 0o644)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

func createSampleResult() *engine.Result {
	rng := rand.New(rand.NewSource(42))
	m := metrics.NewEngine()

	latency := func(base time.Duration) time.Duration {
		return base + time.Duration(rng.ExpFloat64()*float64(base)/2)
	}
	for i := 0; i < 120; i++ {
		m.Event(report.Event{Kind: report.EventSessionStarted})
		m.Task(report.Record{Name: "Login", Success: true, Latency: latency(35 * time.Millisecond)})
		for j := 0; j < 8; j++ {
			m.Task(report.Record{Name: "Get topics", Success: true, Latency: latency(20 * time.Millisecond)})
		}
		if rng.Intn(40) == 0 {
			m.Task(report.Record{Name: "Schedule plan", Latency: latency(90 * time.Millisecond),
				Err: task.NewUnexpectedStatus(503, []int{201}, []byte(`{"error": "planner busy"}`))})
			m.Event(report.Event{Kind: report.EventStepSkipped})
		} else {
			m.Task(report.Record{Name: "Schedule plan", Success: true, Latency: latency(60 * time.Millisecond)})
		}
		m.Task(report.Record{Name: "Logout", Success: true, Latency: latency(15 * time.Millisecond)})
	}
	m.Event(report.Event{Kind: report.EventLoginFailed, Err: errors.New("401 Unauthorized")})

	now := time.Now()
	return &engine.Result{
		Name:        "Planner load - sample",
		Description: "Synthetic run: 20 users ramping in 4 steps of 30s",
		RunID:       engine.NewRunID(),
		StartTime:   now.Add(-2 * time.Minute),
		EndTime:     now,
		Duration:    2 * time.Minute,
		Sessions: orchestrator.Summary{
			Spawned:   121,
			Succeeded: 120,
			Failed:    1,
			Peak:      20,
			Pool:      credentials.Stats{Total: 25, Available: 25},
		},
		Metrics: m.GetSnapshot(),
	}
}
