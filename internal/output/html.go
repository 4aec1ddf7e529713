package output

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/wesleyorama2/herd/internal/engine"
	"github.com/wesleyorama2/herd/internal/metrics"
	"github.com/wesleyorama2/herd/internal/report"
)

// htmlData is what the report template renders.
type htmlData struct {
	*engine.Result
	Events []htmlEvent
}

type htmlEvent struct {
	Kind  report.EventKind
	Count int64
}

func formatHTML(result *engine.Result) ([]byte, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": formatDuration,
		"formatLatency":  formatDurationShort,
		"formatNumber":   formatNumber,
		"percent":        func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
		"successRate":    successRate,
		"errorKinds":     formatErrorKinds,
		"timestamp":      func(t time.Time) string { return t.Format("2006-01-02 15:04:05 MST") },
	}).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	data := htmlData{Result: result}
	if result.Metrics != nil {
		for _, kind := range sortedEvents(result.Metrics.Events) {
			data.Events = append(data.Events, htmlEvent{Kind: kind, Count: result.Metrics.Events[kind]})
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func successRate(m *metrics.Snapshot) string {
	if m == nil || m.TotalTasks == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(m.SuccessTasks)/float64(m.TotalTasks)*100)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Load Test Report</title>
<style>
  :root { --bg: #f8fafc; --card: #ffffff; --text: #1e293b; --muted: #64748b; --border: #e2e8f0; --ok: #22c55e; --bad: #ef4444; }
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: var(--bg); color: var(--text); line-height: 1.6; }
  .container { max-width: 1200px; margin: 0 auto; padding: 2rem; }
  .card { background: var(--card); border-radius: 12px; padding: 1.5rem; margin-bottom: 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
  .header { display: flex; justify-content: space-between; align-items: center; }
  .muted { color: var(--muted); font-size: 0.875rem; }
  .status { padding: 0.5rem 1.25rem; border-radius: 999px; font-weight: 700; color: #fff; }
  .status.pass { background: var(--ok); }
  .status.fail { background: var(--bad); }
  .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; }
  .metric .label { color: var(--muted); font-size: 0.75rem; text-transform: uppercase; }
  .metric .value { font-size: 1.5rem; font-weight: 700; }
  h2 { font-size: 1.125rem; margin-bottom: 1rem; }
  table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
  th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid var(--border); }
  td.fail { color: var(--bad); font-weight: 600; }
  .error { color: var(--bad); }
</style>
</head>
<body>
<div class="container">
  <div class="card header">
    <div>
      <h1>{{.Name}}</h1>
      {{if .Description}}<p>{{.Description}}</p>{{end}}
      <p class="muted">run {{.RunID}} &middot; {{timestamp .StartTime}} &middot; {{formatDuration .Duration}}</p>
    </div>
    <div class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}PASSED{{else}}FAILED{{end}}</div>
  </div>
  {{if .Error}}<div class="card error">{{.Error}}</div>{{end}}

  <div class="card">
    <h2>Sessions</h2>
    <div class="grid">
      <div class="metric"><div class="label">Spawned</div><div class="value">{{.Sessions.Spawned}}</div></div>
      <div class="metric"><div class="label">Succeeded</div><div class="value">{{.Sessions.Succeeded}}</div></div>
      <div class="metric"><div class="label">Failed</div><div class="value">{{.Sessions.Failed}}</div></div>
      <div class="metric"><div class="label">Peak</div><div class="value">{{.Sessions.Peak}}</div></div>
      <div class="metric"><div class="label">Credentials</div><div class="value">{{.Sessions.Pool.Available}} / {{.Sessions.Pool.Total}}</div></div>
    </div>
    {{if .Sessions.Forced}}<p class="error">Sessions were force-stopped after the graceful stop timeout.</p>{{end}}
  </div>

  {{with .Metrics}}
  <div class="card">
    <h2>Tasks</h2>
    <div class="grid">
      <div class="metric"><div class="label">Total</div><div class="value">{{formatNumber .TotalTasks}}</div></div>
      <div class="metric"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .TasksPerSecond}}/s</div></div>
      <div class="metric"><div class="label">Success Rate</div><div class="value">{{successRate .}}</div></div>
      <div class="metric"><div class="label">Error Rate</div><div class="value">{{percent .ErrorRate}}</div></div>
      <div class="metric"><div class="label">P95 Latency</div><div class="value">{{formatLatency .Latency.P95}}</div></div>
    </div>
  </div>

  <div class="card">
    <h2>Latency Distribution</h2>
    <table>
      <tr><th>Min</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th><th>Mean</th></tr>
      <tr>
        <td>{{formatLatency .Latency.Min}}</td><td>{{formatLatency .Latency.P50}}</td><td>{{formatLatency .Latency.P90}}</td>
        <td>{{formatLatency .Latency.P95}}</td><td>{{formatLatency .Latency.P99}}</td><td>{{formatLatency .Latency.Max}}</td>
        <td>{{formatLatency .Latency.Mean}}</td>
      </tr>
    </table>
  </div>

  {{if .Tasks}}
  <div class="card">
    <h2>Per-Task Statistics</h2>
    <table>
      <tr><th>Task</th><th>OK</th><th>Failed</th><th>Mean</th><th>P95</th><th>P99</th><th>Errors</th><th>Last Error</th></tr>
      {{range .Tasks}}
      <tr>
        <td>{{.Name}}</td>
        <td>{{formatNumber .Success}}</td>
        <td class="{{if .Failures}}fail{{end}}">{{formatNumber .Failures}}</td>
        <td>{{formatLatency .Latency.Mean}}</td>
        <td>{{formatLatency .Latency.P95}}</td>
        <td>{{formatLatency .Latency.P99}}</td>
        <td>{{errorKinds .Errors}}</td>
        <td class="muted">{{.LastError}}</td>
      </tr>
      {{end}}
    </table>
  </div>
  {{end}}
  {{end}}

  {{if .Events}}
  <div class="card">
    <h2>Session Events</h2>
    <table>
      {{range .Events}}<tr><td>{{.Kind}}</td><td>{{formatNumber .Count}}</td></tr>{{end}}
    </table>
  </div>
  {{end}}

  <p class="muted">Generated by herd &middot; {{timestamp .EndTime}}</p>
</div>
</body>
</html>
`
