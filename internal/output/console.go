package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/herd/internal/engine"
	"github.com/wesleyorama2/herd/internal/metrics"
	"github.com/wesleyorama2/herd/internal/report"
)

// Cursor control for the live display.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

// Box drawing characters
const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64 // 0.0 to 1.0
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveSessions int
	TargetSessions int
	Stage          int

	TasksPerSecond float64
	TotalTasks     int64
	Failures       int64
	FailureRate    float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	// Credentials not currently leased
	Available int
	Waiting   int
}

// Console manages live console output during test execution.
type Console struct {
	testName      string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	scheme        *ColorScheme
	quiet         bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	TestName      string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var scheme *ColorScheme
	switch {
	case config.NoColor:
		scheme = NoColorScheme()
	case config.ForceColors:
		scheme = DefaultColorScheme()
		scheme.EnableColors()
	case isTTY && supportsColors():
		scheme = DefaultColorScheme()
	default:
		scheme = NoColorScheme()
	}

	return &Console{
		testName:      config.TestName,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		scheme:        scheme,
		quiet:         config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *Console) PrintHeader(runID string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.scheme.Rule.Sprint(line))
	c.writeln(c.scheme.Title.Sprintf("%s - Running", c.testName))
	c.writeln(c.scheme.Dim.Sprintf("run %s, %s planned", runID, formatDuration(c.totalDuration)))
	c.writeln(c.scheme.Rule.Sprint(line))
	c.writeln("")
}

// Update redraws the live display. It does nothing unless the output is a
// terminal.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a one-line status for logs and CI.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Sessions: %d/%d | Tasks: %d | TPS: %.1f | Failures: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveSessions,
		stats.TargetSessions,
		stats.TotalTasks,
		stats.TasksPerSecond,
		stats.Failures,
		stats.FailureRate*100,
		formatDurationShort(stats.LatencyP95)))
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	s := c.scheme
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		s.Progress.Sprint(renderProgressBar(stats.Progress, 40)),
		s.Title.Sprintf("%.0f%%", stats.Progress*100),
		s.Dim.Sprint(timeInfo)))
	lines = append(lines, fmt.Sprintf("Stage:    %s", s.Stage.Sprintf("%d", stats.Stage+1)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, s.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	sessions := fmt.Sprintf("Sessions: %s / %d", s.Value.Sprintf("%d", stats.ActiveSessions), stats.TargetSessions)
	tasks := fmt.Sprintf("Tasks:       %s", s.Value.Sprint(formatNumber(stats.TotalTasks)))
	lines = append(lines, c.formatBoxRow(sessions, tasks, boxWidth))

	rate := s.Rate(stats.FailureRate)
	tps := fmt.Sprintf("TPS:      %s", s.Good.Sprintf("%.1f", stats.TasksPerSecond))
	failures := fmt.Sprintf("Failures:    %s (%s)",
		rate.Sprintf("%d", stats.Failures),
		rate.Sprintf("%.1f%%", stats.FailureRate*100))
	lines = append(lines, c.formatBoxRow(tps, failures, boxWidth))

	p95 := fmt.Sprintf("P95:      %s", s.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avg := fmt.Sprintf("Avg:         %s", s.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95, avg, boxWidth))

	pool := fmt.Sprintf("Free:     %s", s.Value.Sprintf("%d", stats.Available))
	waiting := fmt.Sprintf("Waiting:     %s", s.Value.Sprintf("%d", stats.Waiting))
	lines = append(lines, c.formatBoxRow(pool, waiting, boxWidth))

	lines = append(lines, s.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2 // 2 borders + 2 padding

	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)

	bar := c.scheme.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		bar, left, strings.Repeat(" ", leftPadding),
		bar, right, strings.Repeat(" ", rightPadding),
		bar)
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the final test summary.
func (c *Console) PrintSummary(result *engine.Result) {
	if result == nil {
		return
	}
	if c.quiet {
		if result.Passed {
			c.writeln(c.scheme.Good.Sprint("PASSED"))
		} else {
			c.writeln(c.scheme.Bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}
	writeSummary(c.writer, c.scheme, result)
}

// writeSummary renders result as text.
func writeSummary(w io.Writer, s *ColorScheme, result *engine.Result) {
	line := strings.Repeat(boxHorizontal, 56)
	status, statusColor := "Completed ✓", s.Good
	if !result.Passed {
		status, statusColor = "Failed ✗", s.Bad
	}
	if result.Sessions.Cancelled {
		status += " (cancelled)"
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, s.Rule.Sprint(line))
	fmt.Fprintf(w, "%s - %s\n", s.Title.Sprint(result.Name), statusColor.Sprint(status))
	fmt.Fprintln(w, s.Rule.Sprint(line))
	fmt.Fprintln(w)

	sess := result.Sessions
	fmt.Fprintf(w, "Run:           %s\n", s.Dim.Sprint(result.RunID))
	fmt.Fprintf(w, "Duration:      %s\n", s.Value.Sprint(formatDuration(result.Duration)))
	fmt.Fprintf(w, "Sessions:      %s spawned, %s succeeded, %s failed, peak %d\n",
		s.Value.Sprint(sess.Spawned), s.Good.Sprint(sess.Succeeded), failColor(s, sess.Failed).Sprint(sess.Failed), sess.Peak)
	fmt.Fprintf(w, "Credentials:   %d total, %d outstanding\n", sess.Pool.Total, sess.Pool.Outstanding)
	if sess.Forced {
		fmt.Fprintf(w, "%s graceful stop expired; requests in flight were cancelled\n", s.Warn.Sprint("⚠"))
	}
	if result.Error != "" {
		fmt.Fprintf(w, "%s %s\n", s.Bad.Sprint("✗"), result.Error)
	}

	m := result.Metrics
	if m == nil {
		return
	}

	successRate := 1.0
	if m.TotalTasks > 0 {
		successRate = float64(m.SuccessTasks) / float64(m.TotalTasks)
	}
	fmt.Fprintf(w, "Tasks:         %s (%.1f/s)\n", s.Value.Sprint(formatNumber(m.TotalTasks)), m.TasksPerSecond)
	fmt.Fprintf(w, "Success Rate:  %s\n", s.Rate(1-successRate).Sprintf("%.1f%%", successRate*100))
	fmt.Fprintln(w)

	fmt.Fprintln(w, s.Label.Sprint("Latency Distribution:"))
	fmt.Fprintf(w, "  Min:       %s\n", formatDurationShort(m.Latency.Min))
	fmt.Fprintf(w, "  P50:       %s\n", formatDurationShort(m.Latency.P50))
	fmt.Fprintf(w, "  P90:       %s\n", formatDurationShort(m.Latency.P90))
	fmt.Fprintf(w, "  P95:       %s\n", formatDurationShort(m.Latency.P95))
	fmt.Fprintf(w, "  P99:       %s\n", formatDurationShort(m.Latency.P99))
	fmt.Fprintf(w, "  Max:       %s\n", formatDurationShort(m.Latency.Max))
	fmt.Fprintln(w)

	if len(m.Tasks) > 0 {
		fmt.Fprintln(w, s.Label.Sprint("Tasks:"))
		fmt.Fprintf(w, "  %-24s %8s %8s %10s %10s\n", "NAME", "OK", "FAILED", "P50", "P95")
		for _, ts := range m.Tasks {
			fmt.Fprintf(w, "  %-24s %8d %s %10s %10s\n",
				truncateName(ts.Name, 24),
				ts.Success,
				failColor(s, int(ts.Failures)).Sprintf("%8d", ts.Failures),
				formatDurationShort(ts.Latency.P50),
				formatDurationShort(ts.Latency.P95))
		}
		fmt.Fprintln(w)
	}

	if failing := failingTasks(m.Tasks); len(failing) > 0 {
		fmt.Fprintln(w, s.Label.Sprint("Failures:"))
		for _, ts := range failing {
			fmt.Fprintf(w, "  %s %s: %s\n", s.Bad.Sprint("✗"), ts.Name, formatErrorKinds(ts.Errors))
			if ts.LastError != "" {
				fmt.Fprintf(w, "      %s\n", s.Dim.Sprint(ts.LastError))
			}
		}
		fmt.Fprintln(w)
	}

	if len(m.Events) > 0 {
		fmt.Fprintln(w, s.Label.Sprint("Session Events:"))
		for _, kind := range sortedEvents(m.Events) {
			fmt.Fprintf(w, "  %-20s %d\n", kind, m.Events[kind])
		}
		fmt.Fprintln(w)
	}
}

func failColor(s *ColorScheme, n int) *color.Color {
	if n > 0 {
		return s.Bad
	}
	return s.Good
}

func failingTasks(tasks []metrics.TaskStats) []metrics.TaskStats {
	var failing []metrics.TaskStats
	for _, ts := range tasks {
		if ts.Failures > 0 {
			failing = append(failing, ts)
		}
	}
	return failing
}

func formatErrorKinds(kinds map[string]int64) string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%d %s", kinds[k], k)
	}
	return strings.Join(parts, ", ")
}

func sortedEvents(events map[report.EventKind]int64) []report.EventKind {
	kinds := make([]report.EventKind, 0, len(events))
	for k := range events {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func truncateName(name string, n int) string {
	r := []rune(name)
	if len(r) <= n {
		return name
	}
	return string(r[:n-1]) + "…"
}

// StatsFromSnapshot creates LiveStats from engine metrics.
func StatsFromSnapshot(snap *metrics.Snapshot, progress float64, totalDuration time.Duration, available, waiting int) *LiveStats {
	if snap == nil {
		return &LiveStats{Progress: progress}
	}

	remaining := max(totalDuration-snap.Elapsed, 0)
	return &LiveStats{
		Progress:       progress,
		Elapsed:        snap.Elapsed,
		Remaining:      remaining,
		ActiveSessions: snap.ActiveSessions,
		TargetSessions: snap.TargetSessions,
		Stage:          snap.Stage,
		TasksPerSecond: snap.TasksPerSecond,
		TotalTasks:     snap.TotalTasks,
		Failures:       snap.FailedTasks,
		FailureRate:    snap.ErrorRate,
		LatencyP95:     snap.Latency.P95,
		LatencyAvg:     snap.Latency.Mean,
		Available:      available,
		Waiting:        waiting,
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result strings.Builder
	if neg {
		result.WriteString("-")
	}
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// visibleLen is the printed width of s, ignoring ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		n++
	}
	return n
}
