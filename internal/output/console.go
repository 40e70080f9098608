// Package output renders run progress, verdicts and history for the
// terminal and serialises reports for CI.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/loadcheck/internal/history"
	"github.com/wesleyorama2/loadcheck/internal/performance"
	"github.com/wesleyorama2/loadcheck/internal/performance/config"
	"github.com/wesleyorama2/loadcheck/internal/performance/engine"
	"github.com/wesleyorama2/loadcheck/internal/performance/metrics"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

const ruleWidth = 56

// Console prints run progress and the final verdict.
type Console struct {
	writer   io.Writer
	colors   *ColorScheme
	quiet    bool
	progress func() float64

	mu sync.Mutex
}

var _ engine.Observer = (*Console)(nil)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer io.Writer
	Colors *ColorScheme
	Quiet  bool

	// Progress reports run progress (0.0 to 1.0) for interval lines.
	Progress func() float64
}

// NewConsole creates a console. A nil Colors picks colors based on
// whether Writer is a terminal.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Colors == nil {
		if SupportsColor(cfg.Writer) {
			cfg.Colors = ForcedColorScheme()
		} else {
			cfg.Colors = NoColorScheme()
		}
	}
	return &Console{
		writer:   cfg.Writer,
		colors:   cfg.Colors,
		quiet:    cfg.Quiet,
		progress: cfg.Progress,
	}
}

// SetProgress sets the progress source used by interval lines.
func (c *Console) SetProgress(fn func() float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = fn
}

// PrintHeader prints the scenario banner.
func (c *Console) PrintHeader(plan *config.Plan) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - Running [%s]", c.colors.Title.Sprint(plan.Name), plan.Executor))
	switch plan.Executor {
	case config.ExecutorConstantArrivalRate:
		c.writeln(c.colors.Dim.Sprintf("%g iterations/%s for %s, %d-%d contexts",
			plan.ArrivalRate, plan.TimeUnit, plan.Duration, plan.MinContexts, plan.MaxContexts))
	case config.ExecutorSharedIterations:
		c.writeln(c.colors.Dim.Sprintf("%d iterations across %d VUs, max %s",
			plan.Iterations, plan.VUs, plan.MaxDuration))
	}
	c.writeln(rule)
	c.writeln("")
}

// OnIteration implements engine.Observer.
func (c *Console) OnIteration(performance.IterationResult) {}

// OnInterval implements engine.Observer by printing a one-line status.
func (c *Console) OnInterval(bucket *metrics.TimeBucket, verdict *threshold.Verdict) {
	if c.quiet || bucket == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	progress := ""
	if c.progress != nil {
		progress = fmt.Sprintf(" %3.0f%% |", c.progress()*100)
	}
	status := threshold.StatusInconclusive
	if verdict != nil {
		status = verdict.Status
	}

	c.writeln(fmt.Sprintf("[%s]%s iters: %s | rate: %.1f/s | failed: %d | dropped: %d | p95: %s | p99: %s | %s",
		formatDuration(bucket.Elapsed),
		progress,
		formatNumber(bucket.TotalIterations),
		bucket.IntervalRate,
		bucket.IntervalFailures,
		bucket.IntervalDropped,
		formatDurationShort(bucket.LatencyP95),
		formatDurationShort(bucket.LatencyP99),
		c.colors.ForStatus(status).Sprint(status)))
}

// PrintSummary prints the final verdict and statistics.
func (c *Console) PrintSummary(report *engine.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := report.Status()
	statusColor := c.colors.ForStatus(status)
	if c.quiet {
		c.writeln(statusColor.Sprint(strings.ToUpper(string(status))))
		return
	}

	rule := c.colors.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(report.Name), statusColor.Sprint(strings.ToUpper(string(status)))))
	c.writeln(rule)
	c.writeln("")

	if v := report.Verdict; v != nil && v.Aborted {
		c.writeln(fmt.Sprintf("Aborted:       %s", c.colors.Fail.Sprint(v.AbortReason)))
	}
	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.Dim.Sprint(report.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(report.Duration))))

	snap := report.Snapshot()
	if snap != nil {
		c.writeln(fmt.Sprintf("Iterations:    %s (%.1f/s)", c.colors.Value.Sprint(formatNumber(snap.Count)), snap.IterationRate()))
		failureRate, _ := snap.FailureRate()
		failColor := c.colors.Pass
		if snap.FailureCount > 0 {
			failColor = c.colors.Fail
		}
		c.writeln(fmt.Sprintf("Failed:        %s", failColor.Sprintf("%s (%.2f%%)", formatNumber(snap.FailureCount), failureRate*100)))
		droppedColor := c.colors.Value
		if snap.Dropped > 0 {
			droppedColor = c.colors.Inconclusive
		}
		c.writeln(fmt.Sprintf("Dropped:       %s (%d saturated ticks)", droppedColor.Sprint(formatNumber(snap.Dropped)), snap.CapacityExhaustedTicks))
	}
	if stats := report.ExecutorStats; stats != nil {
		c.writeln(fmt.Sprintf("Peak contexts: %s / %d", c.colors.Value.Sprint(stats.Pool.Peak), stats.Pool.Max))
	}
	c.writeln("")

	if snap != nil {
		c.printLatency("Request Duration:", snap.RequestLatency)
		c.printLatency("Iteration Duration:", snap.Latency)
	}

	if snap != nil && len(snap.Checks) > 0 {
		c.writeln(c.colors.Label.Sprint("Checks:"))
		names := make([]string, 0, len(snap.Checks))
		for name := range snap.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			counts := snap.Checks[name]
			icon := c.colors.Pass.Sprint("✓")
			if counts.Fails > 0 {
				icon = c.colors.Fail.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s: %d passed, %d failed", icon, name, counts.Passes, counts.Fails))
		}
		c.writeln("")
	}

	if snap != nil && len(snap.FailureReasons) > 0 {
		c.writeln(c.colors.Label.Sprint("Failure reasons:"))
		reasons := make([]string, 0, len(snap.FailureReasons))
		for reason := range snap.FailureReasons {
			reasons = append(reasons, reason)
		}
		sort.Slice(reasons, func(i, j int) bool {
			ri, rj := snap.FailureReasons[reasons[i]], snap.FailureReasons[reasons[j]]
			if ri != rj {
				return ri > rj
			}
			return reasons[i] < reasons[j]
		})
		for _, reason := range reasons {
			c.writeln(fmt.Sprintf("  %6d  %s", snap.FailureReasons[reason], reason))
		}
		c.writeln("")
	}

	if v := report.Verdict; v != nil && len(v.Results) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, r := range v.Results {
			icon := c.colors.ForResult(r.Status).Sprint(ResultIcon(r.Status))
			c.writeln(fmt.Sprintf("  %s %s %s (%s)", icon, r.Expr.Metric, r.Expr.Source, r.Message))
		}
		c.writeln("")
	}
}

// PrintHistory prints stored runs, newest first.
func (c *Console) PrintHistory(entries []history.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(entries) == 0 {
		c.writeln("No runs recorded.")
		return
	}
	c.writeln(c.colors.Label.Sprintf("%-20s  %-13s  %-24s  %10s  %8s  %8s  %9s", "STARTED", "STATUS", "SCENARIO", "ITERATIONS", "FAILED", "DROPPED", "P99"))
	for _, e := range entries {
		status := fmt.Sprintf("%-13s", e.Status)
		if e.Aborted {
			status = fmt.Sprintf("%-13s", string(e.Status)+" (abrt)")
		}
		c.writeln(fmt.Sprintf("%-20s  %s  %-24s  %10d  %8d  %8d  %9s",
			e.StartTime.Local().Format("2006-01-02 15:04:05"),
			c.colors.ForStatus(e.Status).Sprint(status),
			truncate(e.Scenario, 24),
			e.Iterations, e.Failures, e.Dropped,
			formatDurationShort(e.P99)))
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
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
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

func (c *Console) printLatency(title string, l metrics.LatencyStats) {
	if l.Count == 0 {
		return
	}
	c.writeln(c.colors.Label.Sprint(title))
	c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(l.Min)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(l.P50)))
	c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(l.P90)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(l.P95)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(l.P99)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(l.Max)))
	c.writeln("")
}
