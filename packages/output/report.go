package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/courier/packages/metrics"
)

// Reporter prints the summary of a repeated run.
type Reporter struct {
	writer  io.Writer
	verbose bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	bold   *color.Color
}

type ReporterOption func(*Reporter)

func ReportTo(w io.Writer) ReporterOption {
	return func(r *Reporter) {
		r.writer = w
	}
}

// ReportEndpoints adds the per endpoint breakdown.
func ReportEndpoints(verbose bool) ReporterOption {
	return func(r *Reporter) {
		r.verbose = verbose
	}
}

func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{writer: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}
	r.green = color.New(color.FgGreen)
	r.red = color.New(color.FgRed)
	r.yellow = color.New(color.FgYellow)
	r.bold = color.New(color.Bold)
	return r
}

// Summary prints s and the threshold results. It reports whether every
// threshold passed.
func (r *Reporter) Summary(s metrics.Summary, thresholds []metrics.ThresholdResult) bool {
	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "SUMMARY")
	fmt.Fprintln(r.writer, strings.Repeat("─", 40))

	fmt.Fprintf(r.writer, "Duration:   %s\n", formatDuration(s.Duration))
	fmt.Fprintf(r.writer, "Total:      ")
	r.bold.Fprintf(r.writer, "%s", formatNumber(s.Total))
	fmt.Fprintf(r.writer, " requests (%.1f req/s)\n", s.RPS)

	fmt.Fprintf(r.writer, "Success:    ")
	r.green.Fprintf(r.writer, "%s", formatNumber(s.Success))
	fmt.Fprintf(r.writer, " (%.1f%%)\n", s.SuccessRate*100)

	fmt.Fprintf(r.writer, "Failed:     ")
	if s.Errors > 0 {
		r.red.Fprintf(r.writer, "%s", formatNumber(s.Errors))
	} else {
		fmt.Fprintf(r.writer, "%s", formatNumber(s.Errors))
	}
	fmt.Fprintln(r.writer)

	if s.Retries > 0 {
		fmt.Fprintf(r.writer, "Retries:    ")
		r.yellow.Fprintf(r.writer, "%s\n", formatNumber(s.Retries))
	}
	if s.Cancelled > 0 {
		fmt.Fprintf(r.writer, "Cancelled:  %s\n", formatNumber(s.Cancelled))
	}

	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "LATENCY (ms)")
	fmt.Fprintf(r.writer, "  p50: %-6s | p95: %-6s | p99: %-6s | max: %s\n",
		formatLatencyMs(s.P50), formatLatencyMs(s.P95), formatLatencyMs(s.P99), formatLatencyMs(s.Max))
	fmt.Fprintf(r.writer, "  min: %-6s | mean: %-5s | stddev: %s\n",
		formatLatencyMs(s.Min), formatLatencyMs(s.Mean), formatLatencyMs(s.StdDev))
	fmt.Fprintf(r.writer, "  first byte p50: %s\n", formatLatencyMs(s.FirstByteP50))

	if r.verbose && len(s.Endpoints) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "ENDPOINTS")
		for _, ep := range s.Endpoints {
			fmt.Fprintf(r.writer, "  %s: %s total | %s errors | p50: %s | p95: %s\n",
				ep.Name, formatNumber(ep.Total), formatNumber(ep.Errors), formatLatency(ep.P50), formatLatency(ep.P95))
		}
	}

	allPassed := true
	if len(thresholds) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "THRESHOLDS")
		for _, tr := range thresholds {
			if tr.Passed {
				r.green.Fprintf(r.writer, "  ✓ ")
			} else {
				r.red.Fprintf(r.writer, "  ✗ ")
				allPassed = false
			}
			fmt.Fprintf(r.writer, "%s %s    (actual: %s)\n", tr.Name, tr.Expected, tr.Actual)
		}
	}
	fmt.Fprintln(r.writer)
	return allPassed
}

// JSONSummary writes s and the threshold results as JSON.
func (r *Reporter) JSONSummary(s metrics.Summary, thresholds []metrics.ThresholdResult) error {
	out := map[string]any{
		"duration": s.Duration.String(),
		"requests": map[string]any{
			"total":     s.Total,
			"success":   s.Success,
			"failed":    s.Errors,
			"cancelled": s.Cancelled,
			"retries":   s.Retries,
		},
		"rates": map[string]any{
			"rps":         s.RPS,
			"successRate": s.SuccessRate,
		},
		"latency": map[string]any{
			"p50":       s.P50.Milliseconds(),
			"p95":       s.P95.Milliseconds(),
			"p99":       s.P99.Milliseconds(),
			"min":       s.Min.Milliseconds(),
			"max":       s.Max.Milliseconds(),
			"mean":      s.Mean.Milliseconds(),
			"stddev":    s.StdDev.Milliseconds(),
			"firstByte": s.FirstByteP50.Milliseconds(),
		},
	}
	if len(thresholds) > 0 {
		out["thresholds"] = thresholds
	}
	if len(s.Endpoints) > 0 {
		endpoints := make(map[string]any, len(s.Endpoints))
		for _, ep := range s.Endpoints {
			endpoints[ep.Name] = map[string]any{
				"total":  ep.Total,
				"errors": ep.Errors,
				"p50":    ep.P50.Milliseconds(),
				"p95":    ep.P95.Milliseconds(),
				"mean":   ep.Mean.Milliseconds(),
			}
		}
		out["endpoints"] = endpoints
	}

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm %02ds", minutes, seconds)
}

func formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dμs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatLatencyMs(d time.Duration) string {
	ms := float64(d.Microseconds()) / 1000
	if ms < 1 {
		return fmt.Sprintf("%.2f", ms)
	}
	if ms < 10 {
		return fmt.Sprintf("%.1f", ms)
	}
	return fmt.Sprintf("%.0f", ms)
}

// formatNumber groups thousands with commas.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	start := len(s) % 3
	if start == 0 {
		start = 3
	}
	var b strings.Builder
	b.WriteString(s[:start])
	for i := start; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
