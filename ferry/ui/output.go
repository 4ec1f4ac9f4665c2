package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/wzshiming/ctc"
)

// Output writes human-oriented progress. It is safe for concurrent use by
// the goroutines of one batch.
type Output struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func NewOutput(stdout, stderr io.Writer) *Output {
	return &Output{
		stdout: stdout,
		stderr: stderr,
	}
}

func (o *Output) Stdout() io.Writer { return o.stdout }
func (o *Output) Stderr() io.Writer { return o.stderr }

func (o *Output) printf(w io.Writer, format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(w, format, args...)
}

// Header prints a formatted section header
func (o *Output) Header(text string) {
	line := strings.Repeat("=", len(text))
	o.printf(o.stdout, "\n%s\n%s\n%s\n\n", line, text, line)
}

func (o *Output) Info(format string, args ...any) {
	o.printf(o.stdout, format+"\n", args...)
}

func (o *Output) Success(format string, args ...any) {
	o.printf(o.stdout, "%s✓%s "+format+"\n", append([]any{ctc.ForegroundGreen, ctc.Reset}, args...)...)
}

func (o *Output) Error(format string, args ...any) {
	o.printf(o.stderr, o.DotRed()+" "+format+"\n", args...)
}

func (o *Output) Warning(format string, args ...any) {
	o.printf(o.stdout, "%s⚠%s "+format+"\n", append([]any{ctc.ForegroundYellow, ctc.Reset}, args...)...)
}

// HostLog prints a host-specific log message
func (o *Output) HostLog(host, format string, args ...any) {
	timestamp := time.Now().Format("15:04:05")
	message := fmt.Sprintf(format, args...)
	o.printf(o.stdout, "[%s] [%s%s%s] %s\n", timestamp, ctc.ForegroundCyan, host, ctc.Reset, message)
}

// HostStderr prints a line a host wrote to its stderr
func (o *Output) HostStderr(host, line string) {
	timestamp := time.Now().Format("15:04:05")
	o.printf(o.stderr, "[%s] [%s%s%s] %s\n", timestamp, ctc.ForegroundYellow, host, ctc.Reset, line)
}

// HostError prints a host-specific failure to stderr
func (o *Output) HostError(host string, err error) {
	o.printf(o.stderr, "[%s] %s✗%s %v\n", host, ctc.ForegroundRed, ctc.Reset, err)
}

func (o *Output) StepProgress(current, total int, name string) {
	o.printf(o.stdout, "\nStep %d/%d: %s\n", current, total, name)
}

func (o *Output) BatchProgress(current, total, hostCount int) {
	o.printf(o.stdout, "Batch %d/%d (%d hosts)\n", current, total, hostCount)
}

func (o *Output) DryRunHeader(plan string) {
	o.Header(fmt.Sprintf("DRY-RUN: %s", plan))
	o.Info("This will execute the following actions:")
}

func (o *Output) PlanStarted(plan, runID string) {
	o.Header(fmt.Sprintf("Plan: %s", plan))
	o.Info("Run ID: %s", runID)
	o.Info("Started: %s", time.Now().Format(time.RFC3339))
}

func (o *Output) PlanCompleted(duration time.Duration) {
	o.Success("Plan completed successfully")
	o.Info("Duration: %s", duration.Round(time.Millisecond))
}

func (o *Output) PlanFailed(step, host string, err error) {
	o.Error("Plan failed")
	if step != "" {
		o.Info("Failed step: %s", step)
	}
	if host != "" {
		o.Info("Failed host: %s", host)
	}
	o.Info("Error: %v", err)
}

// Table renders rows under header in the light box style.
func (o *Output) Table(header []string, rows [][]string) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	t.AppendHeader(headerRow)

	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		t.AppendRow(row)
	}

	o.printf(o.stdout, "%s\n", t.Render())
}

func (o *Output) DotRed() string {
	return fmt.Sprint(ctc.ForegroundRed, "•", ctc.Reset)
}
