package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/fatih/color"
)

// ConsoleFormatter prints step progress as it happens and a summary at the
// end. It implements runner.Observer.
type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("aidb-smoke"), version)
}

func (f *ConsoleFormatter) StepStarted(index int, st *runner.StepResult) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "\n%s %s\n", bold(fmt.Sprintf("[%d]", index)), bold(st.Title))
}

func (f *ConsoleFormatter) StepFinished(st *runner.StepResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	var symbol string
	switch st.Status {
	case runner.StepPassed:
		symbol = green("✓")
	case runner.StepTolerated:
		symbol = yellow("!")
	default:
		symbol = red("✗")
	}

	line := fmt.Sprintf("  %s %s %s", symbol, st.Method, st.Path)
	if st.StatusCode != 0 {
		line += fmt.Sprintf(" -> %d", st.StatusCode)
	}
	fmt.Fprintf(f.writer, "%s %s\n", line, cyan(fmt.Sprintf("(%dms)", st.Duration.Milliseconds())))

	switch st.Status {
	case runner.StepFailed:
		fmt.Fprintf(f.writer, "    %s %v\n", red("→"), st.Err)
	case runner.StepTolerated:
		fmt.Fprintf(f.writer, "    %s %v\n", yellow("→ continuing after failure:"), st.Err)
	}

	if st.Output != "" {
		for _, l := range strings.Split(strings.TrimRight(st.Output, "\n"), "\n") {
			fmt.Fprintf(f.writer, "    %s\n", l)
		}
	}
	for _, w := range st.Warnings {
		fmt.Fprintf(f.writer, "    %s %s\n", yellow("warning:"), w)
	}

	if f.verbose && st.Payload != nil {
		fmt.Fprintf(f.writer, "    Content-Type: %s (%s, %d bytes)\n", st.Payload.ContentType, st.Payload.Kind, len(st.Payload.Body))
	}
}

func (f *ConsoleFormatter) FormatResult(result *runner.RunResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Steps: ")
	if n := result.Count(runner.StepPassed); n > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", n)))
	}
	if n := result.Count(runner.StepTolerated); n > 0 {
		fmt.Fprintf(f.writer, "%s, ", yellow(fmt.Sprintf("%d tolerated", n)))
	}
	if n := result.Count(runner.StepFailed); n > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", n)))
	}
	if n := result.Count(runner.StepNotRun); n > 0 {
		fmt.Fprintf(f.writer, "%s, ", yellow(fmt.Sprintf("%d not run", n)))
	}
	fmt.Fprintf(f.writer, "%d total\n", len(result.Steps))
	fmt.Fprintf(f.writer, "Time:  %dms\n", result.Duration.Milliseconds())

	if f.verbose {
		fmt.Fprintf(f.writer, "Run:   %s\n", result.ID)
		if result.DataSourceID != "" {
			fmt.Fprintf(f.writer, "Data source: %s\n", result.DataSourceID)
		}
		if result.SessionID != "" {
			fmt.Fprintf(f.writer, "Session:     %s\n", result.SessionID)
		}
		if l := result.Latency; l != nil && l.TotalRequests > 0 {
			fmt.Fprintf(f.writer, "Latency: p50 %dms, p95 %dms, max %dms over %d requests\n",
				l.P50.Milliseconds(), l.P95.Milliseconds(), l.Max.Milliseconds(), l.TotalRequests)
		}
	}

	if result.Passed() {
		fmt.Fprintf(f.writer, "\n%s\n", green("Smoke test passed"))
	} else {
		fmt.Fprintf(f.writer, "\n%s %v\n", red("Smoke test failed:"), result.Err)
	}
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}
