package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"gopkg.in/yaml.v3"
)

// TAPFormatter formats steps in TAP (Test Anything Protocol) version 13.
// A tolerated step is reported as "not ok ... # TODO" so TAP consumers do
// not count it as a failure.
type TAPFormatter struct {
	writer  io.Writer
	results []tapResult
}

type tapResult struct {
	number    int
	name      string
	status    runner.StepStatus
	directive string
	// diagnostic is rendered as the YAML block under the test line
	diagnostic map[string]any
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{
		writer:  os.Stdout,
		results: make([]tapResult, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

func (f *TAPFormatter) FormatResult(result *runner.RunResult) {
	for _, st := range result.Steps {
		tr := tapResult{
			number: len(f.results) + 1,
			name:   st.Name,
			status: st.Status,
		}

		switch st.Status {
		case runner.StepNotRun:
			tr.directive = "# SKIP not run"
		case runner.StepTolerated:
			tr.directive = "# TODO tolerated failure"
		}

		if st.Err != nil || len(st.Warnings) > 0 {
			tr.diagnostic = map[string]any{
				"method": st.Method,
				"path":   st.Path,
			}
			if st.StatusCode != 0 {
				tr.diagnostic["status"] = st.StatusCode
			}
			if st.Err != nil {
				tr.diagnostic["message"] = st.Err.Error()
				tr.diagnostic["severity"] = "fail"
			}
			if len(st.Warnings) > 0 {
				tr.diagnostic["warnings"] = st.Warnings
			}
		}

		f.results = append(f.results, tr)
	}
}

func (f *TAPFormatter) FormatError(err error) {
	fmt.Fprintf(f.writer, "Bail out! %v\n", err)
}

func (f *TAPFormatter) FormatHeader(version string) {
	// Header is written in Flush
}

// Flush writes the accumulated TAP output
func (f *TAPFormatter) Flush(totalDuration time.Duration) error {
	fmt.Fprintf(f.writer, "TAP version 13\n")
	fmt.Fprintf(f.writer, "1..%d\n", len(f.results))

	for _, r := range f.results {
		ok := "ok"
		if r.status == runner.StepFailed || r.status == runner.StepTolerated {
			ok = "not ok"
		}
		line := fmt.Sprintf("%s %d - %s", ok, r.number, r.name)
		if r.directive != "" {
			line += " " + r.directive
		}
		fmt.Fprintln(f.writer, line)

		if r.diagnostic != nil {
			block, err := yaml.Marshal(r.diagnostic)
			if err != nil {
				return fmt.Errorf("encoding TAP diagnostic: %w", err)
			}
			fmt.Fprintf(f.writer, "  ---\n")
			for _, l := range strings.Split(strings.TrimRight(string(block), "\n"), "\n") {
				fmt.Fprintf(f.writer, "  %s\n", l)
			}
			fmt.Fprintf(f.writer, "  ...\n")
		}
	}

	fmt.Fprintf(f.writer, "# time %dms\n", totalDuration.Milliseconds())
	return nil
}
