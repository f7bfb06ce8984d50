package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/metrics"
)

// JSONOutput is the report written by JSONFormatter
type JSONOutput struct {
	RunID        string                  `json:"runId"`
	BaseURL      string                  `json:"baseUrl"`
	Passed       bool                    `json:"passed"`
	Summary      JSONSummary             `json:"summary"`
	DataSourceID string                  `json:"dataSourceId,omitempty"`
	SessionID    string                  `json:"sessionId,omitempty"`
	Steps        []JSONStep              `json:"steps"`
	Requests     []*runner.RequestRecord `json:"requests"`
	Latency      *metrics.Summary        `json:"latency,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Errors       []string                `json:"errors,omitempty"`
	Duration     float64                 `json:"duration"`
	Time         string                  `json:"time"`
}

// JSONSummary counts steps by status
type JSONSummary struct {
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Tolerated int `json:"tolerated"`
	Failed    int `json:"failed"`
	NotRun    int `json:"notRun"`
}

// JSONStep is a single step of the report
type JSONStep struct {
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	Method     string   `json:"method,omitempty"`
	Path       string   `json:"path,omitempty"`
	StatusCode int      `json:"statusCode,omitempty"`
	Duration   float64  `json:"duration"`
	Kind       string   `json:"kind,omitempty"`
	Output     string   `json:"output,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// JSONFormatter collects a run and writes it as one JSON document on Flush
type JSONFormatter struct {
	writer io.Writer
	result *runner.RunResult
	errors []string
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatResult(result *runner.RunResult) {
	f.result = result
}

func (f *JSONFormatter) FormatError(err error) {
	f.errors = append(f.errors, err.Error())
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	out := JSONOutput{
		Steps:    []JSONStep{},
		Requests: []*runner.RequestRecord{},
		Errors:   f.errors,
		Duration: float64(totalDuration.Milliseconds()),
		Time:     time.Now().Format(time.RFC3339),
	}

	if r := f.result; r != nil {
		out.RunID = r.ID
		out.BaseURL = r.BaseURL
		out.Passed = r.Passed()
		out.DataSourceID = r.DataSourceID
		out.SessionID = r.SessionID
		out.Latency = r.Latency
		if r.Requests != nil {
			out.Requests = r.Requests
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		out.Summary = JSONSummary{
			Total:     len(r.Steps),
			Passed:    r.Count(runner.StepPassed),
			Tolerated: r.Count(runner.StepTolerated),
			Failed:    r.Count(runner.StepFailed),
			NotRun:    r.Count(runner.StepNotRun),
		}
		for _, st := range r.Steps {
			out.Steps = append(out.Steps, jsonStep(st))
		}
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func jsonStep(st *runner.StepResult) JSONStep {
	s := JSONStep{
		Name:       st.Name,
		Status:     string(st.Status),
		Method:     st.Method,
		Path:       st.Path,
		StatusCode: st.StatusCode,
		Duration:   float64(st.Duration.Milliseconds()),
		Output:     st.Output,
		Warnings:   st.Warnings,
	}
	if st.Payload != nil {
		s.Kind = st.Payload.Kind.String()
	}
	if st.Err != nil {
		s.Error = st.Err.Error()
	}
	return s
}
