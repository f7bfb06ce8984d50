package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/config"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/http"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/logging"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultPreviewChars is how much of the CSV export is displayed
	DefaultPreviewChars = 200
)

var (
	// ErrMissingIdentifier is returned when a response lacks the identifier
	// a later step depends on
	ErrMissingIdentifier = errors.New("missing identifier")
	// ErrIntrospectionTimeout is returned when the schema never became ready
	ErrIntrospectionTimeout = errors.New("introspection not ready")
)

type Runner struct {
	client   *http.Client
	config   *Config
	logger   *zap.Logger
	recorder *metrics.Recorder
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	DataSource      config.DataSourceConfig
	Session         config.SessionConfig
	Introspection   config.IntrospectionConfig
	PreviewChars    int
	ValidateExports bool
	// ExportSchema overrides the JSON Schema applied to the JSON export
	ExportSchema string
}

// ConfigFromFile converts a loaded configuration into runner settings
func ConfigFromFile(c *config.Config) *Config {
	return &Config{
		BaseURL:         c.BaseURL,
		Timeout:         c.Timeout,
		DataSource:      c.DataSource,
		Session:         c.Session,
		Introspection:   c.Introspection,
		PreviewChars:    c.Export.PreviewChars,
		ValidateExports: c.Export.GetValidate(),
		ExportSchema:    c.Export.Schema,
	}
}

// Observer receives step progress while a run is in flight
type Observer interface {
	StepStarted(index int, step *StepResult)
	StepFinished(step *StepResult)
}

type Option func(*Runner)

// WithHTTPClient replaces the client built from Config
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		r.client = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.OrNop(l)
	}
}

func WithRecorder(rec *metrics.Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithSleep replaces the function used for fixed delays
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		r.sleep = fn
	}
}

func New(cfg *Config, opts ...Option) *Runner {
	if cfg == nil {
		cfg = ConfigFromFile(config.DefaultConfig())
	}

	r := &Runner{
		config: cfg,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		clientOpts := []http.ClientOption{}
		if cfg.Timeout > 0 {
			clientOpts = append(clientOpts, http.WithTimeout(cfg.Timeout))
		}
		r.client = http.NewClient(clientOpts...)
	}
	if r.recorder == nil {
		r.recorder = metrics.NewRecorder()
	}
	return r
}

// StepStatus is the outcome of a single step
type StepStatus string

const (
	StepPassed    StepStatus = "passed"
	StepFailed    StepStatus = "failed"
	StepTolerated StepStatus = "tolerated"
	StepNotRun    StepStatus = "not_run"
)

type StepResult struct {
	Name       string
	Title      string
	Status     StepStatus
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	Payload    *Payload
	Output     string
	Warnings   []string
	Err        error
}

type RunResult struct {
	ID           string
	BaseURL      string
	Started      time.Time
	Duration     time.Duration
	Steps        []*StepResult
	Requests     []*RequestRecord
	DataSourceID string
	SessionID    string
	Latency      *metrics.Summary
	// Err is the first fatal step error; nil when the scenario completed
	Err error
}

// Passed reports whether every fatal step succeeded
func (r *RunResult) Passed() bool {
	return r.Err == nil
}

// Step returns the result for the named step, or nil
func (r *RunResult) Step(name string) *StepResult {
	for _, s := range r.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Count returns how many steps ended with status
func (r *RunResult) Count(status StepStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// StepError wraps the error of the step that ended a run
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// execution holds the state threaded through a single run
type execution struct {
	r      *Runner
	result *RunResult
}

// Run executes the fixed scenario. It never exits the process: the first
// fatal failure is returned in RunResult.Err and later steps are marked
// not run.
func (r *Runner) Run(ctx context.Context) *RunResult {
	result := &RunResult{
		ID:      uuid.NewString(),
		BaseURL: r.config.BaseURL,
		Started: time.Now(),
	}
	e := &execution{r: r, result: result}
	log := r.logger.With(zap.String("run_id", result.ID))
	log.Info("starting smoke run", zap.String("base_url", r.config.BaseURL))

	steps := e.steps()
	for _, s := range steps {
		result.Steps = append(result.Steps, &StepResult{
			Name:   s.name,
			Title:  s.title,
			Status: StepNotRun,
		})
	}

	for i, s := range steps {
		st := result.Steps[i]
		if r.observer != nil {
			r.observer.StepStarted(i+1, st)
		}

		start := time.Now()
		err := s.run(ctx, st)
		st.Duration = time.Since(start)
		st.StatusCode = lastStatus(result, s.name, err)

		switch {
		case err == nil:
			st.Status = StepPassed
		case s.tolerate && ctx.Err() == nil && !IsTransport(err):
			st.Status = StepTolerated
			st.Err = err
			log.Warn("step failed, continuing", zap.String("step", s.name), zap.Error(err))
		default:
			st.Status = StepFailed
			st.Err = err
			result.Err = &StepError{Step: s.name, Err: err}
			log.Error("step failed, stopping run", zap.String("step", s.name), zap.Error(err))
		}

		if r.observer != nil {
			r.observer.StepFinished(st)
		}
		if result.Err != nil {
			break
		}
	}

	r.client.CloseIdleConnections()
	result.Duration = time.Since(result.Started)
	result.Latency = r.recorder.Summary()
	log.Info("smoke run finished",
		zap.Bool("passed", result.Passed()),
		zap.Duration("duration", result.Duration),
		zap.Int("requests", len(result.Requests)),
	)
	return result
}

func lastStatus(result *RunResult, step string, err error) int {
	if code := StatusCode(err); code != 0 {
		return code
	}
	for i := len(result.Requests) - 1; i >= 0; i-- {
		if result.Requests[i].Step == step {
			return result.Requests[i].StatusCode
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
