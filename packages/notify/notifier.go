// Package notify sends smoke run results to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"golang.org/x/sync/errgroup"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	// NotifyAlways sends notifications for every run
	NotifyAlways NotifyOn = "always"
	// NotifyFailure sends notifications only when the run fails
	NotifyFailure NotifyOn = "failure"
	// NotifySuccess sends notifications only when the run passes
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends notifications on failure and on the first pass
	// after a failure
	NotifyRecovery NotifyOn = "recovery"
)

// ParseNotifyOn validates a notify-on setting
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch on := NotifyOn(strings.ToLower(strings.TrimSpace(s))); on {
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return on, nil
	case "":
		return NotifyFailure, nil
	default:
		return "", fmt.Errorf("unknown notify-on value %q (want always, failure, success or recovery)", s)
	}
}

// RunSummary represents the summary of a smoke run for notifications
type RunSummary struct {
	RunID          string        `json:"run_id"`
	BaseURL        string        `json:"base_url"`
	Passed         bool          `json:"passed"`
	TotalSteps     int           `json:"total_steps"`
	PassedSteps    int           `json:"passed_steps"`
	ToleratedSteps int           `json:"tolerated_steps"`
	FailedSteps    int           `json:"failed_steps"`
	NotRunSteps    int           `json:"not_run_steps"`
	Duration       time.Duration `json:"duration"`
	FailedStep     string        `json:"failed_step,omitempty"`
	Error          string        `json:"error,omitempty"`
	Tolerated      []string      `json:"tolerated,omitempty"`
	IsRecovery     bool          `json:"is_recovery,omitempty"`
}

// SummaryFromResult builds a RunSummary from a finished run
func SummaryFromResult(r *runner.RunResult) *RunSummary {
	s := &RunSummary{
		RunID:          r.ID,
		BaseURL:        r.BaseURL,
		Passed:         r.Passed(),
		TotalSteps:     len(r.Steps),
		PassedSteps:    r.Count(runner.StepPassed),
		ToleratedSteps: r.Count(runner.StepTolerated),
		FailedSteps:    r.Count(runner.StepFailed),
		NotRunSteps:    r.Count(runner.StepNotRun),
		Duration:       r.Duration,
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
		var se *runner.StepError
		if errors.As(r.Err, &se) {
			s.FailedStep = se.Step
		}
	}
	for _, st := range r.Steps {
		if st.Status == runner.StepTolerated && st.Err != nil {
			s.Tolerated = append(s.Tolerated, fmt.Sprintf("%s: %v", st.Name, st.Err))
		}
	}
	return s
}

// Notifier is the interface for notification services
type Notifier interface {
	// Notify sends a notification about a run
	Notify(ctx context.Context, summary *RunSummary) error

	// Name returns the name of the notifier
	Name() string
}

// Manager manages multiple notifiers
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastState bool // true if last run was successful
}

// NewManager creates a new notification manager
func NewManager(notifyOn NotifyOn, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastState: true, // Assume success initially
	}
}

// AddNotifier adds a notifier to the manager
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// SetLastState seeds the outcome of the previous run, typically from the
// history store
func (m *Manager) SetLastState(passed bool) {
	m.lastState = passed
}

// Len returns the number of configured notifiers
func (m *Manager) Len() int {
	return len(m.notifiers)
}

// ShouldNotify reports whether summary warrants a notification and marks
// it as a recovery when applicable. It records the run as the last state.
func (m *Manager) ShouldNotify(summary *RunSummary) bool {
	shouldNotify := false

	switch m.notifyOn {
	case NotifyAlways:
		shouldNotify = true
		summary.IsRecovery = !m.lastState && summary.Passed
	case NotifyFailure:
		shouldNotify = !summary.Passed
	case NotifySuccess:
		shouldNotify = summary.Passed
	case NotifyRecovery:
		if !m.lastState && summary.Passed {
			shouldNotify = true
			summary.IsRecovery = true
		}
		if !summary.Passed {
			shouldNotify = true
		}
	}

	m.lastState = summary.Passed
	return shouldNotify
}

// Notify sends notifications based on the configured policy. Notifiers run
// concurrently and every one is tried; their errors are joined in
// registration order.
func (m *Manager) Notify(ctx context.Context, summary *RunSummary) error {
	if !m.ShouldNotify(summary) {
		return nil
	}

	errs := make([]error, len(m.notifiers))
	var g errgroup.Group
	for i, n := range m.notifiers {
		i, n := i, n
		g.Go(func() error {
			if err := n.Notify(ctx, summary); err != nil {
				errs[i] = fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// headline is the one-line title shared by all notifiers
func headline(summary *RunSummary) string {
	switch {
	case !summary.Passed && summary.FailedStep != "":
		return fmt.Sprintf("Smoke test failed at %s", summary.FailedStep)
	case !summary.Passed:
		return "Smoke test failed"
	case summary.IsRecovery:
		return "Smoke test recovered!"
	case summary.ToleratedSteps > 0:
		return "Smoke test passed with tolerated failures"
	default:
		return "Smoke test passed!"
	}
}
