package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	calls []*RunSummary
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, s *RunSummary) error {
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakeNotifier) Name() string { return "fake" }

func TestParseNotifyOn(t *testing.T) {
	on, err := ParseNotifyOn("Recovery")
	require.NoError(t, err)
	assert.Equal(t, NotifyRecovery, on)

	on, err = ParseNotifyOn("")
	require.NoError(t, err)
	assert.Equal(t, NotifyFailure, on)

	_, err = ParseNotifyOn("sometimes")
	assert.Error(t, err)
}

func TestManager_Policies(t *testing.T) {
	tests := []struct {
		name      string
		on        NotifyOn
		lastState bool
		passed    bool
		want      bool
		recovery  bool
	}{
		{name: "failure on failed run", on: NotifyFailure, lastState: true, passed: false, want: true},
		{name: "failure on passed run", on: NotifyFailure, lastState: true, passed: true, want: false},
		{name: "success on passed run", on: NotifySuccess, lastState: true, passed: true, want: true},
		{name: "success on failed run", on: NotifySuccess, lastState: true, passed: false, want: false},
		{name: "always", on: NotifyAlways, lastState: true, passed: true, want: true},
		{name: "always marks recovery", on: NotifyAlways, lastState: false, passed: true, want: true, recovery: true},
		{name: "recovery after failure", on: NotifyRecovery, lastState: false, passed: true, want: true, recovery: true},
		{name: "recovery steady pass", on: NotifyRecovery, lastState: true, passed: true, want: false},
		{name: "recovery on failure", on: NotifyRecovery, lastState: true, passed: false, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeNotifier{}
			m := NewManager(tt.on, fake)
			m.SetLastState(tt.lastState)

			summary := &RunSummary{Passed: tt.passed}
			require.NoError(t, m.Notify(context.Background(), summary))

			if tt.want {
				assert.Len(t, fake.calls, 1)
			} else {
				assert.Empty(t, fake.calls)
			}
			assert.Equal(t, tt.recovery, summary.IsRecovery)
		})
	}
}

func TestManager_TracksLastState(t *testing.T) {
	fake := &fakeNotifier{}
	m := NewManager(NotifyRecovery, fake)
	ctx := context.Background()

	require.NoError(t, m.Notify(ctx, &RunSummary{Passed: true}))
	require.NoError(t, m.Notify(ctx, &RunSummary{Passed: false}))
	require.NoError(t, m.Notify(ctx, &RunSummary{Passed: true}))
	require.NoError(t, m.Notify(ctx, &RunSummary{Passed: true}))

	require.Len(t, fake.calls, 2)
	assert.False(t, fake.calls[0].Passed)
	assert.True(t, fake.calls[1].IsRecovery)
}

func TestManager_JoinsErrors(t *testing.T) {
	ok := &fakeNotifier{}
	bad := &fakeNotifier{err: errors.New("webhook down")}
	m := NewManager(NotifyAlways, bad, ok)

	err := m.Notify(context.Background(), &RunSummary{Passed: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake: webhook down")
	assert.Len(t, ok.calls, 1)
	assert.Equal(t, 2, m.Len())
}

func TestSummaryFromResult(t *testing.T) {
	result := &runner.RunResult{
		ID:       "run-1",
		BaseURL:  "http://localhost:8080",
		Duration: time.Second,
		Steps: []*runner.StepResult{
			{Name: runner.StepCreateDataSource, Status: runner.StepPassed},
			{Name: runner.StepIntrospect, Status: runner.StepPassed},
			{Name: runner.StepCreateSession, Status: runner.StepPassed},
			{Name: runner.StepRunSession, Status: runner.StepTolerated, Err: errors.New("HTTP 500")},
			{Name: runner.StepExportCSV, Status: runner.StepFailed, Err: errors.New("HTTP 503")},
			{Name: runner.StepExportJSON, Status: runner.StepNotRun},
		},
		Err: &runner.StepError{Step: runner.StepExportCSV, Err: errors.New("HTTP 503")},
	}

	s := SummaryFromResult(result)
	assert.False(t, s.Passed)
	assert.Equal(t, 6, s.TotalSteps)
	assert.Equal(t, 3, s.PassedSteps)
	assert.Equal(t, 1, s.ToleratedSteps)
	assert.Equal(t, 1, s.FailedSteps)
	assert.Equal(t, 1, s.NotRunSteps)
	assert.Equal(t, runner.StepExportCSV, s.FailedStep)
	assert.Equal(t, []string{"run_session: HTTP 500"}, s.Tolerated)
	assert.Equal(t, "Smoke test failed at export_csv", headline(s))
}

func TestSlackNotifier(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL, WithSlackChannel("#aidb"))
	err := n.Notify(context.Background(), &RunSummary{
		RunID:       "run-1",
		BaseURL:     "http://localhost:8080",
		TotalSteps:  6,
		PassedSteps: 2,
		FailedSteps: 1,
		FailedStep:  runner.StepCreateSession,
		Error:       "step create_session: HTTP 422",
	})

	require.NoError(t, err)
	assert.Equal(t, "#aidb", got.Channel)
	assert.Equal(t, "aidb-smoke", got.Username)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "danger", got.Attachments[0].Color)
	assert.Contains(t, got.Attachments[0].Title, "failed at create_session")
	assert.Contains(t, got.Attachments[0].Text, "HTTP 422")
	assert.Equal(t, "2/6 passed", got.Attachments[0].Fields[1].Value)
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Notify(context.Background(), &RunSummary{Passed: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestTeamsNotifier(t *testing.T) {
	var got teamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err := NewTeamsNotifier(server.URL).Notify(context.Background(), &RunSummary{
		Passed:     true,
		IsRecovery: true,
		BaseURL:    "http://localhost:8080",
		TotalSteps: 6,
	})

	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	body := got.Attachments[0].Content.Body
	require.NotEmpty(t, body)
	assert.Equal(t, "Smoke test recovered!", body[0].Text)
	assert.Equal(t, "good", body[0].Color)
}
