package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/config"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/history"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/mock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func runFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerBindings(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitSuccess, exitCodeFor(nil))
	assert.Equal(t, ExitTestFailure, exitCodeFor(errors.New("boom")))
	assert.Equal(t, ExitConfigError, exitCodeFor(configError(errors.New("bad config"))))
	assert.Equal(t, ExitUsageError, exitCodeFor(usageError(errors.New("bad flag"))))
	assert.Equal(t, ExitConfigError, exitCodeFor(fmt.Errorf("loading: %w", configError(errors.New("x")))))
}

func TestResultExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "passed", err: nil, want: ExitSuccess},
		{
			name: "http status",
			err:  &runner.StepError{Step: runner.StepCreateSession, Err: &runner.StatusError{Method: "POST", Path: "/v1/query/sessions", StatusCode: 422}},
			want: ExitTestFailure,
		},
		{
			name: "transport",
			err:  &runner.StepError{Step: runner.StepCreateDataSource, Err: &runner.TransportError{Method: "POST", Path: "/v1/data-sources", Err: errors.New("connection refused")}},
			want: ExitNetworkError,
		},
		{
			name: "missing identifier",
			err:  &runner.StepError{Step: runner.StepCreateDataSource, Err: runner.ErrMissingIdentifier},
			want: ExitTestFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &runner.RunResult{Err: tt.err}
			assert.Equal(t, tt.want, resultExitCode(result))

			err := runError(result)
			assert.Equal(t, tt.want, exitCodeFor(err))
			if err != nil {
				var ee *exitError
				require.True(t, errors.As(err, &ee))
				assert.True(t, ee.reported)
			}
		})
	}
}

func TestApplyOverrides_Precedence(t *testing.T) {
	cfg := config.DefaultConfig()
	flags := runFlags(t, "--base-url", "http://flag:1", "--max-rows=5", "--insecure", "--notify", "slack, teams")
	env := envMap(map[string]string{
		"AIDB_BASE_URL":        "http://env:2",
		"AIDB_QUESTION":        "SELECT 2",
		"AIDB_INTROSPECT_WAIT": "sleep",
		"AIDB_POLL_TIMEOUT":    "1m",
		"AIDB_NO_VALIDATE":     "yes",
		"AIDB_DB_TYPE":         "",
	})

	require.NoError(t, applyOverrides(cfg, flags, env))

	assert.Equal(t, "http://flag:1", cfg.BaseURL)
	assert.Equal(t, "SELECT 2", cfg.Session.Question)
	assert.Equal(t, 5, cfg.Session.MaxRows)
	assert.False(t, cfg.GetValidateSSL())
	assert.False(t, cfg.Export.GetValidate())
	assert.Equal(t, config.WaitSleep, cfg.Introspection.Wait)
	assert.Equal(t, "1m0s", cfg.Introspection.PollTimeout.String())
	assert.Equal(t, []string{"slack", "teams"}, cfg.Notify.Services)
	assert.Equal(t, "postgres", cfg.DataSource.DBType, "empty env values are ignored")
	assert.Equal(t, "test_ds", cfg.DataSource.Name)
}

func TestApplyOverrides_InvalidValue(t *testing.T) {
	cfg := config.DefaultConfig()
	err := applyOverrides(cfg, runFlags(t), envMap(map[string]string{"AIDB_MAX_ROWS": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--max-rows")

	err = applyOverrides(cfg, runFlags(t), envMap(map[string]string{"AIDB_NO_COLOR": "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--no-color")
}

func TestLoadSettings_FileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "aidb-smoke.yaml")
	envPath := filepath.Join(dir, ".env")

	require.NoError(t, os.WriteFile(cfgPath, []byte(`baseUrl: http://file:3
dataSource:
  connectionRef: "{{SMOKE_TEST_DB_URL}}"
session:
  question: "{{$SMOKE_TEST_QUESTION}}"
`), 0644))
	require.NoError(t, os.WriteFile(envPath, []byte("SMOKE_TEST_DB_URL=postgresql://u:p@db/aidb\n"), 0644))
	t.Setenv("SMOKE_TEST_DB_URL", "")
	t.Setenv("SMOKE_TEST_QUESTION", "SELECT 3")

	var warnings []string
	warn := func(format string, args ...any) { warnings = append(warnings, fmt.Sprintf(format, args...)) }

	cfg, path, err := loadSettings(runFlags(t), cfgPath, envPath, envMap(nil), warn)
	require.NoError(t, err)

	assert.Equal(t, cfgPath, path)
	assert.Equal(t, "http://file:3", cfg.BaseURL)
	assert.Equal(t, "postgresql://u:p@db/aidb", cfg.DataSource.ConnectionRef)
	assert.Equal(t, "SELECT 3", cfg.Session.Question)
	assert.Equal(t, "test_ds", cfg.DataSource.Name)
	assert.Empty(t, warnings)
}

func TestLoadSettings_Errors(t *testing.T) {
	noWarn := func(string, ...any) {}

	t.Run("bad base url", func(t *testing.T) {
		_, _, err := loadSettings(runFlags(t, "--base-url", "ftp://aidb"), "", "", envMap(nil), noWarn)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported URL scheme")
	})

	t.Run("bad wait mode", func(t *testing.T) {
		_, _, err := loadSettings(runFlags(t, "--introspect-wait", "forever"), "", "", envMap(nil), noWarn)
		require.Error(t, err)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, _, err := loadSettings(runFlags(t), filepath.Join(t.TempDir(), "nope.yaml"), "", envMap(nil), noWarn)
		require.Error(t, err)
	})

	t.Run("missing env file", func(t *testing.T) {
		_, _, err := loadSettings(runFlags(t), "", filepath.Join(t.TempDir(), ".env"), envMap(nil), noWarn)
		require.Error(t, err)
	})
}

func TestLoadSettings_UnresolvedVariableWarns(t *testing.T) {
	var warnings []string
	warn := func(format string, args ...any) { warnings = append(warnings, fmt.Sprintf(format, args...)) }

	cfg, _, err := loadSettings(runFlags(t, "--question", "{{SMOKE_TEST_MISSING}}"), "", "", envMap(nil), warn)
	require.NoError(t, err)
	assert.Equal(t, "{{SMOKE_TEST_MISSING}}", cfg.Session.Question)
	assert.Equal(t, []string{"unresolved variable: SMOKE_TEST_MISSING"}, warnings)
}

func TestBuildNotifier(t *testing.T) {
	cfg := config.DefaultConfig()
	m, err := buildNotifier(cfg)
	require.NoError(t, err)
	assert.Nil(t, m)

	cfg.Notify.Services = []string{"slack"}
	_, err = buildNotifier(cfg)
	assert.Error(t, err, "slack without webhook")

	cfg.Notify.Services = []string{"slack", "Teams"}
	cfg.Notify.SlackWebhook = "https://hooks.slack.test/x"
	cfg.Notify.TeamsWebhook = "https://teams.test/y"
	m, err = buildNotifier(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	cfg.Notify.On = "sometimes"
	_, err = buildNotifier(cfg)
	assert.Error(t, err)

	cfg.Notify.On = "always"
	cfg.Notify.Services = []string{"pager"}
	_, err = buildNotifier(cfg)
	assert.Error(t, err)
}

func TestWatchTargets(t *testing.T) {
	targets := watchTargets("conf/aidb-smoke.yaml", ".env")
	require.Len(t, targets, 2)
	for _, p := range targets {
		assert.True(t, filepath.IsAbs(p), p)
	}
	assert.Equal(t, "aidb-smoke.yaml", filepath.Base(targets[0]))
	assert.Equal(t, ".env", filepath.Base(targets[1]))

	assert.Len(t, watchTargets("", ""), len(config.ConfigFilenames))
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	initCmd.SetOut(&buf)
	defer initCmd.SetOut(nil)
	forceInit = false

	require.NoError(t, initCommand(initCmd, []string{dir}))
	assert.Contains(t, buf.String(), "Created:")

	cfg, _, err := config.LoadConfig(filepath.Join(dir, "aidb-smoke.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().BaseURL, cfg.BaseURL)
	assert.Equal(t, "application/json", cfg.Headers["Accept"])

	err = initCommand(initCmd, []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	forceInit = true
	defer func() { forceInit = false }()
	assert.NoError(t, initCommand(initCmd, []string{dir}))
}

func TestValidateConfigFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	assert.NoError(t, validateConfigFile(write("ok.yaml", "baseUrl: http://aidb:8080\n")))
	assert.NoError(t, validateConfigFile(write("templated.yaml", "baseUrl: \"{{$AIDB_URL}}\"\n")))
	assert.Error(t, validateConfigFile(write("scheme.yaml", "baseUrl: ftp://aidb\n")))
	assert.Error(t, validateConfigFile(write("wait.yaml", "introspection:\n  wait: forever\n")))
}

func TestListCommand(t *testing.T) {
	var buf bytes.Buffer
	listCmd.SetOut(&buf)
	defer listCmd.SetOut(nil)

	require.NoError(t, listCommand(listCmd, nil))
	out := buf.String()
	assert.Contains(t, out, "1. Create data source (create_data_source)")
	assert.Contains(t, out, "POST /v1/query/sessions/{session_id}/run")
	assert.Contains(t, out, "failure tolerated")
	assert.Contains(t, out, "6. Export JSON (export_json)")
}

// aidbServer starts the mock AI-DB server. sessionStatus makes session
// creation fail with that status when non-zero.
func aidbServer(t *testing.T, sessionStatus int) *httptest.Server {
	t.Helper()
	var opts []mock.Option
	if sessionStatus != 0 {
		opts = append(opts, mock.WithFailure(runner.StepCreateSession, sessionStatus))
	}
	srv := httptest.NewServer(mock.NewServer(opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func executeRun(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeRunContext(t, context.Background(), args...)
}

func executeRunContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	c := &cobra.Command{Use: "run", RunE: runCommand, SilenceUsage: true, SilenceErrors: true}
	registerRunFlags(c)
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(io.Discard)
	c.SetArgs(args)
	err := c.ExecuteContext(ctx)
	return out.String(), err
}

func TestRunCommand_JSONReport(t *testing.T) {
	srv := aidbServer(t, 0)
	dbPath := filepath.Join(t.TempDir(), "history.db")

	out, err := executeRun(t, "--base-url", srv.URL, "-o", "json", "--history", dbPath)
	require.NoError(t, err)

	var report struct {
		Passed       bool   `json:"passed"`
		DataSourceID string `json:"dataSourceId"`
		SessionID    string `json:"sessionId"`
		Steps        []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Passed)
	assert.NotEmpty(t, report.DataSourceID)
	assert.NotEmpty(t, report.SessionID)
	require.Len(t, report.Steps, 6)
	for _, st := range report.Steps {
		assert.Equal(t, "passed", st.Status, st.Name)
	}

	store, err := history.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Passed)
	assert.Equal(t, srv.URL, runs[0].BaseURL)
}

func TestRunCommand_StepFailureExitCode(t *testing.T) {
	srv := aidbServer(t, http.StatusUnprocessableEntity)

	out, err := executeRun(t, "--base-url", srv.URL, "--introspect-wait", "none", "--no-color")
	require.Error(t, err)
	assert.Equal(t, ExitTestFailure, exitCodeFor(err))
	assert.Contains(t, out, "Smoke test failed")
}

func TestRunCommand_NetworkErrorExitCode(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := executeRun(t, "--base-url", url, "--introspect-wait", "none", "-o", "tap")
	require.Error(t, err)
	assert.Equal(t, ExitNetworkError, exitCodeFor(err))
}

func TestRunCommand_ConfigErrorExitCode(t *testing.T) {
	_, err := executeRun(t, "--base-url", "not a url")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, exitCodeFor(err))

	_, err = executeRun(t, "--base-url", "http://localhost:1", "-o", "html")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, exitCodeFor(err))
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	srv := aidbServer(t, 0)
	_, err := executeRun(t, "--base-url", srv.URL, "--introspect-wait", "none", "-o", "json", "--history", dbPath)
	require.NoError(t, err)

	historyDBFlag, historyLimitFlag, historyOutputFlag = dbPath, 0, "json"
	defer func() { historyDBFlag, historyLimitFlag, historyOutputFlag = "", 20, "console" }()

	var buf bytes.Buffer
	historyCmd.SetOut(&buf)
	historyCmd.SetContext(context.Background())
	defer historyCmd.SetOut(nil)

	require.NoError(t, historyCommand(historyCmd, nil))
	var runs []history.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Passed)

	historyDBFlag = ""
	err = historyCommand(historyCmd, nil)
	assert.Equal(t, ExitUsageError, exitCodeFor(err))
}

func TestParseFailure(t *testing.T) {
	step, status, err := parseFailure("run_session=500")
	require.NoError(t, err)
	assert.Equal(t, runner.StepRunSession, step)
	assert.Equal(t, 500, status)

	for _, bad := range []string{"run_session", "bogus=500", "export_csv=abc", "export_csv=42"} {
		_, _, err := parseFailure(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "@hourly", "@every 10m"} {
		_, err := parseSchedule(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"every minute", "* * *", "@every nope"} {
		_, err := parseSchedule(spec)
		assert.Error(t, err, spec)
	}
}

func TestRunCommand_ScheduleUsageErrors(t *testing.T) {
	_, err := executeRun(t, "--base-url", "http://localhost:1", "--schedule", "@every 1m", "--watch")
	assert.Equal(t, ExitUsageError, exitCodeFor(err))

	_, err = executeRun(t, "--base-url", "http://localhost:1", "--schedule", "sometimes")
	assert.Equal(t, ExitUsageError, exitCodeFor(err))
}

func TestRunCommand_Schedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a scheduled tick")
	}
	srv := aidbServer(t, 0)
	dbPath := filepath.Join(t.TempDir(), "history.db")

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	out, err := executeRunContext(t, ctx, "--base-url", srv.URL, "--introspect-wait", "none",
		"--no-color", "--history", dbPath, "--schedule", "@every 1s")
	require.NoError(t, err)
	assert.Contains(t, out, "Next run at")

	store, err := history.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(runs), 2)
}
