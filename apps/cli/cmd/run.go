package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/config"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/history"
	aidbhttp "github.com/abdul-hamid-achik/aidb-smoke/packages/http"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/logging"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/notify"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/output"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFlag     string
	envFileFlag    string
	outputFileFlag string
	verboseFlag    int
	watchFlag      bool
)

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond

	// recordTimeout bounds history writes and notifications after a run
	recordTimeout = 15 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the smoke scenario against an AI-DB server",
	Long: `Run the six-step smoke scenario against an AI-DB query server:

  1. create a data source
  2. introspect it and wait for schema objects
  3. create a query session
  4. run the session (a failure here is tolerated)
  5. export the results as CSV
  6. export the results as JSON

Every step except the session run stops the scenario on failure.

Examples:
  aidb-smoke run
  aidb-smoke run --base-url http://aidb:8080 --introspect-wait sleep
  aidb-smoke run --config staging.yaml -o junit --output-file smoke.xml
  aidb-smoke run --history smoke.db --notify slack --slack-webhook $SLACK_WEBHOOK
  aidb-smoke run --schedule "@every 10m" --history smoke.db --notify-on recovery`,
	Args: cobra.NoArgs,
	RunE: runCommand,
}

func init() {
	registerRunFlags(runCmd)
}

func registerRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&configFlag, "config", getEnvString("AIDB_CONFIG", ""), "Path to config file (env: AIDB_CONFIG)")
	flags.StringVar(&envFileFlag, "env-file", getEnvString("AIDB_ENV_FILE", ""), "Path to .env file for variable interpolation (env: AIDB_ENV_FILE)")
	flags.StringVar(&outputFileFlag, "output-file", getEnvString("AIDB_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: AIDB_OUTPUT_FILE)")
	flags.CountVarP(&verboseFlag, "verbose", "v", "Verbose diagnostics (-v info, -vv debug)")
	flags.BoolVarP(&watchFlag, "watch", "w", false, "Re-run when the config or env file changes")
	flags.StringVar(&scheduleFlag, "schedule", getEnvString("AIDB_SCHEDULE", ""), `Keep running on a cron schedule, e.g. "*/5 * * * *" or "@every 10m" (env: AIDB_SCHEDULE)`)
	registerBindings(flags)
}

func runCommand(cmd *cobra.Command, args []string) error {
	var sched cron.Schedule
	if scheduleFlag != "" {
		if watchFlag {
			return usageError(errors.New("--schedule and --watch cannot be combined"))
		}
		var err error
		if sched, err = parseSchedule(scheduleFlag); err != nil {
			return usageError(err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &smokeSession{cmd: cmd}
	cfg, cfgPath, err := s.load()
	if err != nil {
		return configError(err)
	}
	defer func() { _ = s.logger.Sync() }()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return configError(err)
	}
	s.notifier = notifier

	if cfg.History != "" {
		store, err := history.Open(ctx, cfg.History)
		if err != nil {
			return configError(fmt.Errorf("opening history: %w", err))
		}
		defer store.Close()
		s.store = store
	}

	result, err := s.runOnce(ctx, cfg)
	if err != nil {
		return err
	}
	switch {
	case sched != nil:
		return s.schedule(ctx, cfg, sched)
	case !watchFlag:
		return runError(result)
	}

	return s.watch(ctx, watchTargets(cfgPath, envFileFlag))
}

// smokeSession holds what survives between runs in watch and schedule mode
type smokeSession struct {
	cmd      *cobra.Command
	logger   *zap.Logger
	store    *history.Store
	notifier *notify.Manager
}

// load resolves the configuration and rebuilds the logger to match it
func (s *smokeSession) load() (*config.Config, string, error) {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	cfg, cfgPath, err := loadSettings(s.cmd.Flags(), configFlag, envFileFlag, os.LookupEnv, warn)
	if err != nil {
		return nil, "", err
	}

	if s.logger == nil {
		s.logger = logging.New(s.cmd.ErrOrStderr(), verboseFlag, cfg.GetNoColor())
	}
	for _, w := range warnings {
		s.logger.Warn(w)
	}
	if cfgPath != "" {
		s.logger.Info("loaded config", zap.String("path", cfgPath))
	}
	return cfg, cfgPath, nil
}

// runOnce executes the scenario, reports it and records it. The returned
// error is only set when the run could not start.
func (s *smokeSession) runOnce(ctx context.Context, cfg *config.Config) (*runner.RunResult, error) {
	out, closeOut, err := openOutput(s.cmd.OutOrStdout(), outputFileFlag)
	if err != nil {
		return nil, configError(err)
	}
	defer closeOut()

	formatter, err := output.New(cfg.Output, output.Options{
		Writer:  out,
		Verbose: verboseFlag > 0,
		NoColor: cfg.GetNoColor() || outputFileFlag != "",
	})
	if err != nil {
		return nil, configError(err)
	}
	formatter.FormatHeader(version)

	opts := []runner.Option{
		runner.WithHTTPClient(newHTTPClient(cfg)),
		runner.WithLogger(s.logger),
	}
	if obs := output.Observer(formatter); obs != nil {
		opts = append(opts, runner.WithObserver(obs))
	}

	result := runner.New(runner.ConfigFromFile(cfg), opts...).Run(ctx)

	formatter.FormatResult(result)
	if flushable, ok := formatter.(output.Flushable); ok {
		if err := flushable.Flush(result.Duration); err != nil {
			s.logger.Error("failed to write output", zap.Error(err))
		}
	}

	s.record(ctx, result)
	return result, nil
}

// record stores the run in history and sends notifications. Failures are
// logged and never change the run outcome.
func (s *smokeSession) record(ctx context.Context, result *runner.RunResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if s.store != nil {
		if s.notifier != nil {
			last, err := s.store.Last(ctx, result.BaseURL)
			switch {
			case err == nil:
				s.notifier.SetLastState(last.Passed)
			case !errors.Is(err, history.ErrNoRuns):
				s.logger.Warn("failed to read last run", zap.Error(err))
			}
		}
		if err := s.store.Save(ctx, history.FromResult(result)); err != nil {
			s.logger.Warn("failed to save run history", zap.Error(err))
		} else {
			s.logger.Debug("saved run history", zap.String("run_id", result.ID))
		}
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.SummaryFromResult(result)); err != nil {
			s.logger.Warn("failed to send notification", zap.Error(err))
		}
	}
}

// watch re-runs the scenario whenever one of targets is written. Runs happen
// on this goroutine so they never overlap.
func (s *smokeSession) watch(ctx context.Context, targets []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	wanted := make(map[string]bool, len(targets))
	watchedDirs := make(map[string]bool)
	for _, target := range targets {
		wanted[target] = true
		dir := filepath.Dir(target)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn("failed to watch directory", zap.String("dir", dir), zap.Error(err))
		}
		watchedDirs[dir] = true
	}

	out := s.cmd.OutOrStdout()
	fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	rerun := make(chan string, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !wanted[name] {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case rerun <- name:
				default:
				}
			})

		case name := <-rerun:
			fmt.Fprintf(out, "\n\nFile changed: %s\nRe-running smoke test...\n\n", name)
			cfg, _, err := s.load()
			if err != nil {
				fmt.Fprintf(s.cmd.ErrOrStderr(), "Error: %v\n", err)
			} else if _, err := s.runOnce(ctx, cfg); err != nil {
				fmt.Fprintf(s.cmd.ErrOrStderr(), "Error: %v\n", err)
			}
			fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// watchTargets lists the absolute paths whose changes trigger a re-run.
// Without a config file any of the default config names may appear.
func watchTargets(cfgPath, envFile string) []string {
	var targets []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			targets = append(targets, abs)
		}
	}

	if cfgPath != "" {
		add(cfgPath)
	} else {
		for _, name := range config.ConfigFilenames {
			add(name)
		}
	}
	if envFile != "" {
		add(envFile)
	}
	return targets
}

func newHTTPClient(cfg *config.Config) *aidbhttp.Client {
	opts := []aidbhttp.ClientOption{
		aidbhttp.WithFollowRedirects(cfg.GetFollowRedirects()),
		aidbhttp.WithValidateSSL(cfg.GetValidateSSL()),
		aidbhttp.WithDefaultHeader("User-Agent", "aidb-smoke/"+version),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, aidbhttp.WithTimeout(cfg.Timeout))
	}
	if cfg.Proxy != "" {
		opts = append(opts, aidbhttp.WithProxy(cfg.Proxy))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, aidbhttp.WithDefaultHeaders(cfg.Headers))
	}
	return aidbhttp.NewClient(opts...)
}

// buildNotifier returns nil when no notification service is configured
func buildNotifier(cfg *config.Config) (*notify.Manager, error) {
	if len(cfg.Notify.Services) == 0 {
		return nil, nil
	}

	on, err := notify.ParseNotifyOn(cfg.Notify.On)
	if err != nil {
		return nil, err
	}

	manager := notify.NewManager(on)
	for _, service := range cfg.Notify.Services {
		switch strings.ToLower(strings.TrimSpace(service)) {
		case "slack":
			if cfg.Notify.SlackWebhook == "" {
				return nil, fmt.Errorf("slack notifications need --slack-webhook")
			}
			var slackOpts []notify.SlackOption
			if cfg.Notify.SlackChannel != "" {
				slackOpts = append(slackOpts, notify.WithSlackChannel(cfg.Notify.SlackChannel))
			}
			manager.AddNotifier(notify.NewSlackNotifier(cfg.Notify.SlackWebhook, slackOpts...))
		case "teams":
			if cfg.Notify.TeamsWebhook == "" {
				return nil, fmt.Errorf("teams notifications need --teams-webhook")
			}
			manager.AddNotifier(notify.NewTeamsNotifier(cfg.Notify.TeamsWebhook))
		default:
			return nil, fmt.Errorf("unknown notification service %q (want slack or teams)", service)
		}
	}
	return manager, nil
}

func openOutput(stdout io.Writer, path string) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
