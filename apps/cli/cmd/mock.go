package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/logging"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/mock"
	"github.com/spf13/cobra"
)

var (
	mockPortFlag            int
	mockDelayFlag           time.Duration
	mockIntrospectDelayFlag time.Duration
	mockFailFlags           []string
	mockVerboseFlag         int
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Start an in-memory AI-DB server",
	Long: `Start an HTTP server that implements the AI-DB endpoints used by the
smoke scenario, keeping data sources and sessions in memory.

Failures can be injected per step with --fail step=status, which is handy
for checking how a pipeline reacts to a broken server.

Examples:
  aidb-smoke mock --port 8080
  aidb-smoke mock --introspect-delay 5s --delay 100ms
  aidb-smoke mock --fail run_session=500 --fail export_json=503`,
	Args: cobra.NoArgs,
	RunE: mockCommand,
}

func init() {
	mockCmd.Flags().IntVarP(&mockPortFlag, "port", "p", 8080, "Port to run the mock server on")
	mockCmd.Flags().DurationVarP(&mockDelayFlag, "delay", "d", 0, "Delay to add to all responses (e.g., 100ms, 1s)")
	mockCmd.Flags().DurationVar(&mockIntrospectDelayFlag, "introspect-delay", 2*time.Second, "Time until schema objects appear after introspection")
	mockCmd.Flags().StringArrayVar(&mockFailFlags, "fail", nil, "Inject a failure as step=status (repeatable)")
	mockCmd.Flags().CountVarP(&mockVerboseFlag, "verbose", "v", "Log requests (-v info, -vv debug)")
}

func mockCommand(cmd *cobra.Command, args []string) error {
	opts := []mock.Option{
		mock.WithPort(mockPortFlag),
		mock.WithDelay(mockDelayFlag),
		mock.WithIntrospectionDelay(mockIntrospectDelayFlag),
		mock.WithLogger(logging.New(cmd.ErrOrStderr(), mockVerboseFlag, false)),
	}
	for _, f := range mockFailFlags {
		step, status, err := parseFailure(f)
		if err != nil {
			return usageError(err)
		}
		opts = append(opts, mock.WithFailure(step, status))
	}

	server := mock.NewServer(opts...)
	fmt.Fprintf(cmd.OutOrStdout(), "Mock AI-DB server on http://localhost:%d (%d routes)\n", mockPortFlag, len(server.Routes()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.StartWithContext(ctx)
}

func parseFailure(s string) (string, int, error) {
	step, code, ok := strings.Cut(s, "=")
	if !ok {
		return "", 0, fmt.Errorf("invalid --fail %q (want step=status)", s)
	}
	known := false
	for _, p := range runner.Plan() {
		if p.Name == step {
			known = true
			break
		}
	}
	if !known {
		return "", 0, fmt.Errorf("unknown step %q in --fail", step)
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 || status > 599 {
		return "", 0, fmt.Errorf("invalid status %q in --fail", code)
	}
	return step, status, nil
}
