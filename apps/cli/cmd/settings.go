package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/config"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/env"
	aidbhttp "github.com/abdul-hamid-achik/aidb-smoke/packages/http"
	"github.com/spf13/pflag"
)

type flagKind int

const (
	kindString flagKind = iota
	kindInt
	kindBool
	kindDuration
)

// binding ties a run flag and its environment variable to a config field.
// A flag set on the command line wins over the variable, which wins over
// the config file.
type binding struct {
	flag  string
	short string
	env   string
	kind  flagKind
	usage string
	apply func(cfg *config.Config, value string) error
}

var runBindings = []binding{
	{flag: "base-url", env: "AIDB_BASE_URL", usage: "AI-DB server base URL (default http://localhost:8080)",
		apply: setString(func(c *config.Config) *string { return &c.BaseURL })},
	{flag: "timeout", env: "AIDB_TIMEOUT", kind: kindDuration, usage: "Per-request timeout (e.g. 30s, 1m)",
		apply: setDuration(func(c *config.Config) *time.Duration { return &c.Timeout })},
	{flag: "name", env: "AIDB_DS_NAME", usage: "Data source name",
		apply: setString(func(c *config.Config) *string { return &c.DataSource.Name })},
	{flag: "db-type", env: "AIDB_DB_TYPE", usage: "Data source database type",
		apply: setString(func(c *config.Config) *string { return &c.DataSource.DBType })},
	{flag: "connection-ref", env: "AIDB_CONNECTION_REF", usage: "Data source connection reference",
		apply: setString(func(c *config.Config) *string { return &c.DataSource.ConnectionRef })},
	{flag: "question", env: "AIDB_QUESTION", usage: "Question asked by the query session",
		apply: setString(func(c *config.Config) *string { return &c.Session.Question })},
	{flag: "max-rows", env: "AIDB_MAX_ROWS", kind: kindInt, usage: "Row limit for the session run",
		apply: setInt(func(c *config.Config) *int { return &c.Session.MaxRows })},
	{flag: "run-timeout-ms", env: "AIDB_RUN_TIMEOUT_MS", kind: kindInt, usage: "Server-side timeout for the session run in milliseconds",
		apply: setInt(func(c *config.Config) *int { return &c.Session.TimeoutMs })},
	{flag: "provider", env: "AIDB_LLM_PROVIDER", usage: "LLM provider for the session run",
		apply: setString(func(c *config.Config) *string { return &c.Session.Provider })},
	{flag: "model", env: "AIDB_LLM_MODEL", usage: "LLM model for the session run",
		apply: setString(func(c *config.Config) *string { return &c.Session.Model })},
	{flag: "introspect-wait", env: "AIDB_INTROSPECT_WAIT", usage: "How to wait for introspection: poll, sleep, none",
		apply: setString(func(c *config.Config) *string { return &c.Introspection.Wait })},
	{flag: "introspect-delay", env: "AIDB_INTROSPECT_DELAY", kind: kindDuration, usage: "Fixed delay used by the sleep wait",
		apply: setDuration(func(c *config.Config) *time.Duration { return &c.Introspection.Delay })},
	{flag: "poll-timeout", env: "AIDB_POLL_TIMEOUT", kind: kindDuration, usage: "Upper bound on readiness polling",
		apply: setDuration(func(c *config.Config) *time.Duration { return &c.Introspection.PollTimeout })},
	{flag: "output", short: "o", env: "AIDB_OUTPUT", usage: "Output format: console, json, junit, tap",
		apply: setString(func(c *config.Config) *string { return &c.Output })},
	{flag: "no-color", env: "AIDB_NO_COLOR", kind: kindBool, usage: "Disable colored output",
		apply: setBoolPtr(func(c *config.Config) **bool { return &c.NoColor }, false)},
	{flag: "no-validate", env: "AIDB_NO_VALIDATE", kind: kindBool, usage: "Skip CSV and JSON export validation",
		apply: setBoolPtr(func(c *config.Config) **bool { return &c.Export.Validate }, true)},
	{flag: "insecure", short: "k", env: "AIDB_INSECURE", kind: kindBool, usage: "Disable SSL certificate validation",
		apply: setBoolPtr(func(c *config.Config) **bool { return &c.ValidateSSL }, true)},
	{flag: "proxy", env: "AIDB_PROXY", usage: "Proxy URL for HTTP requests",
		apply: setString(func(c *config.Config) *string { return &c.Proxy })},
	{flag: "history", env: "AIDB_HISTORY", usage: "Record runs in a history database (sqlite path or postgres:// URL)",
		apply: setString(func(c *config.Config) *string { return &c.History })},
	{flag: "notify", env: "AIDB_NOTIFY", usage: "Notification services, comma-separated: slack, teams",
		apply: func(c *config.Config, v string) error {
			c.Notify.Services = splitList(v)
			return nil
		}},
	{flag: "notify-on", env: "AIDB_NOTIFY_ON", usage: "When to notify: always, failure, success, recovery",
		apply: setString(func(c *config.Config) *string { return &c.Notify.On })},
	{flag: "slack-webhook", env: "SLACK_WEBHOOK", usage: "Slack webhook URL",
		apply: setString(func(c *config.Config) *string { return &c.Notify.SlackWebhook })},
	{flag: "slack-channel", env: "SLACK_CHANNEL", usage: "Slack channel override",
		apply: setString(func(c *config.Config) *string { return &c.Notify.SlackChannel })},
	{flag: "teams-webhook", env: "TEAMS_WEBHOOK", usage: "Microsoft Teams webhook URL",
		apply: setString(func(c *config.Config) *string { return &c.Notify.TeamsWebhook })},
}

func registerBindings(flags *pflag.FlagSet) {
	for _, b := range runBindings {
		usage := fmt.Sprintf("%s (env: %s)", b.usage, b.env)
		switch b.kind {
		case kindInt:
			flags.IntP(b.flag, b.short, 0, usage)
		case kindBool:
			flags.BoolP(b.flag, b.short, false, usage)
		case kindDuration:
			flags.DurationP(b.flag, b.short, 0, usage)
		default:
			flags.StringP(b.flag, b.short, "", usage)
		}
	}
}

// applyOverrides layers flags and environment variables over cfg
func applyOverrides(cfg *config.Config, flags *pflag.FlagSet, lookupEnv func(string) (string, bool)) error {
	for _, b := range runBindings {
		value, ok := "", false
		if f := flags.Lookup(b.flag); f != nil && f.Changed {
			value, ok = f.Value.String(), true
		} else if v, set := lookupEnv(b.env); set && v != "" {
			value, ok = v, true
		}
		if !ok {
			continue
		}
		if err := b.apply(cfg, value); err != nil {
			return fmt.Errorf("--%s: %w", b.flag, err)
		}
	}
	return nil
}

// loadSettings resolves the effective configuration for a run: defaults,
// then the config file, then environment variables and flags. String values
// may reference .env variables as {{NAME}} and process variables as
// {{$NAME}}.
func loadSettings(flags *pflag.FlagSet, configPath, envFile string, lookupEnv func(string) (string, bool), warn env.WarnFunc) (*config.Config, string, error) {
	resolver := env.NewResolver()
	resolver.SetWarnFunc(warn)

	if envFile != "" {
		vars, err := env.LoadAndExportDotEnv(envFile)
		if err != nil {
			return nil, "", err
		}
		resolver.SetStringVariables(vars)
	}

	cfg, path, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, "", err
	}

	if err := applyOverrides(cfg, flags, lookupEnv); err != nil {
		return nil, "", err
	}
	resolveConfig(cfg, resolver)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	if err := aidbhttp.ValidateURL(cfg.BaseURL); err != nil {
		return nil, "", fmt.Errorf("base URL %q: %w", cfg.BaseURL, err)
	}
	return cfg, path, nil
}

func resolveConfig(cfg *config.Config, r *env.Resolver) {
	for _, s := range []*string{
		&cfg.BaseURL,
		&cfg.Proxy,
		&cfg.DataSource.Name,
		&cfg.DataSource.DBType,
		&cfg.DataSource.ConnectionRef,
		&cfg.Session.Question,
		&cfg.Session.Provider,
		&cfg.Session.Model,
		&cfg.History,
		&cfg.Notify.SlackWebhook,
		&cfg.Notify.TeamsWebhook,
	} {
		*s = r.Resolve(*s)
	}
	if len(cfg.Headers) > 0 {
		cfg.Headers = r.ResolveAll(cfg.Headers)
	}
}

func setString(field func(*config.Config) *string) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*config.Config) *int) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*field(c) = n
		return nil
	}
}

func setDuration(field func(*config.Config) *time.Duration) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*field(c) = d
		return nil
	}
}

// setBoolPtr stores the flag value, inverted for negative flags such as
// --insecure which clears validateSSL.
func setBoolPtr(field func(*config.Config) **bool, invert bool) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(c) = config.BoolPtr(b != invert)
		return nil
	}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
