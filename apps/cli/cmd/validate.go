package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/config"
	aidbhttp "github.com/abdul-hamid-achik/aidb-smoke/packages/http"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config-file...]",
	Short: "Validate aidb-smoke config files",
	Long: `Validate aidb-smoke config files without running the scenario.
With no arguments the config file in the current directory is checked.

Examples:
  aidb-smoke validate
  aidb-smoke validate staging.yaml prod.yaml`,
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		_, path, err := config.FindAndLoadConfig(".")
		if err != nil {
			return configError(err)
		}
		if path == "" {
			return configError(errors.New("no config file found (run 'aidb-smoke init' to create one)"))
		}
		args = []string{path}
	}

	hasErrors := false
	for _, file := range args {
		if err := validateConfigFile(file); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s\n", file)
		}
	}

	if hasErrors {
		return &exitError{code: ExitConfigError, err: errors.New("validation failed"), reported: true}
	}
	return nil
}

func validateConfigFile(path string) error {
	cfg, _, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	// Templated base URLs are resolved at run time
	if !strings.Contains(cfg.BaseURL, "{{") {
		if err := aidbhttp.ValidateURL(cfg.BaseURL); err != nil {
			return fmt.Errorf("baseUrl: %w", err)
		}
	}
	return nil
}
