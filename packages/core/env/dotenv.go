package env

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads a .env file and returns its key-value pairs without
// touching the process environment. Quoting, export prefixes, inline
// comments and ${VAR} references to earlier keys follow godotenv.
func LoadDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read env file %s: %w", path, err)
	}
	return vars, nil
}

// LoadAndExportDotEnv reads a .env file and exports every variable that is
// unset or empty in the process environment, so {{$VAR}} references in the
// config file see it too.
func LoadAndExportDotEnv(path string) (map[string]string, error) {
	vars, err := LoadDotEnv(path)
	if err != nil {
		return nil, err
	}

	for k, v := range vars {
		if os.Getenv(k) == "" {
			_ = os.Setenv(k, v)
		}
	}

	return vars, nil
}
