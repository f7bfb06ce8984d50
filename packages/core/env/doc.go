// Package env handles operator variables for aidb-smoke.
//
// It provides functionality for:
//   - Loading .env files
//   - Interpolating {{name}} and {{$ENV_VAR}} references in config values,
//     so connection strings and questions can be kept out of config files
package env
