// Package config handles configuration loading and management for aidb-smoke.
//
// It provides functionality for:
//   - Loading configuration from aidb-smoke.yaml or aidb-smoke.json files
//   - Default values for every scenario parameter
//   - Layering explicit overrides on top of a loaded file
package config
