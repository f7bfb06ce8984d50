// Package cmd implements the aidb-smoke CLI commands using Cobra.
//
// Available commands:
//   - run: Execute the smoke scenario (also the default command)
//   - list: Show the scenario steps without sending anything
//   - validate: Check config files
//   - history: List runs recorded in a history database
//   - mock: Serve an in-memory AI-DB server
//   - init: Write a starter config file
//   - version: Show version information
//
// Settings are layered as defaults, config file, environment variables
// and flags, with later layers winning. Errors map to process exit codes
// in Execute only.
package cmd
