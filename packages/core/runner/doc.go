// Package runner drives the AI-DB smoke scenario against a running server.
//
// A run is a fixed sequence of six steps:
//   - create a data source and capture its id
//   - trigger introspection and wait for schema objects to appear
//   - create a query session and capture its id
//   - run the session (a failure here is tolerated)
//   - export the session as CSV
//   - export the session as JSON
//
// Every step other than the run is fail-fast: the first failure ends the
// run and no later request is issued. Runs never exit the process; the
// caller inspects RunResult and decides what to do.
package runner
