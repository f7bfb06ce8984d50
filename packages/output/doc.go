// Package output provides formatters for displaying smoke run results.
//
// Supported output formats:
//   - Console: colored step-by-step progress and a summary
//   - JSON: one machine-readable report per run
//   - JUnit: JUnit XML for CI integration
//   - TAP: Test Anything Protocol
//
// Each formatter implements the Formatter interface and can optionally
// implement Flushable for formats that accumulate results before output.
package output
