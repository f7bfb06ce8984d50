// Package capture extracts values from JSON responses for use in subsequent
// requests, and describes the shape of decoded payloads for display.
//
// Identifiers captured from one step parameterize the paths of later steps,
// so a capture that does not resolve to a non-empty scalar is reported as
// missing rather than passed on as an empty string.
package capture
