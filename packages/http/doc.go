// Package http provides the HTTP client used by the smoke runner.
//
// It wraps the standard library's http package with:
//   - Configurable timeouts and redirect handling
//   - Default headers applied to every request
//   - Proxy and TLS verification settings
//   - Fully buffered responses with content-type helpers
package http
