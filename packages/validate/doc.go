// Package validate checks the payloads returned by the export endpoint.
//
// CSV exports must be rectangular with a header row. JSON exports are
// validated against a JSON Schema; the built-in schema expects an array of
// row objects, and callers may supply their own.
package validate
