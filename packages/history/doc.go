// Package history records smoke runs in SQLite or PostgreSQL so that
// repeated runs can be listed and compared, and so notifications can tell
// a recovery from a steady pass.
package history
