// Package logging provides structured, file-based logging with rotation
// for a vector database engine session. Logs are JSON-encoded via
// log/slog so they can be ingested by any log pipeline; by default they
// are also mirrored to stderr.
package logging
