// Package logger builds the process-wide slog.Logger: JSON records in
// production, human-readable text otherwise, each tagged with the
// deployment environment.
package logger
