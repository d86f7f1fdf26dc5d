package logging

import "log/slog"

// EnableTrace switches on per-vertex geometry logs. Off by default; set from
// log.trace in the config.
var EnableTrace = false

// Trace logs a message at DEBUG level, but only if EnableTrace is true.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if EnableTrace {
		logger.Debug(msg, args...)
	}
}
