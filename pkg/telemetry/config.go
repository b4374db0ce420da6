package telemetry

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format selects "json" or "console" output.
	Format string

	// Output is "stdout", "stderr" or a file path. Cleanup runs on
	// production hosts typically log to a file under the log dir.
	Output string

	// EnableCaller adds the caller file:line to every event.
	EnableCaller bool
}

// MetricsConfig configures the one-shot metrics export.
type MetricsConfig struct {
	// Enabled turns metrics collection on.
	Enabled bool

	// TextfilePath is where the run's metrics are written in the
	// Prometheus textfile-collector format. Empty disables the export.
	TextfilePath string

	// Namespace prefixes all metric names.
	Namespace string
}

// DefaultLoggingConfig returns console logging at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}
