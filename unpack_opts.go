package msf

import "log/slog"

// unpackConfig holds configuration for archive extraction.
type unpackConfig struct {
	logger   *slog.Logger
	progress ProgressFunc
}

// UnpackOption configures archive extraction.
type UnpackOption func(*unpackConfig)

// UnpackWithLogger sets the logger used for warnings and debug output.
// By default nothing is logged.
func UnpackWithLogger(l *slog.Logger) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.logger = l
	}
}

// UnpackWithProgress sets a callback that receives per-file progress events.
func UnpackWithProgress(fn ProgressFunc) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.progress = fn
	}
}
