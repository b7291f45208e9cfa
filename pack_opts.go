package msf

import "log/slog"

// packConfig holds configuration for archive creation.
type packConfig struct {
	logger   *slog.Logger
	progress ProgressFunc
}

// PackOption configures archive creation.
type PackOption func(*packConfig)

// PackWithLogger sets the logger used for warnings and debug output.
// By default nothing is logged.
func PackWithLogger(l *slog.Logger) PackOption {
	return func(cfg *packConfig) {
		cfg.logger = l
	}
}

// PackWithProgress sets a callback that receives per-file progress events.
func PackWithProgress(fn ProgressFunc) PackOption {
	return func(cfg *packConfig) {
		cfg.progress = fn
	}
}
