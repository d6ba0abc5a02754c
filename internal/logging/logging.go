// Package logging builds the process-wide zap logger used by every
// component. The teacher writes straight to os.Stderr with a "[gasoline]"
// prefix for anything operational; this project keeps that spirit (one
// logger, cheap to pass around, never blocks a caller) but backs it with
// zap's structured, leveled output since the daemon here runs unattended
// with many concurrent connections rather than as a CLI subprocess.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style zap logger. When dev is true it uses the
// more readable (and slower) development encoder config, matching how
// tracebackd's --dev flag is wired in cmd/tracebackd.
func New(dev bool) *zap.Logger {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		// Building the logger itself should never fail with these configs;
		// fall back to a bare logger rather than bring the process down.
		return zap.NewNop()
	}
	return logger
}

// Nop returns a logger that discards everything, for tests.
func Nop() *zap.Logger { return zap.NewNop() }

// Discard is a convenience no-op logger usable as a default field value.
var Discard = zap.NewNop()
