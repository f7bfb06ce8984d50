// Package logging builds the diagnostic logger shared by aidb-smoke packages.
//
// Operator-facing progress is written by the output formatters; this logger
// carries request-level detail for troubleshooting and is silent by default.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelForVerbosity maps the -v count to a zap level. Zero verbosity only
// lets warnings and errors through.
func LevelForVerbosity(verbose int) zapcore.Level {
	switch {
	case verbose >= 2:
		return zapcore.DebugLevel
	case verbose == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}

// New returns a console-encoded logger writing to w (stderr when nil).
func New(w io.Writer, verbose int, noColor bool) *zap.Logger {
	if w == nil {
		w = os.Stderr
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	if noColor {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(LevelForVerbosity(verbose)),
	)
	return zap.New(core)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
