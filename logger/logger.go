// Package logger holds the process-wide zap logger and the structured field
// names every nex component logs with.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It discards everything until Initialize runs.
var Logger = zap.NewNop().Sugar()

// Initialize replaces Logger with one writing to stderr.
// verbosity is the -v flag count (see VerbosityToLevel).
func Initialize(jsonOutput bool, verbosity int) error {
	Logger = New(zapcore.Lock(os.Stderr), jsonOutput, verbosity)
	return nil
}

// New builds a logger writing to out: zap's production JSON encoder with
// ISO8601 timestamps, or a coloured console encoder. -vv adds caller info.
func New(out zapcore.WriteSyncer, jsonOutput bool, verbosity int) *zap.SugaredLogger {
	level := VerbosityToLevel(verbosity)

	var enc zapcore.Encoder
	if jsonOutput {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if verbosity >= VerbosityDebug {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewCore(enc, out, level), opts...).Sugar()
}

// Cleanup flushes buffered entries.
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
