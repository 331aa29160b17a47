// Package logging configures the structured logger shared by the pager,
// the maintenance scheduler and the CLI. Grounded on the teacher's
// internal/pkg/logging package.
package logging

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultConfig returns a production zap.Config tuned for an embedded
// database process: no sampling (we want every commit/rollback logged,
// not a statistical subset), ISO8601 timestamps, and a "severity" level
// key so log shippers that expect that field name don't need remapping.
func DefaultConfig() zap.Config {
	logConf := zap.NewProductionConfig()
	logConf.Sampling = nil
	logConf.EncoderConfig.TimeKey = "time"
	logConf.EncoderConfig.LevelKey = "severity"
	logConf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logConf.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	return logConf
}

// ParseLevel parses a connection-string log_level value into a zap level.
func ParseLevel(l string) (zapcore.Level, error) {
	l = strings.ToLower(strings.TrimSpace(l))
	switch l {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		level, err := strconv.ParseInt(l, 10, 8)
		if err != nil {
			return 0, err
		}
		return zapcore.Level(level), nil
	}
}

// New builds a logger at the given level, falling back to a no-op logger
// if construction fails (keeps pager Open from failing on a logging
// misconfiguration).
func New(level string) *zap.Logger {
	conf := DefaultConfig()
	if level != "" {
		lvl, err := ParseLevel(level)
		if err == nil {
			conf.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := conf.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
