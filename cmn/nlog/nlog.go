// Package nlog is Orbit's single logging sink. Every subsystem routes
// diagnostic output through here rather than fmt.Print* or the stdlib
// log package, so log shipping/formatting can change in one place.
package nlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.SugaredLogger

func init() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	logger = l.Sugar()
}

// SetLevel raises the minimum emitted level at runtime (e.g. "warn").
// A level below the current one, such as "debug", has no effect.
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return
	}
	logger = logger.Desugar().WithOptions(zap.IncreaseLevel(lvl)).Sugar()
}

func Infoln(args ...interface{})        { logger.Infoln(args...) }
func Infof(f string, a ...interface{})  { logger.Infof(f, a...) }
func Warnln(args ...interface{})        { logger.Warnln(args...) }
func Warnf(f string, a ...interface{})  { logger.Warnf(f, a...) }
func Errorln(args ...interface{})       { logger.Errorln(args...) }
func Errorf(f string, a ...interface{}) { logger.Errorf(f, a...) }
func Fatalln(args ...interface{})       { logger.Fatalln(args...) }

// Flush drains any buffered log entries. Call on shutdown.
func Flush() { _ = logger.Sync() }
