// Package logger provides component-tagged leveled logging for the whole
// process. Every call site names the component it logs for, so the output can
// be filtered per subsystem without per-package logger plumbing.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init configures the process logger. Level is one of debug, info, warn,
// error (case-insensitive); anything unrecognized falls back to info.
func Init(level string) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}

	mu.Lock()
	log = built
	mu.Unlock()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func zapFields(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) {
	current().Debug(msg, zap.String("component", component))
}

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug(msg, zapFields(component, fields)...)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) {
	current().Info(msg, zap.String("component", component))
}

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info(msg, zapFields(component, fields)...)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) {
	current().Warn(msg, zap.String("component", component))
}

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn(msg, zapFields(component, fields)...)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) {
	current().Error(msg, zap.String("component", component))
}

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error(msg, zapFields(component, fields)...)
}
