// Package logger owns the process-wide zap logger. Long-lived components
// take a *zap.Logger at construction; everything else pulls the global
// through Get or Named. The convention across the codebase: trunk
// mutations and lifecycle events log at Info, component internals at
// Debug, and post-merge sync or teardown failures at Warn and above, so a
// production log reads as the trunk's change history.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger

	fallbackOnce sync.Once
	fallback     *zap.Logger
)

// Init builds the global logger for the given environment. Production
// emits JSON at Info with a service field for log aggregation; any other
// environment gets a colored console at Debug.
func Init(env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.InitialFields = map[string]interface{}{"service": "loom"}
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := config.Build()
	if err != nil {
		return err
	}
	global = built
	return nil
}

// Get returns the global logger. Before Init it falls back to a shared
// development logger so early and test-only callers still log.
func Get() *zap.Logger {
	if global != nil {
		return global
	}
	fallbackOnce.Do(func() {
		l, err := zap.NewDevelopment()
		if err != nil {
			l = zap.NewNop()
		}
		fallback = l
	})
	return fallback
}

// Named returns the global logger scoped to one component, so a line can
// be traced back to the subsystem that wrote it.
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

// Sync flushes any buffered entries from the global logger.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
