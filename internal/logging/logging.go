// Package logging builds the zap-backed structured logger used by the CLI
// and adapts it to the narrow logging contract the sync engine depends on.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a zap logger. Format is "structured" (JSON) or "console";
// level accepts the usual zap level names.
func New(level, format string) (*zap.Logger, error) {
	parsed := zapcore.InfoLevel
	if level != "" {
		var err error
		parsed, err = zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
	}
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

// Adapter exposes a zap logger through key-value pairs.
type Adapter struct {
	sugar *zap.SugaredLogger
}

// Adapt wraps a zap logger for injection into the sync engine.
func Adapt(l *zap.Logger) *Adapter {
	return &Adapter{sugar: l.Sugar()}
}

func (a *Adapter) Debug(msg string, kv ...any) { a.sugar.Debugw(msg, kv...) }
func (a *Adapter) Info(msg string, kv ...any)  { a.sugar.Infow(msg, kv...) }
func (a *Adapter) Warn(msg string, kv ...any)  { a.sugar.Warnw(msg, kv...) }
func (a *Adapter) Error(msg string, kv ...any) { a.sugar.Errorw(msg, kv...) }
