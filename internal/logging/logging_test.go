package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty", "structured"); err == nil {
		t.Fatalf("unknown level accepted")
	}
}

func TestNewBuildsAtRequestedLevel(t *testing.T) {
	logger, err := New("warn", "console")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info enabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn disabled at warn level")
	}
}

func TestAdapterPassesKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := Adapt(zap.New(core))

	adapter.Info("queue drained", "applied", 3, "collection", "audits")
	adapter.Warn("replay conflict", "seq", uint64(7))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	first := entries[0]
	if first.Message != "queue drained" || first.Level != zapcore.InfoLevel {
		t.Fatalf("entry = %+v", first)
	}
	fields := first.ContextMap()
	if fields["applied"] != int64(3) || fields["collection"] != "audits" {
		t.Fatalf("fields = %v", fields)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("second entry = %+v", entries[1])
	}
}
