package logger

import (
	"context"
	"path/filepath"
	"testing"

	"codeexec/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	setLogger(fromZap(zap.New(core)))
	t.Cleanup(func() { setLogger(nil) })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.RequestID, "req-1")
	ctx = WithExecution(ctx, "exec-1", "python")

	Info(ctx, "execution finished", zap.String("status", "success"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	want := map[string]string{
		"trace_id":     "trace-1",
		"request_id":   "req-1",
		"execution_id": "exec-1",
		"language":     "python",
		"status":       "success",
	}
	for key, value := range want {
		if fields[key] != value {
			t.Fatalf("field %s = %v, want %s", key, fields[key], value)
		}
	}
}

func TestUntypedKeysIgnored(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	setLogger(fromZap(zap.New(core)))
	t.Cleanup(func() { setLogger(nil) })

	ctx := context.WithValue(context.Background(), "trace_id", "plain-string-key")
	Warn(ctx, "no trace")

	if _, ok := logs.All()[0].ContextMap()["trace_id"]; ok {
		t.Fatalf("plain string keys must not be picked up")
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	setLogger(nil)
	Info(context.Background(), "dropped")
	if err := Sync(); err != nil {
		t.Fatalf("sync without a logger: %v", err)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	l, err := newLogger(Config{
		Level:      "debug",
		Format:     "json",
		OutputPath: filepath.Join(dir, "out.log"),
		ErrorPath:  filepath.Join(dir, "err.log"),
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := newLogger(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
