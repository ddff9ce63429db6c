package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestUseLoggerRestores(t *testing.T) {
	before := L()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := UseLogger(zap.New(core))

	Warn("extraction failed", zap.String("label", "SDL2"))
	restore()
	Info("after restore")

	if logs.Len() != 1 {
		t.Fatalf("observed %d entries, want 1", logs.Len())
	}
	e := logs.All()[0]
	if e.Level != zapcore.WarnLevel || e.Message != "extraction failed" {
		t.Errorf("entry = %s %q", e.Level, e.Message)
	}
	if e.ContextMap()["label"] != "SDL2" {
		t.Errorf("fields = %v", e.ContextMap())
	}
	if L() != before {
		t.Error("restore did not put the previous logger back")
	}
}

func TestWithFieldsCarriesLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	defer UseLogger(zap.New(core))()

	ctx := WithFields(context.Background(), zap.String("archive", "SDL2_image"))
	WithContext(ctx).Info("archive installed")
	WithContext(context.Background()).Debug("below level")

	if logs.Len() != 1 {
		t.Fatalf("observed %d entries, want 1", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["archive"]; got != "SDL2_image" {
		t.Errorf("archive field = %v", got)
	}
}
