package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"production", "PRODUCTION", "development", ""} {
		logger, err := New(env)
		if err != nil {
			t.Fatalf("New(%q) error = %v", env, err)
		}
		if logger == nil {
			t.Fatalf("New(%q) returned nil logger", env)
		}
	}
}

func TestProductionSkipsDebug(t *testing.T) {
	logger, err := New("production")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("production logger must not enable debug")
	}
}
