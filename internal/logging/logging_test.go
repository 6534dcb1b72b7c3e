package logging

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/config"
)

func TestNewAppliesConfiguredLevel(t *testing.T) {
	New(&config.Config{LogLevel: "warn", LogFormat: "json"})
	if Level() != zerolog.WarnLevel {
		t.Fatalf("got level %v, want WarnLevel", Level())
	}
}

func TestNewFallsBackToInfoOnUnparseableLevel(t *testing.T) {
	New(&config.Config{LogLevel: "not-a-level", LogFormat: "json"})
	if Level() != zerolog.InfoLevel {
		t.Fatalf("got level %v, want InfoLevel fallback", Level())
	}
}

func TestDebugEnabledTracksLevel(t *testing.T) {
	SetLevel(zerolog.DebugLevel)
	if !DebugEnabled() {
		t.Fatal("expected DebugEnabled to be true at DebugLevel")
	}
	SetLevel(zerolog.InfoLevel)
	if DebugEnabled() {
		t.Fatal("expected DebugEnabled to be false at InfoLevel")
	}
}

func TestRecoverPanicSwallowsPanic(t *testing.T) {
	logger := zerolog.Nop()
	func() {
		defer RecoverPanic(logger, "test.goroutine")
		panic("boom")
	}()
}
