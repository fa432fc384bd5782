package log

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{" INFO ", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	got := Ctx(context.Background())
	if got.GetLevel() != L().GetLevel() {
		t.Fatal("Ctx without a stored logger should return the global logger")
	}
}

func TestCtxReturnsStoredLogger(t *testing.T) {
	stored := zerolog.Nop().Level(zerolog.Disabled)
	ctx := WithLogger(context.Background(), stored)
	if got := Ctx(ctx); got.GetLevel() != zerolog.Disabled {
		t.Fatalf("Ctx returned level %v, want the stored disabled logger", got.GetLevel())
	}
}
