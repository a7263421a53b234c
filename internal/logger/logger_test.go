package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		json, debug bool
	}{{false, false}, {true, true}} {
		l, err := New(tc.json, tc.debug)
		if err != nil {
			t.Fatalf("New(%v, %v) error: %v", tc.json, tc.debug, err)
		}
		if got := l.Core().Enabled(zapcore.DebugLevel); got != tc.debug {
			t.Fatalf("debug enabled = %v, want %v", got, tc.debug)
		}
	}
}

func TestOrNopAndApplicantFields(t *testing.T) {
	t.Parallel()

	if OrNop(nil) == nil {
		t.Fatalf("expected fallback logger")
	}

	core, observed := observer.New(zapcore.InfoLevel)
	OrNop(zap.New(core)).Info("scored", Applicant(3, 7)...)

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["applicant_id"] != uint64(3) || ctx["job_id"] != uint64(7) {
		t.Fatalf("unexpected fields: %+v", ctx)
	}
}
