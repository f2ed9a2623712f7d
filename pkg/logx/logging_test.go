package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDecodeRecord(t *testing.T) {
	t.Parallel()
	line := `{"time":"2026-01-02T03:04:05.000Z","level":"warn","logger":"reload","message":"reload failed","pending":3,"caller":"coordinator.go:42"}` + "\n"

	r, ok := decodeRecord(zerolog.WarnLevel, []byte(line))
	if !ok {
		t.Fatal("decode failed")
	}
	if r.Level != "warn" || r.Logger != "reload" {
		t.Fatalf("record = %+v", r)
	}
	if r.At.Year() != 2026 {
		t.Fatalf("timestamp not parsed: %v", r.At)
	}
	// Extra fields surface as sorted key=value pairs; caller is dropped.
	if r.Message != "reload failed pending=3" {
		t.Fatalf("message = %q", r.Message)
	}
}

func TestDecodeRecordGarbage(t *testing.T) {
	t.Parallel()
	if _, ok := decodeRecord(zerolog.InfoLevel, []byte("not json")); ok {
		t.Fatal("garbage line must not decode")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 100)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
	if truncate("short", 20) != "short" {
		t.Fatal("short strings must pass through")
	}
}

func TestNamedSurvivesWith(t *testing.T) {
	t.Parallel()
	l := Nop().Named("storage").With(Int("attempt", 1))
	if l.IsZero() {
		t.Fatal("derived logger must not be zero")
	}
	// Logging through a nop logger must be safe.
	l.Info("noop", String("k", "v"))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger must report IsZero")
	}
	l.Warn("still safe", Err(nil))
}
