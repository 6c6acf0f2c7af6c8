package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/greenlight-hq/greenlight/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSync(t *testing.T) {
	log, closer := New(config.Logging{Level: "info", Service: "test"})
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close() // no-op closer must not panic
}

// collectHandler records everything it handles, synchronized for the async workers.
type collectHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *collectHandler) Enabled(context.Context, slog.Level) bool { return true }
func (c *collectHandler) Handle(_ context.Context, rec slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}
func (c *collectHandler) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *collectHandler) WithGroup(string) slog.Handler      { return c }

func TestAsyncHandlerFlushesOnClose(t *testing.T) {
	inner := &collectHandler{}
	h := NewAsyncHandler(inner, 128, 2)
	log := slog.New(h)

	for i := range 50 {
		log.Info("message", "i", i)
	}
	h.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.records) != 50 {
		t.Fatalf("expected 50 records after flush, got %d", len(inner.records))
	}
	if h.Dropped() != 0 {
		t.Fatalf("expected 0 dropped, got %d", h.Dropped())
	}
}

func TestJSONOutputHasServiceAttr(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	log := slog.New(handler).With("service", "greenlight-core")
	log.Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["service"] != "greenlight-core" {
		t.Fatalf("expected service attr, got %v", rec["service"])
	}
}
