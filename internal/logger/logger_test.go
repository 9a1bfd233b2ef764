package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

type captureHandler struct {
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func TestNewWritesJSONWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "info")
	ctx := WithRequestID(context.Background(), "req-1")

	From(ctx, base).Info("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "req-1" || entry["msg"] != "hello" || entry["service"] != "agentdesk" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestLevelFilteringAndFanout(t *testing.T) {
	var buf bytes.Buffer
	capture := &captureHandler{}
	l := New(&buf, "error", capture)

	l.Info("not for stdout")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at error level: %s", buf.String())
	}
	if len(capture.records) != 1 {
		t.Fatalf("extra handler should still receive the record, got %d", len(capture.records))
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
