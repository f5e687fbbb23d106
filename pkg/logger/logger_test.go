package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := strings.Split(buf.String(), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &payload); err != nil {
			t.Fatalf("failed to decode log line: %v", err)
		}
		return payload
	}

	t.Fatal("no log lines found")
	return nil
}

func TestWithContextInjectsFields(t *testing.T) {
	var buf bytes.Buffer
	log := New("emulator", &buf)

	ctx := ContextWithTraceID(context.Background(), "trace-123")
	ctx = ContextWithSpanID(ctx, "span-456")

	log.WithContext(ctx).Info("book changed")

	payload := decodeLastLogLine(t, &buf)
	if payload["service"] != "emulator" {
		t.Fatalf("expected service to be injected, got %v", payload["service"])
	}
	if payload["traceID"] != "trace-123" {
		t.Fatalf("expected traceID, got %v", payload["traceID"])
	}
	if payload["spanID"] != "span-456" {
		t.Fatalf("expected spanID, got %v", payload["spanID"])
	}
	if payload["timestamp"] == nil {
		t.Fatalf("expected timestamp to be injected")
	}
	if payload["message"] != "book changed" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New("emulator", &buf).Component("matching")

	log.Infof("trade executed", map[string]any{"qty": 30, "price": "100.00"})

	payload := decodeLastLogLine(t, &buf)
	if payload["component"] != "matching" {
		t.Fatalf("expected component field, got %v", payload["component"])
	}
	if payload["qty"] != float64(30) {
		t.Fatalf("expected qty=30, got %v", payload["qty"])
	}
	if payload["price"] != "100.00" {
		t.Fatalf("expected price field, got %v", payload["price"])
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name  string
		logFn func(*Logger)
		want  string
	}{
		{name: "debug", logFn: func(l *Logger) { l.Debugf("walk", nil) }, want: "debug"},
		{name: "warn", logFn: func(l *Logger) { l.Warn("warning") }, want: "warn"},
		{name: "error", logFn: func(l *Logger) { l.WithError(errTest).Error("failure") }, want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFn(New("emulator", &buf))

			payload := decodeLastLogLine(t, &buf)
			if payload["level"] != tt.want {
				t.Fatalf("expected level %s, got %v", tt.want, payload["level"])
			}
		})
	}
}

func TestWithLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New("emulator", &buf).WithLevel("warn")

	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	log.Warn("visible")
	if payload := decodeLastLogLine(t, &buf); payload["message"] != "visible" {
		t.Fatalf("expected warn line, got %v", payload)
	}
}

func TestParseLevelFallback(t *testing.T) {
	if got := ParseLevel("bogus").String(); got != "info" {
		t.Fatalf("expected info fallback, got %s", got)
	}
	if got := ParseLevel(" DEBUG ").String(); got != "debug" {
		t.Fatalf("expected debug, got %s", got)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "trace-x")
	ctx = ContextWithSpanID(ctx, "span-y")

	if got := TraceIDFromContext(ctx); got != "trace-x" {
		t.Fatalf("expected trace id trace-x, got %q", got)
	}
	if got := SpanIDFromContext(ctx); got != "span-y" {
		t.Fatalf("expected span id span-y, got %q", got)
	}

	typedCtx := context.WithValue(context.Background(), traceIDKey, 123)
	if got := TraceIDFromContext(typedCtx); got != "" {
		t.Fatalf("expected empty trace id for non-string, got %q", got)
	}
	if got := SpanIDFromContext(nil); got != "" {
		t.Fatalf("expected empty span id for nil context, got %q", got)
	}
}

func TestNopDiscards(t *testing.T) {
	Nop().Errorf("ignored", map[string]any{"k": "v"})
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")

func TestWithContextOmitsMissingIDs(t *testing.T) {
	var buf bytes.Buffer
	New("emulator", &buf).WithContext(context.Background()).Info("order processed")

	payload := decodeLastLogLine(t, &buf)
	if _, ok := payload["traceID"]; ok {
		t.Fatalf("expected no traceID without a span, got %v", payload)
	}
}
