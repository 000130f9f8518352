package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentLedger, Format: "json", Output: &buf})
	l.Info("hello", FieldAccountID, "a1")

	m := decodeLine(t, &buf)
	if m[FieldComponent] != ComponentLedger || m[FieldAccountID] != "a1" {
		t.Fatalf("unexpected record %v", m)
	}
}

func TestStructuredLoggerReconciled(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Format: "json", Output: &buf})
	sl := NewStructuredLogger(l)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sl.LogReconciled(context.Background(), "a1", from, from.AddDate(0, 1, 0), 12, 2, 1, false)

	m := decodeLine(t, &buf)
	if m[FieldWindowFrom] != "2025-03-01" || m[FieldDivergences] != float64(1) || m[FieldCacheHit] != false {
		t.Fatalf("unexpected record %v", m)
	}
}

func TestLogErrorAcceptsNilFields(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Format: "json", Output: &buf}))
	sl.LogError(context.Background(), "boom", errors.New("bad"), ComponentStorage, OpCreate, nil)

	m := decodeLine(t, &buf)
	if m[FieldError] != "bad" || m[FieldOperation] != OpCreate {
		t.Fatalf("unexpected record %v", m)
	}
}

func TestWithTransactionFormatsAmount(t *testing.T) {
	f := NewFields().WithTransaction("t1", decimal.RequireFromString("3.5"))
	if f[FieldAmount] != "3.50" {
		t.Fatalf("expected 3.50, got %v", f[FieldAmount])
	}
}

func TestMiddlewareCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Output: &buf})

	h := Middleware(l)(RequestIDMiddleware(func(context.Context) string { return "req-1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).Info("inside")
		})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	m := decodeLine(t, &buf)
	if m[FieldRequestID] != "req-1" {
		t.Fatalf("expected request id in record, got %v", m)
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected fallback logger")
	}
}
