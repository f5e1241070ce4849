package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// mockWriter records calls to Write.
type mockWriter struct {
	keys []string
	data [][]byte
	err  error
}

func (w *mockWriter) Write(_ context.Context, key string, data []byte) error {
	if w.err != nil {
		return w.err
	}
	w.keys = append(w.keys, key)
	w.data = append(w.data, data)
	return nil
}

func TestDumper_KeyIsCaptureMillis(t *testing.T) {
	d := NewDumper(&mockWriter{}, "dlq/")
	at := time.UnixMilli(1700000000123)
	if got, want := d.Key(at), "dlq/1700000000123.log"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}

func TestDumper_Dump(t *testing.T) {
	w := &mockWriter{}
	d := NewDumper(w, "")
	d.now = func() time.Time { return time.UnixMilli(42) }

	msgs := []json.RawMessage{
		json.RawMessage(`{"id":"e1","ledger":990}`),
		json.RawMessage(`"garbage"`),
	}
	if err := d.Dump(context.Background(), msgs); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(w.keys) != 1 || w.keys[0] != "42.log" {
		t.Fatalf("keys = %v, want [42.log]", w.keys)
	}

	var back []json.RawMessage
	if err := json.Unmarshal(w.data[0], &back); err != nil {
		t.Fatalf("dump is not a JSON array: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("dump holds %d messages, want 2", len(back))
	}
	var first map[string]any
	if err := json.Unmarshal(back[0], &first); err != nil || first["id"] != "e1" {
		t.Errorf("first message = %s", back[0])
	}
}

func TestDumper_EmptyBatchWritesNothing(t *testing.T) {
	w := &mockWriter{}
	if err := NewDumper(w, "dlq/").Dump(context.Background(), nil); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(w.keys) != 0 {
		t.Fatalf("unexpected writes: %v", w.keys)
	}
}

func TestDumper_WriterError(t *testing.T) {
	w := &mockWriter{err: errors.New("access denied")}
	err := NewDumper(w, "dlq/").Dump(context.Background(), []json.RawMessage{json.RawMessage(`1`)})
	if err == nil {
		t.Fatal("expected error")
	}
}
