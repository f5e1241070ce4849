// Package deadletter writes batches of dead-lettered queue messages to object
// storage, one object per batch keyed by capture time.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ObjectWriter stores one object.
type ObjectWriter interface {
	Write(ctx context.Context, key string, data []byte) error
}

// Dumper implements events.DeadLetterSink.
type Dumper struct {
	writer ObjectWriter
	prefix string
	now    func() time.Time
}

// NewDumper writes batches through w under keys beginning with prefix.
func NewDumper(w ObjectWriter, prefix string) *Dumper {
	return &Dumper{writer: w, prefix: prefix, now: time.Now}
}

// Key returns the object key for a batch captured at t.
func (d *Dumper) Key(t time.Time) string {
	return d.prefix + strconv.FormatInt(t.UnixMilli(), 10) + ".log"
}

// Dump writes messages verbatim as one indented JSON array.
func (d *Dumper) Dump(ctx context.Context, messages []json.RawMessage) error {
	if len(messages) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding dead letters: %w", err)
	}
	return d.writer.Write(ctx, d.Key(d.now()), data)
}
