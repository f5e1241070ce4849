// Package natskv mirrors ledger events into a NATS JetStream key-value bucket.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/eventpoll/internal/model"
	"github.com/alfredjeanlab/eventpoll/internal/store"
)

// DefaultBucket is the bucket name used when none is configured.
const DefaultBucket = "ledger-events"

// Entry is the value stored under each event key.
type Entry struct {
	Ledger model.Sequence   `json:"ledger"`
	Topic  []string         `json:"topic"`
	Value  model.EventValue `json:"value"`
}

// Mirror implements store.EventMirror on a KV bucket.
type Mirror struct {
	kv jetstream.KeyValue
}

var _ store.EventMirror = (*Mirror)(nil)

// New binds to (creating if needed) the named bucket.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*Mirror, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Ledger events keyed by contract, type and id",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("binding KV bucket %s: %w", bucket, err)
	}
	return &Mirror{kv: kv}, nil
}

// Key returns the KV key for ev: <contractId>.<type>.<id>.
func Key(ev *model.Event) string {
	return sanitize(ev.ContractID) + "." + sanitize(string(ev.Type)) + "." + sanitize(ev.ID)
}

// sanitize maps characters NATS does not allow in key tokens to '_'.
func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '=', r == '/':
			return r
		}
		return '_'
	}, s)
}

// PutEvents creates one key per event. A key that already exists is left as
// is.
func (m *Mirror) PutEvents(ctx context.Context, events []model.Event) error {
	for i := range events {
		ev := &events[i]
		data, err := json.Marshal(Entry{Ledger: ev.Ledger, Topic: ev.Topic, Value: ev.Value})
		if err != nil {
			return fmt.Errorf("marshaling entry %s: %w", ev.ID, err)
		}
		if _, err := m.kv.Create(ctx, Key(ev), data); err != nil && !errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("writing %s: %w", Key(ev), err)
		}
	}
	return nil
}

// Get returns the entry for key, or jetstream.ErrKeyNotFound.
func (m *Mirror) Get(ctx context.Context, key string) (*Entry, error) {
	kve, err := m.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &e, nil
}

func (m *Mirror) Close() error {
	return nil
}
