package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MaxTopics is the number of topic slots mirrored per event.
const MaxTopics = 4

// EventType classifies a contract event as reported by the ledger service.
type EventType string

const (
	EventTypeContract   EventType = "contract"
	EventTypeSystem     EventType = "system"
	EventTypeDiagnostic EventType = "diagnostic"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is a single immutable record from the ledger event feed.
type Event struct {
	ID                       string     `json:"id"`
	Type                     EventType  `json:"type"`
	Ledger                   Sequence   `json:"ledger"`
	LedgerClosedAt           string     `json:"ledgerClosedAt,omitempty"`
	ContractID               string     `json:"contractId"`
	PagingToken              string     `json:"pagingToken,omitempty"`
	Topic                    []string   `json:"topic"`
	Value                    EventValue `json:"value"`
	InSuccessfulContractCall bool       `json:"inSuccessfulContractCall,omitempty"`
}

// TopicAt returns the topic in slot i, or "" when the event has fewer topics.
func (e *Event) TopicAt(i int) string {
	if i < 0 || i >= len(e.Topic) {
		return ""
	}
	return e.Topic[i]
}

// EventValue carries the opaque XDR payload of an event.
// Older RPC versions send {"xdr": "..."}, newer ones a bare string; both decode.
type EventValue struct {
	XDR string `json:"xdr"`
}

func (v *EventValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = EventValue{}
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &v.XDR)
	}
	var obj struct {
		XDR string `json:"xdr"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode event value: %w", err)
	}
	v.XDR = obj.XDR
	return nil
}

// Sequence is a ledger sequence number. The ledger service reports it either
// as a JSON number or as a decimal string depending on the field and version.
type Sequence int64

func (s *Sequence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == "" {
			*s = 0
			return nil
		}
		data = []byte(str)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ledger sequence %q: %w", data, err)
	}
	*s = Sequence(n)
	return nil
}

// Int64 returns the sequence as a plain integer.
func (s Sequence) Int64() int64 {
	return int64(s)
}
