package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Cursor is the resumption position in the ledger event feed. It is either a
// ledger sequence number or an opaque paging token returned by the service.
// The zero value is the absent cursor.
type Cursor struct {
	seq   int64
	token string
	set   bool
}

// SequenceCursor returns a cursor positioned at the given ledger sequence.
func SequenceCursor(seq int64) Cursor {
	return Cursor{seq: seq, set: true}
}

// TokenCursor returns a cursor positioned at the given paging token.
func TokenCursor(token string) Cursor {
	return Cursor{token: token, set: true}
}

// IsZero reports whether the cursor is absent.
func (c Cursor) IsZero() bool { return !c.set }

// IsToken reports whether the cursor holds a paging token.
func (c Cursor) IsToken() bool { return c.set && c.token != "" }

// IsSequence reports whether the cursor holds a ledger sequence.
func (c Cursor) IsSequence() bool { return c.set && c.token == "" }

// Sequence returns the ledger sequence and whether the cursor holds one.
func (c Cursor) Sequence() (int64, bool) {
	return c.seq, c.IsSequence()
}

// Token returns the paging token and whether the cursor holds one.
func (c Cursor) Token() (string, bool) {
	return c.token, c.IsToken()
}

func (c Cursor) String() string {
	switch {
	case !c.set:
		return "<none>"
	case c.token != "":
		return c.token
	default:
		return strconv.FormatInt(c.seq, 10)
	}
}

// MarshalJSON encodes the cursor as a number, a string, or null.
func (c Cursor) MarshalJSON() ([]byte, error) {
	switch {
	case !c.set:
		return []byte("null"), nil
	case c.token != "":
		return json.Marshal(c.token)
	default:
		return []byte(strconv.FormatInt(c.seq, 10)), nil
	}
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Cursor{}
	case data[0] == '"':
		var tok string
		if err := json.Unmarshal(data, &tok); err != nil {
			return err
		}
		if tok == "" {
			*c = Cursor{}
			return nil
		}
		*c = TokenCursor(tok)
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid cursor %s: %w", data, err)
		}
		*c = SequenceCursor(n)
	}
	return nil
}
