package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/model"
	"github.com/alfredjeanlab/eventpoll/internal/store"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryGetState(ctx context.Context, db executor, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM poller_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func querySetState(ctx context.Context, db executor, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO poller_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return err
}

func queryClearState(ctx context.Context, db executor) error {
	_, err := db.ExecContext(ctx, `DELETE FROM poller_state`)
	return err
}

func queryGetCursor(ctx context.Context, db executor) (model.Cursor, error) {
	var c model.Cursor
	raw, ok, err := queryGetState(ctx, db, store.KeyCursor)
	if err != nil || !ok {
		return c, err
	}
	err = json.Unmarshal([]byte(raw), &c)
	return c, err
}

func querySetCursor(ctx context.Context, db executor, c model.Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return querySetState(ctx, db, store.KeyCursor, string(data))
}

func queryGetNextWake(ctx context.Context, db executor) (time.Time, bool, error) {
	raw, ok, err := queryGetState(ctx, db, store.KeyNextWake)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func querySetNextWake(ctx context.Context, db executor, t time.Time) error {
	return querySetState(ctx, db, store.KeyNextWake, t.UTC().Format(time.RFC3339Nano))
}

func queryInsertEvent(ctx context.Context, db executor, ev *model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_events (
			id, type, ledger, contract_id, topic_1, topic_2, topic_3, topic_4, value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID,
		string(ev.Type),
		ev.Ledger.Int64(),
		ev.ContractID,
		nullString(ev.TopicAt(0)),
		nullString(ev.TopicAt(1)),
		nullString(ev.TopicAt(2)),
		nullString(ev.TopicAt(3)),
		ev.Value.XDR,
	)
	return err
}

// nullString returns a sql.NullString that is NULL when s is empty.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
