// Package postgres backs both the poller state store and the relational event
// mirror with PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/eventpoll/internal/model"
	"github.com/alfredjeanlab/eventpoll/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.StateStore and store.EventMirror.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ store.StateStore  = (*PostgresStore)(nil)
	_ store.EventMirror = (*PostgresStore)(nil)
)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetCursor(ctx context.Context) (model.Cursor, error) {
	c, err := queryGetCursor(ctx, s.db)
	if err != nil {
		return model.Cursor{}, &store.StorageError{Op: "get cursor", Err: err}
	}
	return c, nil
}

func (s *PostgresStore) SetCursor(ctx context.Context, c model.Cursor) error {
	if err := querySetCursor(ctx, s.db, c); err != nil {
		return &store.StorageError{Op: "set cursor", Err: err}
	}
	return nil
}

func (s *PostgresStore) GetNextWake(ctx context.Context) (time.Time, bool, error) {
	t, ok, err := queryGetNextWake(ctx, s.db)
	if err != nil {
		return time.Time{}, false, &store.StorageError{Op: "get next wake", Err: err}
	}
	return t, ok, nil
}

func (s *PostgresStore) SetNextWake(ctx context.Context, t time.Time) error {
	if err := querySetNextWake(ctx, s.db, t); err != nil {
		return &store.StorageError{Op: "set next wake", Err: err}
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if err := queryClearState(ctx, s.db); err != nil {
		return &store.StorageError{Op: "clear", Err: err}
	}
	return nil
}

// PutEvents inserts the batch in one transaction. Rows whose id already
// exists are left untouched.
func (s *PostgresStore) PutEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.runInTransaction(ctx, func(tx executor) error {
		for i := range events {
			if err := queryInsertEvent(ctx, tx, &events[i]); err != nil {
				return fmt.Errorf("insert event %s: %w", events[i].ID, err)
			}
		}
		return nil
	})
}

// runInTransaction begins a transaction, calls fn, and commits on success or
// rolls back on error.
func (s *PostgresStore) runInTransaction(ctx context.Context, fn func(tx executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
