// Package store persists the event log to SQL so trails survive restarts.
// SQLite covers single-node deployments; PostgreSQL covers shared ones.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
)

// EventStore writes committed event entries to a SQL backend and replays
// them on startup.
type EventStore struct {
	db       *sql.DB
	postgres bool
}

// NewEventStore wraps an open database handle. postgres selects $n
// placeholders instead of SQLite's ?.
func NewEventStore(db *sql.DB, postgres bool) (*EventStore, error) {
	s := &EventStore{db: db, postgres: postgres}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EventStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		scope TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		actor TEXT,
		fields TEXT,
		PRIMARY KEY (scope, sequence)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// rebind converts ? placeholders to $n for postgres.
func (s *EventStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Append inserts one committed entry. Duplicate (scope, sequence) pairs
// fail, which preserves append-only semantics at the storage layer too.
func (s *EventStore) Append(ctx context.Context, e eventlog.Entry) error {
	fieldsJSON, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshal entry fields: %w", err)
	}

	query := s.rebind(`INSERT INTO events (
		scope, sequence, kind, content_hash, prev_hash, timestamp, actor, fields
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		e.Scope, e.Sequence, e.Kind, e.ContentHash, e.PrevHash,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Actor, string(fieldsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event %s/%d: %w", e.Scope, e.Sequence, err)
	}
	return nil
}

// Load returns a scope's entries with sequence > after, oldest first.
func (s *EventStore) Load(ctx context.Context, scope string, after uint64) ([]eventlog.Entry, error) {
	query := s.rebind(`
		SELECT scope, sequence, kind, content_hash, prev_hash, timestamp, actor, fields
		FROM events
		WHERE scope = ? AND sequence > ?
		ORDER BY sequence ASC`)

	rows, err := s.db.QueryContext(ctx, query, scope, after)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", scope, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []eventlog.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Scopes lists every persisted scope.
func (s *EventStore) Scopes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT scope FROM events ORDER BY scope`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// Sink adapts the store into an eventlog.Sink. Persistence failures are
// logged and never propagate back into the engines.
func (s *EventStore) Sink() eventlog.Sink {
	return func(e eventlog.Entry) {
		if err := s.Append(context.Background(), e); err != nil {
			slog.Error("event store append failed", "scope", e.Scope, "sequence", e.Sequence, "error", err)
		}
	}
}

// Close closes the underlying database.
func (s *EventStore) Close() error { return s.db.Close() }

// DB exposes the underlying handle for sibling stores sharing the database.
func (s *EventStore) DB() *sql.DB { return s.db }

// Postgres reports whether the backend speaks the postgres dialect.
func (s *EventStore) Postgres() bool { return s.postgres }

func scanEntry(rows *sql.Rows) (eventlog.Entry, error) {
	var (
		e          eventlog.Entry
		timestamp  string
		actor      sql.NullString
		fieldsJSON sql.NullString
	)
	if err := rows.Scan(&e.Scope, &e.Sequence, &e.Kind, &e.ContentHash, &e.PrevHash, &timestamp, &actor, &fieldsJSON); err != nil {
		return eventlog.Entry{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		e.Timestamp = t
	}
	e.Actor = actor.String
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		_ = json.Unmarshal([]byte(fieldsJSON.String), &e.Fields)
	}
	return e, nil
}
