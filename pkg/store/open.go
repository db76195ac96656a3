package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open opens an event store from a URL. postgres:// URLs use the pq
// driver; anything else is treated as a SQLite file path.
func Open(databaseURL string) (*EventStore, error) {
	var (
		db  *sql.DB
		err error
		pg  bool
	)
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err = sql.Open("postgres", databaseURL)
		pg = true
	} else {
		db, err = sql.Open("sqlite", databaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping event store: %w", err)
	}
	return NewEventStore(db, pg)
}
