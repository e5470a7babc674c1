package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddittail/streamengine"
)

// SQLiteSink mirrors every item the stream engine emits into one generic
// (listing, fullname, kind, payload, observed_at) table, independent of
// the per-listing dedup cursor, giving the consumer a queryable history
// across every listing.
type SQLiteSink struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logrus.Logger
}

// NewSQLiteSink opens (creating if needed) a SQLite database at dbPath and
// ensures its schema exists.
func NewSQLiteSink(dbPath string, log *logrus.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	sink := &SQLiteSink{db: db, log: log}
	if err := sink.initSchema(); err != nil {
		return nil, fmt.Errorf("store: initializing schema: %w", err)
	}
	return sink, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteSink) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const schema = `
	CREATE TABLE IF NOT EXISTS stream_items (
		listing TEXT NOT NULL,
		fullname TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		observed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (listing, fullname, observed_at)
	);
	CREATE INDEX IF NOT EXISTS idx_stream_items_listing ON stream_items(listing, observed_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record implements streamengine.Sink.
func (s *SQLiteSink) Record(item streamengine.StreamItem) error {
	payload, err := json.Marshal(item.Item)
	if err != nil {
		return fmt.Errorf("store: marshaling item payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const insert = `
	INSERT OR REPLACE INTO stream_items (listing, fullname, kind, payload, observed_at)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(insert, item.Listing, item.Item.Fullname, string(item.Kind), string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: inserting stream item: %w", err)
	}
	return nil
}

// RecordedItem is one row of stream_items, returned by RecentByListing for
// httpapi's inspection endpoint.
type RecordedItem struct {
	Listing    string
	Fullname   string
	Kind       string
	Payload    string
	ObservedAt time.Time
}

// RecentByListing returns the most recent limit items recorded for
// listing, newest first.
func (s *SQLiteSink) RecentByListing(listing string, limit int) ([]RecordedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
	SELECT listing, fullname, kind, payload, observed_at
	FROM stream_items
	WHERE listing = ?
	ORDER BY observed_at DESC
	LIMIT ?
	`
	rows, err := s.db.Query(query, listing, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying recent items: %w", err)
	}
	defer rows.Close()

	items := make([]RecordedItem, 0, limit)
	for rows.Next() {
		var item RecordedItem
		if err := rows.Scan(&item.Listing, &item.Fullname, &item.Kind, &item.Payload, &item.ObservedAt); err != nil {
			return nil, fmt.Errorf("store: scanning recent item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: row iteration error: %w", err)
	}
	return items, nil
}
