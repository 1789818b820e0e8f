package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"cross_arb/internal/event"

	_ "github.com/glebarez/go-sqlite"
)

// Journal streams
const (
	StreamExec       = "exec"
	StreamMarketData = "md"
)

// EventStore is an append-only SQLite journal of inbound events, one
// sequence per stream.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new SQLite event store with WAL mode enabled.
func NewEventStore(dbPath string) (*EventStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			stream TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (stream, seq)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	return &EventStore{db: db}, nil
}

// SaveEvent appends an event to stream under its sequence number.
func (s *EventStore) SaveEvent(ctx context.Context, stream string, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (stream, seq, kind, ts, payload) VALUES (?, ?, ?, ?, ?)",
		stream, ev.GetSeq(), int(ev.Kind()), ev.GetRecvTime().UnixNano(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s/%d: %w", stream, ev.GetSeq(), err)
	}

	return nil
}

// GetLastSeq returns the highest sequence number stored in stream.
// Returns 0 if the stream is empty.
func (s *EventStore) GetLastSeq(ctx context.Context, stream string) (uint64, error) {
	var lastSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM events WHERE stream = ?", stream).Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadEvents loads the events of stream with fromSeq <= seq <= toSeq in
// sequence order. A toSeq of 0 means no upper bound.
func (s *EventStore) LoadEvents(ctx context.Context, stream string, fromSeq, toSeq uint64) ([]event.Event, error) {
	upper := int64(math.MaxInt64)
	if toSeq != 0 {
		upper = int64(toSeq)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, kind, payload FROM events WHERE stream = ? AND seq >= ? AND seq <= ? ORDER BY seq ASC",
		stream, int64(fromSeq), upper,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var seq int64
		var kind int
		var payload []byte

		if err := rows.Scan(&seq, &kind, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev, err := decode(event.Kind(kind), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s/%d: %w", stream, seq, err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

func decode(kind event.Kind, payload []byte) (event.Event, error) {
	var ev event.Event
	switch kind {
	case event.KindMarketData:
		ev = &event.MarketData{}
	case event.KindExecReport:
		ev = &event.ExecReport{}
	case event.KindSessionStatus:
		ev = &event.SessionStatus{}
	default:
		return nil, fmt.Errorf("unknown event kind %d", kind)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Close closes the database connection.
func (s *EventStore) Close() error {
	return s.db.Close()
}
