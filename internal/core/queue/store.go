package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/telemetry"

	_ "modernc.org/sqlite"
)

const outboxSchema = `CREATE TABLE IF NOT EXISTS outbox (
	match_id        TEXT    NOT NULL,
	idempotency_key TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	status          TEXT    NOT NULL,
	submitted_at    TEXT    NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT    NOT NULL DEFAULT '',
	event           BLOB    NOT NULL,
	updated         TEXT    NOT NULL,
	PRIMARY KEY (match_id, idempotency_key)
)`

// Store keeps unacknowledged queue entries in SQLite, one row per
// (match, idempotency key). Rows are deleted once the store answers.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		outboxSchema,
		`CREATE INDEX IF NOT EXISTS idx_outbox_match_seq ON outbox(match_id, seq)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init outbox schema: %w", err)
		}
	}

	var rows int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&rows); err != nil {
		db.Close()
		return nil, fmt.Errorf("count outbox rows: %w", err)
	}
	telemetry.Plainf("outbox: opened %s  rows=%d", path, rows)

	return &Store{db: db}, nil
}

func (s *Store) Save(e Entry) error {
	raw, err := json.Marshal(e.Event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO outbox (match_id, idempotency_key, seq, status, submitted_at, retry_count, last_error, event, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id, idempotency_key) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error,
			updated = excluded.updated`,
		e.Event.MatchID,
		e.Key(),
		e.Seq,
		string(e.Status),
		e.SubmittedAt.UTC().Format(time.RFC3339Nano),
		e.RetryCount,
		e.LastError,
		raw,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save outbox entry %s: %w", e.Key(), err)
	}
	return nil
}

func (s *Store) Delete(matchID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM outbox WHERE match_id = ? AND idempotency_key = ?`, matchID, key); err != nil {
		return fmt.Errorf("delete outbox entry %s: %w", key, err)
	}
	return nil
}

// Load returns a match's entries in submission order.
func (s *Store) Load(matchID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT seq, status, submitted_at, retry_count, last_error, event
		FROM outbox WHERE match_id = ? ORDER BY seq ASC`, matchID)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			status    string
			submitted string
			raw       []byte
		)
		if err := rows.Scan(&e.Seq, &status, &submitted, &e.RetryCount, &e.LastError, &raw); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		var ev match.MatchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			telemetry.Warnf("outbox: skipping unreadable row seq=%d: %v", e.Seq, err)
			continue
		}
		e.Event = ev
		e.Status = LocalStatus(status)
		e.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submitted)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Matches lists every match that still has entries.
func (s *Store) Matches() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT DISTINCT match_id FROM outbox ORDER BY match_id`)
	if err != nil {
		return nil, fmt.Errorf("query outbox matches: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
