package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
	seq     INTEGER PRIMARY KEY,
	time    INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	payload BLOB
);
CREATE INDEX IF NOT EXISTS idx_journal_kind_time ON journal(kind, time);
`

// SQLite persists journal entries to a local database file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO journal(seq, time, kind, payload) VALUES(?, ?, ?, ?)`,
		e.Seq, e.Time.UnixNano(), string(e.Kind), []byte(e.Payload),
	)
	if err != nil {
		return fmt.Errorf("append journal entry %d: %w", e.Seq, err)
	}
	return nil
}

// Load returns all entries in sequence order.
func (s *SQLite) Load() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT seq, time, kind, payload FROM journal ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ns int64
		var kind string
		var payload []byte
		if err := rows.Scan(&e.Seq, &ns, &kind, &payload); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ns).UTC()
		e.Kind = Kind(kind)
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
