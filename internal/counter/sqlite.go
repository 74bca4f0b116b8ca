package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the counter in a single-row SQLite table. Atomicity of
// the read-modify-write comes from running it inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the counter database.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" or ":memory:" (without prefix)
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single connection

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS failure_counter(
		id INTEGER PRIMARY KEY CHECK (id = 1),
		count INTEGER NOT NULL CHECK (count >= 0)
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *SQLiteStore) Current() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT count FROM failure_counter WHERE id = 1;`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		// Unreadable storage reads as zero prior failures.
		return 0, nil
	}
	return n, nil
}

func (s *SQLiteStore) Increment() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO failure_counter(id, count) VALUES(1, 0)
		ON CONFLICT(id) DO NOTHING;`); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	var n int
	if err := tx.QueryRow(`UPDATE failure_counter SET count = count + 1 WHERE id = 1
		RETURNING count;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}

func (s *SQLiteStore) Reset() error {
	_, err := s.db.Exec(`INSERT INTO failure_counter(id, count) VALUES(1, 0)
		ON CONFLICT(id) DO UPDATE SET count = 0;`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
