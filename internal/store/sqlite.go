package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/niama/aiko/internal/model"
)

// SQLiteStore implements Store using a single flat SQLite table.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes every mutation. Gap-filling id allocation reads the
	// live id set and writes the chosen id in one critical section, so
	// two producers can never race onto the same id.
	mu      sync.Mutex
	entropy *rand.Rand
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithEntropy overrides the random source used to pick commit survivors.
func WithEntropy(r *rand.Rand) Option {
	return func(s *SQLiteStore) { s.entropy = r }
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_records (
		id              INTEGER PRIMARY KEY,
		source_identity TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		question        TEXT NOT NULL,
		response        TEXT,
		answered        BOOLEAN NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chat_records_answered ON chat_records(answered);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, source string, eventType model.EventType, question string) (int, error) {
	if !eventType.Valid() {
		return 0, fmt.Errorf("invalid event type %q", eventType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chat_records ORDER BY id`)
	if err != nil {
		return 0, err
	}
	// Smallest positive integer not already assigned: walk the dense
	// prefix until the first gap.
	newID := 1
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if id != newID {
			break
		}
		newID++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_records (id, source_identity, event_type, question, answered)
		 VALUES (?, ?, ?, ?, 0)`,
		newID, source, string(eventType), question)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newID, nil
}

func (s *SQLiteStore) ListUnanswered(ctx context.Context) ([]model.ChatRecord, error) {
	return s.list(ctx, `SELECT id, source_identity, event_type, question, response, answered
		FROM chat_records WHERE answered = 0 ORDER BY id`)
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]model.ChatRecord, error) {
	return s.list(ctx, `SELECT id, source_identity, event_type, question, response, answered
		FROM chat_records ORDER BY id`)
}

func (s *SQLiteStore) list(ctx context.Context, query string) ([]model.ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ChatRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) MarkAnswered(ctx context.Context, id int, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markAnswered(ctx, s.db, id, response)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) markAnswered(ctx context.Context, e execer, id int, response string) error {
	res, err := e.ExecContext(ctx,
		`UPDATE chat_records SET response = ?, answered = 1 WHERE id = ?`, response, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("record not found: %d", id)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_records WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Commit(ctx context.Context, ids []int, response string) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("commit: empty id set")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	survivor := ids[s.entropy.Intn(len(ids))]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := s.markAnswered(ctx, tx, survivor, response); err != nil {
		return 0, fmt.Errorf("commit survivor %d: %w", survivor, err)
	}
	for _, id := range ids {
		if id == survivor {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_records WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("commit delete %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return survivor, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	records, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Total: len(records)}
	for _, r := range records {
		if r.Answered {
			st.Answered++
			continue
		}
		st.Pending++
		switch r.EventType {
		case model.EventSpeech:
			st.SpeechPend++
		case model.EventLiveChat:
			st.ChatPend++
		}
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (model.ChatRecord, error) {
	var r model.ChatRecord
	var eventType string
	var response sql.NullString

	err := row.Scan(&r.ID, &r.SourceIdentity, &eventType, &r.Question, &response, &r.Answered)
	if err != nil {
		return r, err
	}
	r.EventType = model.EventType(eventType)
	if response.Valid {
		r.Response = response.String
	}
	return r, nil
}
