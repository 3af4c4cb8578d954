package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	iface "FaceVerify/interface"
	"FaceVerify/logger"
	"FaceVerify/verify"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("verification not found")

// Record is one stored verification attempt.
type Record struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Verified   bool          `json:"verified"`
	Ratio      float64       `json:"ratio"`
	Detections int           `json:"detections"`
	Scores     []iface.Score `json:"scores"`
	References []string      `json:"references"`
	Skipped    []string      `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Store keeps verification history in SQLite. Writes are serialized.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS verifications (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		verified INTEGER NOT NULL,
		ratio REAL NOT NULL DEFAULT 0,
		detections INTEGER NOT NULL DEFAULT 0,
		scores TEXT NOT NULL DEFAULT '[]',
		refs TEXT NOT NULL DEFAULT '[]',
		skipped TEXT NOT NULL DEFAULT '[]',
		duration_ns INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_verifications_timestamp ON verifications(timestamp);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// FromResult converts a verification result into a record.
func FromResult(res *verify.Result, err error) Record {
	r := Record{
		ID:         res.ID,
		Timestamp:  res.StartedAt,
		Verified:   res.Verified,
		Ratio:      res.Ratio,
		Detections: res.Detections,
		Scores:     res.Scores,
		References: res.References,
		Skipped:    res.Skipped,
		Duration:   res.Duration,
		Error:      res.Error,
	}
	if err != nil && r.Error == "" {
		r.Error = err.Error()
	}
	return r
}

func (s *Store) Insert(r Record) error {
	scores, err := json.Marshal(nonNil(r.Scores))
	if err != nil {
		return err
	}
	refs, err := json.Marshal(nonNil(r.References))
	if err != nil {
		return err
	}
	skipped, err := json.Marshal(nonNil(r.Skipped))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Exec(`
		INSERT INTO verifications (id, timestamp, verified, ratio, detections, scores, refs, skipped, duration_ns, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Timestamp.UnixNano(), r.Verified, r.Ratio, r.Detections, string(scores), string(refs), string(skipped), int64(r.Duration), r.Error)
	if err != nil {
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	return nil
}

// Observe stores every started attempt; it has the verify.Observer shape.
func (s *Store) Observe(res *verify.Result, err error) {
	if res == nil {
		return
	}
	if insertErr := s.Insert(FromResult(res, err)); insertErr != nil {
		logger.Log().Error("history insert failed", zap.String("id", res.ID), zap.Error(insertErr))
	}
}

const selectColumns = `SELECT id, timestamp, verified, ratio, detections, scores, refs, skipped, duration_ns, error FROM verifications`

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(selectColumns+` ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanRecord(s.conn.QueryRow(selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r                     Record
		ts, durationNs        int64
		scores, refs, skipped string
	)
	if err := row.Scan(&r.ID, &ts, &r.Verified, &r.Ratio, &r.Detections, &scores, &refs, &skipped, &durationNs, &r.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("failed to scan verification: %w", err)
	}
	r.Timestamp = time.Unix(0, ts)
	r.Duration = time.Duration(durationNs)
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return Record{}, fmt.Errorf("decode scores of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(refs), &r.References); err != nil {
		return Record{}, fmt.Errorf("decode references of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(skipped), &r.Skipped); err != nil {
		return Record{}, fmt.Errorf("decode skipped of %s: %w", r.ID, err)
	}
	if len(r.Skipped) == 0 {
		r.Skipped = nil
	}
	return r, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
