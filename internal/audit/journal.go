// Package audit keeps a journal of submitted change sets so an operator can
// check afterwards what was written to the store, including partial failures.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"varmatrix/internal/model"
)

// Submission sources.
const (
	SourceREST    = "rest"
	SourceMCP     = "mcp"
	SourceSession = "session"
)

const (
	defaultListLimit = 50

	// Fixed width so that text ordering matches time ordering.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one journaled submission.
type Entry struct {
	ID         string                 `json:"id"`
	ProductID  int64                  `json:"product_id"`
	SessionID  string                 `json:"session_id,omitempty"`
	Source     string                 `json:"source"`
	Requested  model.ChangeSet        `json:"requested"`
	Created    []int64                `json:"created"`
	Deleted    []int64                `json:"deleted"`
	Failures   []model.PersistFailure `json:"failures,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Stale      bool                   `json:"stale,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// NewEntry builds an entry from a submission outcome. A nil result with a
// non-nil err means nothing was applied.
func NewEntry(productID int64, source string, cs model.ChangeSet, result *model.SubmitResult, err error) Entry {
	e := Entry{
		ProductID: productID,
		Source:    source,
		Requested: cs,
		Created:   []int64{},
		Deleted:   []int64{},
	}
	if result != nil {
		e.Created = append(e.Created, result.Created...)
		e.Deleted = append(e.Deleted, result.Deleted...)
		e.Failures = result.Failures
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Partial reports whether some records were rejected.
func (e Entry) Partial() bool {
	return len(e.Failures) > 0
}

// Journal records and lists submissions.
type Journal interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, productID int64, limit int) ([]Entry, error)
}

// SQLiteJournal implements Journal on a SQLite database.
type SQLiteJournal struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

var _ Journal = (*SQLiteJournal)(nil)

// NewSQLiteJournal opens or creates the journal database at path.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id          TEXT PRIMARY KEY,
		product_id  INTEGER NOT NULL,
		session_id  TEXT,
		source      TEXT NOT NULL,
		requested   TEXT NOT NULL,
		created     TEXT NOT NULL,
		deleted     TEXT NOT NULL,
		failures    TEXT,
		error       TEXT,
		stale       INTEGER NOT NULL DEFAULT 0,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_product ON submissions(product_id, recorded_at DESC);
	`
	_, err := j.db.Exec(schema)
	return err
}

func (j *SQLiteJournal) newID(t time.Time) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), j.entropy).String()
}

// Record stores e, assigning its ID and timestamp.
func (j *SQLiteJournal) Record(ctx context.Context, e *Entry) error {
	now := time.Now().UTC()
	e.ID = j.newID(now)
	e.RecordedAt = now

	requested, err := json.Marshal(e.Requested)
	if err != nil {
		return fmt.Errorf("marshal requested: %w", err)
	}
	created, err := json.Marshal(e.Created)
	if err != nil {
		return fmt.Errorf("marshal created: %w", err)
	}
	deleted, err := json.Marshal(e.Deleted)
	if err != nil {
		return fmt.Errorf("marshal deleted: %w", err)
	}
	var failures sql.NullString
	if len(e.Failures) > 0 {
		b, err := json.Marshal(e.Failures)
		if err != nil {
			return fmt.Errorf("marshal failures: %w", err)
		}
		failures = sql.NullString{String: string(b), Valid: true}
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO submissions (id, product_id, session_id, source, requested, created, deleted, failures, error, stale, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProductID, nullString(e.SessionID), e.Source,
		string(requested), string(created), string(deleted), failures,
		nullString(e.Error), e.Stale, now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// List returns the newest submissions for a product first.
func (j *SQLiteJournal) List(ctx context.Context, productID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, product_id, session_id, source, requested, created, deleted, failures, error, stale, recorded_at
		FROM submissions
		WHERE product_id = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                           Entry
		sessionID, failures, errS   sql.NullString
		requested, created, deleted string
		recordedAt                  string
	)
	if err := rows.Scan(&e.ID, &e.ProductID, &sessionID, &e.Source, &requested, &created, &deleted,
		&failures, &errS, &e.Stale, &recordedAt); err != nil {
		return Entry{}, fmt.Errorf("scan submission: %w", err)
	}

	e.SessionID = sessionID.String
	e.Error = errS.String
	if err := json.Unmarshal([]byte(requested), &e.Requested); err != nil {
		return Entry{}, fmt.Errorf("decode requested: %w", err)
	}
	if err := json.Unmarshal([]byte(created), &e.Created); err != nil {
		return Entry{}, fmt.Errorf("decode created: %w", err)
	}
	if err := json.Unmarshal([]byte(deleted), &e.Deleted); err != nil {
		return Entry{}, fmt.Errorf("decode deleted: %w", err)
	}
	if failures.Valid {
		if err := json.Unmarshal([]byte(failures.String), &e.Failures); err != nil {
			return Entry{}, fmt.Errorf("decode failures: %w", err)
		}
	}

	t, err := time.Parse(timeLayout, recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	e.RecordedAt = t
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
