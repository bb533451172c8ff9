// Package store is a path-keyed JSON document store on SQLite. Documents are
// addressed by slash-separated paths ("users/u1", "conversations/c1/messages/m1");
// the segment before the last slash is the document's parent, which is the unit
// of live queries. Multi-document writes go through Apply and are atomic.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrExists is returned by a strict Create op when the path is taken.
	ErrExists = errors.New("document already exists")
	// ErrNotFound is returned by Merge ops and reads of absent documents.
	ErrNotFound = errors.New("document not found")
)

// Document is a stored record. CreatedAt and UpdatedAt are assigned by the
// store's clock at write time, never by the caller.
type Document struct {
	ID        int64
	Path      string
	Parent    string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Segment returns the last path segment, the document's id within its parent.
func (d Document) Segment() string {
	if i := strings.LastIndexByte(d.Path, '/'); i >= 0 {
		return d.Path[i+1:]
	}
	return d.Path
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v interface{}) error {
	return json.Unmarshal(d.Data, v)
}

type Store struct {
	conn *sql.DB

	mu       sync.RWMutex
	watchers map[*watcher]struct{}
}

func New(path string) (*Store, error) {
	// The pragmas ride on the connection string so every pooled connection
	// gets them, not just the one a pool-level Exec happens to land on. WAL
	// lets readers proceed during writes, the busy timeout waits instead of
	// failing with SQLITE_BUSY, and immediate transactions take the write
	// lock at BEGIN so a merge's read is never upgraded mid-transaction into
	// a non-retryable busy error.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:     conn,
		watchers: make(map[*watcher]struct{}),
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT UNIQUE NOT NULL,
		parent TEXT NOT NULL,
		doc TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent);
	CREATE INDEX IF NOT EXISTS idx_documents_parent_created ON documents(parent, created_at, id);
	`

	_, err := s.conn.Exec(schema)
	return err
}

func (s *Store) Close() error {
	s.mu.Lock()
	for w := range s.watchers {
		w.stop()
	}
	s.watchers = make(map[*watcher]struct{})
	s.mu.Unlock()
	return s.conn.Close()
}

// Conn exposes the underlying database, used by the status command.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Now is the store clock. All timestamps written by the store come from here,
// not from callers, so ordering is never subject to client clock skew.
func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func parentOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// Get reads a single document. The bool is false when the path is absent.
func (s *Store) Get(path string) (Document, bool, error) {
	var doc Document
	err := s.conn.QueryRow(`
		SELECT id, path, parent, doc, created_at, updated_at
		FROM documents WHERE path = ?
	`, path).Scan(&doc.ID, &doc.Path, &doc.Parent, (*rawJSON)(&doc.Data), &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return doc, true, nil
}

// List returns all children of parent ordered by creation time, ties broken
// by insertion order.
func (s *Store) List(parent string) ([]Document, error) {
	rows, err := s.conn.Query(`
		SELECT id, path, parent, doc, created_at, updated_at
		FROM documents WHERE parent = ?
		ORDER BY created_at ASC, id ASC
	`, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", parent, err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ListRange returns up to limit children of parent, newest first, skipping
// offset records. Callers wanting chronological order reverse the result.
func (s *Store) ListRange(parent string, limit, offset int) ([]Document, error) {
	rows, err := s.conn.Query(`
		SELECT id, path, parent, doc, created_at, updated_at
		FROM documents WHERE parent = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, parent, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", parent, err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Path, &doc.Parent, (*rawJSON)(&doc.Data), &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// rawJSON scans a TEXT column into json.RawMessage.
type rawJSON json.RawMessage

func (r *rawJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*r = rawJSON(v)
	case []byte:
		*r = rawJSON(append([]byte(nil), v...))
	default:
		return fmt.Errorf("unexpected doc column type %T", src)
	}
	return nil
}

// Add creates a child of parent under a fresh unique segment and returns the
// stored document, including its store-assigned timestamp.
func (s *Store) Add(parent string, body interface{}) (Document, error) {
	data, err := marshalBody(body)
	if err != nil {
		return Document{}, err
	}

	path := parent + "/" + uuid.NewString()
	now := s.Now()

	res, err := s.conn.Exec(`
		INSERT INTO documents (path, parent, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, path, parent, string(data), now, now)
	if err != nil {
		return Document{}, fmt.Errorf("failed to add to %s: %w", parent, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Document{}, fmt.Errorf("failed to get document id: %w", err)
	}

	s.notify(map[string]struct{}{parent: {}})

	return Document{
		ID:        id,
		Path:      path,
		Parent:    parent,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Set applies a partial update to a single existing document.
func (s *Store) Set(path string, fields map[string]interface{}) error {
	return s.Apply(Merge(path, fields))
}

func marshalBody(body interface{}) (json.RawMessage, error) {
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}
