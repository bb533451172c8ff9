package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

type opKind int

const (
	opCreate opKind = iota // insert, ErrExists on conflict
	opEnsure               // insert, silent no-op on conflict
	opPut                  // insert or replace
	opMerge                // partial update, ErrNotFound when absent
	opDelete               // remove, no-op when absent
)

// Op is a single write inside an Apply transaction.
type Op struct {
	kind   opKind
	path   string
	body   interface{}
	fields map[string]interface{}
}

// Create inserts a new document, failing the whole transaction with ErrExists
// when the path is already taken.
func Create(path string, body interface{}) Op {
	return Op{kind: opCreate, path: path, body: body}
}

// Ensure inserts a new document, doing nothing when the path already exists.
// Two callers racing to create the same path both succeed; the first body wins.
func Ensure(path string, body interface{}) Op {
	return Op{kind: opEnsure, path: path, body: body}
}

// Put inserts or fully replaces a document.
func Put(path string, body interface{}) Op {
	return Op{kind: opPut, path: path, body: body}
}

// Merge overwrites individual fields of an existing document, leaving the
// rest of the body intact.
func Merge(path string, fields map[string]interface{}) Op {
	return Op{kind: opMerge, path: path, fields: fields}
}

// Delete removes a document if present.
func Delete(path string) Op {
	return Op{kind: opDelete, path: path}
}

// Apply runs all ops in one transaction: either every op takes effect or none
// does. Watchers of affected parents are notified once, after commit.
func (s *Store) Apply(ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}

	now := s.Now()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	parents := make(map[string]struct{}, len(ops))

	for _, op := range ops {
		if err := s.applyOp(tx, op, now); err != nil {
			return err
		}
		parents[parentOf(op.path)] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.notify(parents)
	return nil
}

func (s *Store) applyOp(tx *sql.Tx, op Op, now interface{}) error {
	switch op.kind {
	case opCreate, opEnsure:
		data, err := marshalBody(op.body)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			INSERT INTO documents (path, parent, doc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`, op.path, parentOf(op.path), string(data), now, now)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", op.path, err)
		}
		if op.kind == opCreate {
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", op.path, err)
			}
			if affected == 0 {
				return fmt.Errorf("create %s: %w", op.path, ErrExists)
			}
		}

	case opPut:
		data, err := marshalBody(op.body)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO documents (path, parent, doc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
		`, op.path, parentOf(op.path), string(data), now, now)
		if err != nil {
			return fmt.Errorf("failed to put %s: %w", op.path, err)
		}

	case opMerge:
		var raw string
		err := tx.QueryRow("SELECT doc FROM documents WHERE path = ?", op.path).Scan(&raw)
		if err == sql.ErrNoRows {
			return fmt.Errorf("merge %s: %w", op.path, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", op.path, err)
		}

		body := make(map[string]interface{})
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return fmt.Errorf("failed to decode %s: %w", op.path, err)
		}
		for k, v := range op.fields {
			body[k] = v
		}
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", op.path, err)
		}

		_, err = tx.Exec(
			"UPDATE documents SET doc = ?, updated_at = ? WHERE path = ?",
			string(data), now, op.path,
		)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", op.path, err)
		}

	case opDelete:
		if _, err := tx.Exec("DELETE FROM documents WHERE path = ?", op.path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", op.path, err)
		}
	}

	return nil
}
