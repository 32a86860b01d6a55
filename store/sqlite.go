package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/alimasry/go-oplog/ot"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	base TEXT NOT NULL,
	content TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS operations (
	doc_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	op TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	chars TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (doc_id, idx),
	FOREIGN KEY (doc_id) REFERENCES documents(id)
);
`

// SQLiteStore is a DocumentStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, id, base string) error {
	now := time.Now().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, base, content, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, base, base, now, now)
	if err != nil {
		return fmt.Errorf("insert document %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	return nil
}

func scanDocInfo(scanner interface{ Scan(...any) error }) (*DocumentInfo, error) {
	var info DocumentInfo
	var created, updated int64
	if err := scanner.Scan(&info.ID, &info.Base, &info.Content, &info.Version, &created, &updated); err != nil {
		return nil, err
	}
	info.CreatedAt = time.Unix(0, created)
	info.UpdatedAt = time.Unix(0, updated)
	return &info, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, base, content, version, created_at, updated_at FROM documents WHERE id = ?`, id)
	info, err := scanDocInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %q: %w", id, err)
	}
	return info, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, base, content, version, created_at, updated_at FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var result []DocumentInfo
	for rows.Next() {
		info, err := scanDocInfo(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *info)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, version = ?, updated_at = ? WHERE id = ?`,
		content, version, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update document %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return nil
}

// AppendOperation appends op at index version-1. version must be one past
// the current log length.
func (s *SQLiteStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM operations WHERE doc_id = ?) FROM documents WHERE id = ?`, id, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("count operations for %q: %w", id, err)
	}
	if version != n+1 {
		return fmt.Errorf("document %q: append version %d after %d ops: %w", id, version, n, ErrInvalidVersion)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO operations (doc_id, idx, op, count, chars) VALUES (?, ?, ?, ?, ?)`,
		id, version-1, op.Type().String(), op.Count(), op.Chars()); err != nil {
		return fmt.Errorf("insert operation %d for %q: %w", version, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET version = ?, updated_at = ? WHERE id = ?`,
		version, time.Now().UnixNano(), id); err != nil {
		return fmt.Errorf("bump version for %q: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM operations WHERE doc_id = ?) FROM documents WHERE id = ?`, id, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("count operations for %q: %w", id, err)
	}
	if fromVersion < 0 || fromVersion > n {
		return nil, fmt.Errorf("document %q: version %d: %w", id, fromVersion, ErrInvalidVersion)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT op, count, chars FROM operations WHERE doc_id = ? AND idx >= ? ORDER BY idx`, id, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("query operations for %q: %w", id, err)
	}
	defer rows.Close()

	ops := make([]ot.Operation, 0, n-fromVersion)
	for rows.Next() {
		var (
			typ   string
			count int
			chars string
		)
		if err := rows.Scan(&typ, &count, &chars); err != nil {
			return nil, err
		}
		ops = append(ops, ot.NewOperation(typ, count, chars))
	}
	return ops, rows.Err()
}
