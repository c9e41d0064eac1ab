package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vedsharma/apitester/internal/codec"

	_ "modernc.org/sqlite"
)

const (
	// MemoryPath opens a private in-memory database
	MemoryPath = ":memory:"

	// Secure file permissions - owner read/write only
	secureFileMode = 0600 // -rw-------
	secureDirMode  = 0700 // drwx------
)

// ensureSecureFile creates a file with secure permissions if it doesn't exist,
// or verifies/fixes permissions if it does exist. This prevents a TOCTOU race
// condition where the file could be created with insecure default permissions.
func ensureSecureFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, secureFileMode)
		if err != nil {
			return fmt.Errorf("failed to create secure file: %w", err)
		}
		f.Close()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if info.Mode().Perm() != secureFileMode {
		if err := os.Chmod(path, secureFileMode); err != nil {
			return fmt.Errorf("failed to set secure permissions: %w", err)
		}
	}
	return nil
}

// SQLiteStore persists documents in a single SQLite table
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption configures a SQLiteStore
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock sets the server timestamp source
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), secureDirMode); err != nil {
			return nil, err
		}
		if err := ensureSecureFile(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// initSchema creates the documents table if it doesn't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		parent TEXT NOT NULL,
		id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_documents_parent_created
		ON documents(parent, created_at DESC, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Add(ctx context.Context, collectionPath string, data any) (Document, error) {
	if err := ValidateCollectionPath(collectionPath); err != nil {
		return Document{}, err
	}
	payload, err := codec.Marshal(data)
	if err != nil {
		return Document{}, fmt.Errorf("encode document: %w", err)
	}

	id := uuid.NewString()
	created := s.now().UTC().UnixNano()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, parent, id, created_at, data)
		VALUES (?, ?, ?, ?, ?)`,
		Join(collectionPath, id), collectionPath, id, created, string(payload))
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        id,
		Path:      Join(collectionPath, id),
		CreatedAt: time.Unix(0, created).UTC(),
		Data:      payload,
	}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, documentPath string) error {
	if err := ValidateDocumentPath(documentPath); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE path = ? OR path LIKE ? ESCAPE '\'`,
		documentPath, escapeLike(documentPath)+"/%")
	return err
}

func (s *SQLiteStore) Query(ctx context.Context, collectionPath string, q Query) ([]Document, error) {
	if err := ValidateCollectionPath(collectionPath); err != nil {
		return nil, err
	}

	var (
		query strings.Builder
		args  = []any{collectionPath}
	)
	query.WriteString("SELECT path, id, created_at, data FROM documents WHERE parent = ?")

	if q.Order == NewestFirst {
		if q.After != nil {
			at := q.After.CreatedAt.UTC().UnixNano()
			query.WriteString(" AND (created_at < ? OR (created_at = ? AND id < ?))")
			args = append(args, at, at, q.After.ID)
		}
		query.WriteString(" ORDER BY created_at DESC, id DESC")
	} else {
		query.WriteString(" ORDER BY rowid")
	}
	if q.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d       Document
			created int64
			data    string
		)
		if err := rows.Scan(&d.Path, &d.ID, &created, &data); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(0, created).UTC()
		d.Data = []byte(data)
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
