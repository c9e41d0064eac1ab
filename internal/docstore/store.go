// Package docstore is a small hierarchical document database.
//
// Paths are slash separated. A collection path has an odd number of segments
// (users/u1/history), a document path an even number (users/u1/history/abc).
// Every document gets a store-assigned id and creation timestamp.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vedsharma/apitester/internal/codec"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")

	// ErrOrderUnavailable is returned by backends that cannot serve an ordered query
	ErrOrderUnavailable = errors.New("ordered query unavailable")

	// ErrInvalidPath is returned for malformed collection or document paths
	ErrInvalidPath = errors.New("invalid path")
)

// Order selects how a query sorts its results
type Order int

const (
	// Unordered returns documents in backend order
	Unordered Order = iota
	// NewestFirst sorts by creation time descending, id descending on ties
	NewestFirst
)

// Cursor marks the last document of a page
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// Query describes a read of one collection. After only applies to NewestFirst.
type Query struct {
	Order Order
	Limit int
	After *Cursor
}

// Document is a stored document
type Document struct {
	ID        string
	Path      string
	CreatedAt time.Time
	Data      []byte
}

// Decode unmarshals the document payload into v
func (d Document) Decode(v any) error {
	if len(d.Data) == 0 {
		return nil
	}
	return codec.Unmarshal(d.Data, v)
}

// Cursor returns a cursor positioned after this document
func (d Document) Cursor() *Cursor {
	return &Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
}

// Store is the CRUD surface the adapters depend on
type Store interface {
	// Add creates a document under collectionPath and returns it as stored,
	// with the id and creation time the store assigned
	Add(ctx context.Context, collectionPath string, data any) (Document, error)
	// Delete removes a document and everything nested below it
	Delete(ctx context.Context, documentPath string) error
	// Query reads the documents directly under collectionPath
	Query(ctx context.Context, collectionPath string, q Query) ([]Document, error)
	// Close releases backend resources
	Close() error
}

// Join builds a path from segments
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidateCollectionPath checks that p names a collection
func ValidateCollectionPath(p string) error {
	n, err := countSegments(p)
	if err != nil {
		return err
	}
	if n%2 == 0 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, p)
	}
	return nil
}

// ValidateDocumentPath checks that p names a document
func ValidateDocumentPath(p string) error {
	n, err := countSegments(p)
	if err != nil {
		return err
	}
	if n%2 != 0 {
		return fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, p)
	}
	return nil
}

// Split returns the parent collection path and id of a document path
func Split(documentPath string) (string, string) {
	idx := strings.LastIndex(documentPath, "/")
	if idx == -1 {
		return "", documentPath
	}
	return documentPath[:idx], documentPath[idx+1:]
}

func countSegments(p string) (int, error) {
	if p == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return 0, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, p)
		}
	}
	return len(parts), nil
}

// newerFirst orders documents by creation time descending, id descending on ties
func newerFirst(a, b Document) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// after reports whether d sorts strictly after the cursor in NewestFirst order
func after(d Document, c *Cursor) bool {
	if c == nil {
		return true
	}
	if d.CreatedAt.Equal(c.CreatedAt) {
		return d.ID < c.ID
	}
	return d.CreatedAt.Before(c.CreatedAt)
}
