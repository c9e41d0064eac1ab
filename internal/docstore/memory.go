package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vedsharma/apitester/internal/codec"
)

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]memoryDoc
	seq       int64
	now       func() time.Time
	unindexed bool
}

type memoryDoc struct {
	Document
	seq int64
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock sets the server timestamp source
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// WithoutOrderIndex makes ordered queries fail with ErrOrderUnavailable
func WithoutOrderIndex() MemoryOption {
	return func(m *MemoryStore) { m.unindexed = true }
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		docs: make(map[string]memoryDoc),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Add(ctx context.Context, collectionPath string, data any) (Document, error) {
	if err := ValidateCollectionPath(collectionPath); err != nil {
		return Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	payload, err := codec.Marshal(data)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	path := Join(collectionPath, id)
	m.seq++
	doc := Document{ID: id, Path: path, CreatedAt: m.now().UTC(), Data: payload}
	m.docs[path] = memoryDoc{Document: doc, seq: m.seq}
	return doc, nil
}

func (m *MemoryStore) Delete(ctx context.Context, documentPath string) error {
	if err := ValidateDocumentPath(documentPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := documentPath + "/"
	for path := range m.docs {
		if path == documentPath || strings.HasPrefix(path, prefix) {
			delete(m.docs, path)
		}
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, collectionPath string, q Query) ([]Document, error) {
	if err := ValidateCollectionPath(collectionPath); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Order == NewestFirst && m.unindexed {
		return nil, ErrOrderUnavailable
	}

	m.mu.RLock()
	var matched []memoryDoc
	for _, d := range m.docs {
		parent, _ := Split(d.Path)
		if parent == collectionPath {
			matched = append(matched, d)
		}
	}
	m.mu.RUnlock()

	if q.Order == NewestFirst {
		sort.SliceStable(matched, func(i, j int) bool {
			return newerFirst(matched[i].Document, matched[j].Document)
		})
	} else {
		sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	}

	out := make([]Document, 0, len(matched))
	for _, d := range matched {
		if q.Order == NewestFirst && !after(d.Document, q.After) {
			continue
		}
		out = append(out, d.Document)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
