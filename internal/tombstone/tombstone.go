// Package tombstone remembers ids the user deleted so stale reads from the
// document store can be masked.
package tombstone

import (
	"context"
	"sync"
)

// DefaultKey is the fixed name the deleted-history set is stored under
const DefaultKey = "deletedHistory"

// Set is a persisted set of deleted ids
type Set interface {
	// Load returns every id in the set
	Load(ctx context.Context) (IDs, error)
	// Add inserts id into the set
	Add(ctx context.Context, id string) error
}

// IDs is an in-memory snapshot of a tombstone set
type IDs map[string]struct{}

// Has reports whether id is tombstoned
func (s IDs) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func newIDs(ids []string) IDs {
	out := make(IDs, len(ids))
	for _, id := range ids {
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

// Memory is a Set that lives only as long as the process
type Memory struct {
	mu  sync.RWMutex
	ids IDs
}

// NewMemory creates an empty in-memory set
func NewMemory() *Memory {
	return &Memory{ids: IDs{}}
}

func (m *Memory) Load(ctx context.Context) (IDs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(IDs, len(m.ids))
	for id := range m.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (m *Memory) Add(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[id] = struct{}{}
	return nil
}
