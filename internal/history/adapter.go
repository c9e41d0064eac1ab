// Package history keeps the per-user log of dispatched requests.
//
// The in-memory list is authoritative for what the user sees. Deletions are
// applied locally first and remembered in a tombstone set, so an entry the
// user removed stays hidden even when the store still returns it.
package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/docstore"
	"github.com/vedsharma/apitester/internal/model"
	"github.com/vedsharma/apitester/internal/tombstone"
)

// DefaultPageSize is how many entries one load fetches
const DefaultPageSize = 50

// Path returns the collection path holding a user's history
func Path(userID string) string {
	return docstore.Join("users", userID, "history")
}

// record is the stored document payload; id and created_at come from the store
type record struct {
	Method  model.Method      `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Params  []model.Entry     `json:"params"`
	Body    any               `json:"body"`
}

// Page is the result of one load
type Page struct {
	Entries []model.HistoryEntry
	// Next continues the listing; nil when there is nothing more or the
	// unordered fallback served the page
	Next *docstore.Cursor
	// Fallback is true when the ordered query failed and entries were sorted locally
	Fallback bool
}

// Adapter syncs the in-memory history list with the document store
type Adapter struct {
	store      docstore.Store
	tombstones tombstone.Set
	pageSize   int
	logger     *zap.Logger

	mu      sync.RWMutex
	entries []model.HistoryEntry
	next    *docstore.Cursor
}

// Option configures an Adapter
type Option func(*Adapter)

// WithPageSize sets the page size used by loads
func WithPageSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// NewAdapter creates a history adapter
func NewAdapter(store docstore.Store, tombstones tombstone.Set, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		store:      store,
		tombstones: tombstones,
		pageSize:   DefaultPageSize,
		logger:     logger,
		entries:    []model.HistoryEntry{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append writes a resolved request to the user's log and puts it at the top of
// the in-memory list. Failures are logged and returned; the list is untouched.
func (a *Adapter) Append(ctx context.Context, userID string, req model.ResolvedRequest) (string, error) {
	if userID == "" {
		return "", errors.New("history: no signed-in user")
	}

	params := req.Params
	if params == nil {
		params = []model.Entry{}
	}
	doc, err := a.store.Add(ctx, Path(userID), record{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
		Params:  params,
		Body:    req.Body,
	})
	if err != nil {
		a.logger.Warn("failed to save history entry",
			zap.String("user", userID),
			zap.String("url", req.URL),
			zap.Error(err))
		return "", err
	}

	// the store's timestamp, so the entry sorts the same after a reload
	entry := model.HistoryEntry{
		ID:        doc.ID,
		Method:    req.Method,
		URL:       req.URL,
		Headers:   req.Headers,
		Params:    params,
		Body:      req.Body,
		CreatedAt: doc.CreatedAt,
	}

	a.mu.Lock()
	a.entries = append([]model.HistoryEntry{entry}, a.entries...)
	a.mu.Unlock()

	return doc.ID, nil
}

// LoadAll fetches the first page of the user's history and replaces the list
func (a *Adapter) LoadAll(ctx context.Context, userID string) (Page, error) {
	page, err := a.fetch(ctx, userID, nil)
	if err != nil {
		return Page{}, err
	}

	a.mu.Lock()
	a.entries = page.Entries
	a.next = page.Next
	a.mu.Unlock()

	return a.copyPage(page), nil
}

// LoadMore fetches the page after the last one loaded and appends it.
// It returns an empty page when there is nothing more.
func (a *Adapter) LoadMore(ctx context.Context, userID string) (Page, error) {
	a.mu.RLock()
	cursor := a.next
	a.mu.RUnlock()
	if cursor == nil {
		return Page{Entries: []model.HistoryEntry{}}, nil
	}

	page, err := a.fetch(ctx, userID, cursor)
	if err != nil {
		return Page{}, err
	}

	a.mu.Lock()
	seen := make(map[string]struct{}, len(a.entries))
	for _, e := range a.entries {
		seen[e.ID] = struct{}{}
	}
	fresh := slice.Filter(page.Entries, func(_ int, e model.HistoryEntry) bool {
		_, dup := seen[e.ID]
		return !dup
	})
	a.entries = append(a.entries, fresh...)
	a.next = page.Next
	a.mu.Unlock()

	page.Entries = fresh
	return a.copyPage(page), nil
}

// HasMore reports whether LoadMore would fetch anything
func (a *Adapter) HasMore() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.next != nil
}

func (a *Adapter) fetch(ctx context.Context, userID string, cursor *docstore.Cursor) (Page, error) {
	if userID == "" {
		return Page{}, errors.New("history: valid user id required")
	}

	deleted, err := a.tombstones.Load(ctx)
	if err != nil {
		a.logger.Error("failed to read deleted history ids", zap.Error(err))
		return Page{}, err
	}

	path := Path(userID)
	page := Page{}

	docs, err := a.store.Query(ctx, path, docstore.Query{
		Order: docstore.NewestFirst,
		Limit: a.pageSize,
		After: cursor,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		a.logger.Warn("ordered history query failed, falling back to client sort",
			zap.String("user", userID),
			zap.Error(err))

		docs, err = a.store.Query(ctx, path, docstore.Query{Limit: a.pageSize})
		if err != nil {
			a.logger.Error("failed to load history", zap.String("user", userID), zap.Error(err))
			return Page{}, err
		}
		page.Fallback = true
	} else if len(docs) == a.pageSize {
		page.Next = docs[len(docs)-1].Cursor()
	}

	entries := make([]model.HistoryEntry, 0, len(docs))
	for _, d := range docs {
		if deleted.Has(d.ID) {
			continue
		}
		var r record
		if err := d.Decode(&r); err != nil {
			a.logger.Warn("skipping unreadable history entry",
				zap.String("id", d.ID),
				zap.Error(err))
			continue
		}
		entries = append(entries, toEntry(d, r))
	}

	if page.Fallback {
		sortNewestFirst(entries)
	}
	page.Entries = entries
	return page, nil
}

// Delete hides the entry immediately, tombstones it and then asks the store to
// remove it. Store and tombstone failures are logged; the entry stays hidden.
func (a *Adapter) Delete(ctx context.Context, userID, id string) {
	a.mu.Lock()
	a.entries = slice.Filter(a.entries, func(_ int, e model.HistoryEntry) bool {
		return e.ID != id
	})
	a.mu.Unlock()

	if err := a.tombstones.Add(ctx, id); err != nil {
		a.logger.Error("failed to record deleted history id", zap.String("id", id), zap.Error(err))
	}

	if userID == "" {
		return
	}
	if err := a.store.Delete(ctx, docstore.Join(Path(userID), id)); err != nil {
		a.logger.Warn("failed to delete history entry from store",
			zap.String("user", userID),
			zap.String("id", id),
			zap.Error(err))
	}
}

// Entries returns a copy of the in-memory list, newest first
func (a *Adapter) Entries() []model.HistoryEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.HistoryEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Get finds an entry in the in-memory list
func (a *Adapter) Get(id string) (model.HistoryEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, e := range a.entries {
		if e.ID == id {
			return e, true
		}
	}
	return model.HistoryEntry{}, false
}

// Reset clears the in-memory list, e.g. on sign-out
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = []model.HistoryEntry{}
	a.next = nil
}

// Search filters entries by a case-insensitive URL substring
func Search(entries []model.HistoryEntry, query string) []model.HistoryEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return entries
	}
	return slice.Filter(entries, func(_ int, e model.HistoryEntry) bool {
		return strings.Contains(strings.ToLower(e.URL), q)
	})
}

func (a *Adapter) copyPage(p Page) Page {
	out := p
	out.Entries = make([]model.HistoryEntry, len(p.Entries))
	copy(out.Entries, p.Entries)
	return out
}

func toEntry(d docstore.Document, r record) model.HistoryEntry {
	params := r.Params
	if params == nil {
		params = []model.Entry{}
	}
	headers := r.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return model.HistoryEntry{
		ID:        d.ID,
		Method:    r.Method,
		URL:       r.URL,
		Headers:   headers,
		Params:    params,
		Body:      r.Body,
		CreatedAt: d.CreatedAt,
	}
}

func sortNewestFirst(entries []model.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return newerFirst(entries[i], entries[j])
	})
}

func newerFirst(a, b model.HistoryEntry) bool {
	ai := a.CreatedAt
	bi := b.CreatedAt
	switch {
	case ai.IsZero() && bi.IsZero():
		return false
	case ai.IsZero():
		return false
	case bi.IsZero():
		return true
	default:
		return ai.After(bi)
	}
}
