// Package collection manages named groups of saved request/response snapshots.
//
// Collections and items created without a session get local ids and never
// reach the document store. Deletions are applied locally first; store
// failures are logged and do not bring the deleted entity back.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/docstore"
	"github.com/vedsharma/apitester/internal/draft"
	"github.com/vedsharma/apitester/internal/model"
)

// DeletePrompt is the question a Confirm func is asked before a collection is removed
const DeletePrompt = "Are you sure you want to delete this collection?"

var (
	// ErrNotConfirmed is returned when the user declines a destructive action
	ErrNotConfirmed = errors.New("collection: deletion not confirmed")
	// ErrUnknownCollection is matched by the validation error for a target id that is not loaded
	ErrUnknownCollection = errors.New("collection: unknown collection")
)

// Confirm asks the user to approve a destructive action
type Confirm func(prompt string) bool

// Always approves without asking; for callers that already obtained consent
func Always(string) bool { return true }

// Path returns the collection path holding a user's collections
func Path(userID string) string {
	return docstore.Join("users", userID, "collections")
}

// ItemsPath returns the collection path holding one collection's saved requests
func ItemsPath(userID, collectionID string) string {
	return docstore.Join(Path(userID), collectionID, "requests")
}

type collectionRecord struct {
	Name string `json:"name"`
}

type itemRecord struct {
	Description string         `json:"description"`
	Request     model.Draft    `json:"request"`
	Response    model.Response `json:"response"`
}

// Target says where SaveItem puts the new item: an existing collection by id,
// or a collection that has to be created first
type Target struct {
	id     model.ID
	name   string
	create bool
}

// Into targets an existing collection
func Into(id model.ID) Target {
	return Target{id: id}
}

// IntoNew targets a collection named name that is created before the item is written
func IntoNew(name string) Target {
	return Target{name: name, create: true}
}

// Adapter syncs the in-memory collection list with the document store
type Adapter struct {
	store  docstore.Store
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	collections []model.Collection
}

// Option configures an Adapter
type Option func(*Adapter)

// WithClock sets the timestamp used for entities created in memory
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter creates a collection adapter
func NewAdapter(store docstore.Store, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		store:       store,
		logger:      logger,
		now:         time.Now,
		collections: []model.Collection{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateCollection adds a collection named name. Without a user it is local
// only; with one it is written to the store first and takes the store's id.
func (a *Adapter) CreateCollection(ctx context.Context, userID, name string) (model.ID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.ID{}, draft.Invalid("name", "Collection name cannot be empty.")
	}
	return a.create(ctx, userID, name)
}

func (a *Adapter) create(ctx context.Context, userID, name string) (model.ID, error) {
	id := model.NewLocalID()
	created := a.now().UTC()
	if userID != "" {
		doc, err := a.store.Add(ctx, Path(userID), collectionRecord{Name: name})
		if err != nil {
			a.logger.Error("failed to create collection",
				zap.String("user", userID),
				zap.String("name", name),
				zap.Error(err))
			return model.ID{}, fmt.Errorf("create collection: %w", err)
		}
		id = model.RemoteID(doc.ID)
		created = doc.CreatedAt
	}

	col := model.Collection{
		ID:        id,
		Name:      name,
		Items:     []model.SavedRequest{},
		CreatedAt: created,
	}

	a.mu.Lock()
	a.collections = append([]model.Collection{col}, a.collections...)
	a.mu.Unlock()

	return id, nil
}

// DeleteCollection removes a collection once confirm approves. The local list
// changes immediately; the store delete only runs for store-backed ids.
func (a *Adapter) DeleteCollection(ctx context.Context, userID string, id model.ID, confirm Confirm) error {
	if confirm == nil || !confirm(DeletePrompt) {
		return ErrNotConfirmed
	}

	a.mu.Lock()
	a.collections = slice.Filter(a.collections, func(_ int, c model.Collection) bool {
		return c.ID != id
	})
	a.mu.Unlock()

	if userID == "" || !id.IsRemote() {
		return nil
	}
	if err := a.store.Delete(ctx, docstore.Join(Path(userID), id.Value)); err != nil {
		a.logger.Warn("failed to delete collection from store",
			zap.String("user", userID),
			zap.String("id", id.Value),
			zap.Error(err))
	}
	return nil
}

// SaveItem snapshots a request and its response into the target collection.
// Missing description, target or response are reported as validation errors
// before anything is created. The item goes to the top of the collection.
func (a *Adapter) SaveItem(ctx context.Context, userID string, target Target, description string, req model.Draft, resp *model.Response) (model.SavedRequest, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return model.SavedRequest{}, draft.Invalid("description", "Description is required.")
	}

	var newName string
	if target.create {
		newName = strings.TrimSpace(target.name)
		if newName == "" {
			return model.SavedRequest{}, draft.Invalid("collection", "Please enter a name for the new collection.")
		}
	} else {
		if target.id.IsZero() {
			return model.SavedRequest{}, draft.Invalid("collection", "Please select a collection.")
		}
		if _, ok := a.Get(target.id); !ok {
			return model.SavedRequest{}, draft.InvalidBecause("collection", "Collection not found.", ErrUnknownCollection)
		}
	}

	if !resp.Completed() {
		return model.SavedRequest{}, draft.Invalid("response", "No response to save!")
	}

	collectionID := target.id
	if target.create {
		id, err := a.create(ctx, userID, newName)
		if err != nil {
			return model.SavedRequest{}, fmt.Errorf("could not create collection: %w", err)
		}
		collectionID = id
	}

	item := model.SavedRequest{
		ID:          model.NewLocalID(),
		Description: description,
		Request:     req.Clone(),
		Response:    resp.Clone(),
		CreatedAt:   a.now().UTC(),
	}

	if userID != "" && collectionID.IsRemote() {
		doc, err := a.store.Add(ctx, ItemsPath(userID, collectionID.Value), itemRecord{
			Description: item.Description,
			Request:     item.Request,
			Response:    item.Response,
		})
		if err != nil {
			a.logger.Error("failed to save request to collection",
				zap.String("user", userID),
				zap.String("collection", collectionID.Value),
				zap.Error(err))
			return model.SavedRequest{}, fmt.Errorf("save request: %w", err)
		}
		item.ID = model.RemoteID(doc.ID)
		item.CreatedAt = doc.CreatedAt
	}

	a.mu.Lock()
	for i := range a.collections {
		if a.collections[i].ID == collectionID {
			a.collections[i].Items = append([]model.SavedRequest{item}, a.collections[i].Items...)
			break
		}
	}
	a.mu.Unlock()

	return item, nil
}

// DeleteItem removes a saved request locally, then from the store when both
// ids are store-backed and a user is signed in
func (a *Adapter) DeleteItem(ctx context.Context, userID string, collectionID, itemID model.ID) {
	a.mu.Lock()
	for i := range a.collections {
		if a.collections[i].ID != collectionID {
			continue
		}
		a.collections[i].Items = slice.Filter(a.collections[i].Items, func(_ int, it model.SavedRequest) bool {
			return it.ID != itemID
		})
	}
	a.mu.Unlock()

	if userID == "" || !collectionID.IsRemote() || !itemID.IsRemote() {
		return
	}
	path := docstore.Join(ItemsPath(userID, collectionID.Value), itemID.Value)
	if err := a.store.Delete(ctx, path); err != nil {
		a.logger.Warn("failed to delete saved request from store",
			zap.String("user", userID),
			zap.String("path", path),
			zap.Error(err))
	}
}

// LoadAll fetches the user's collections newest first, each with its items
// newest first, and replaces the in-memory list. A collection whose items
// cannot be read is kept with no items.
func (a *Adapter) LoadAll(ctx context.Context, userID string) ([]model.Collection, error) {
	if userID == "" {
		return nil, errors.New("collection: valid user id required")
	}

	docs, err := a.queryNewestFirst(ctx, Path(userID))
	if err != nil {
		a.logger.Error("failed to load collections", zap.String("user", userID), zap.Error(err))
		return nil, err
	}

	loaded := make([]model.Collection, 0, len(docs))
	for _, d := range docs {
		var r collectionRecord
		if err := d.Decode(&r); err != nil {
			a.logger.Warn("skipping unreadable collection", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		loaded = append(loaded, model.Collection{
			ID:        model.RemoteID(d.ID),
			Name:      r.Name,
			Items:     []model.SavedRequest{},
			CreatedAt: d.CreatedAt,
		})
	}

	var wg sync.WaitGroup
	for i := range loaded {
		wg.Add(1)
		go func(col *model.Collection) {
			defer wg.Done()
			items, err := a.loadItems(ctx, userID, col.ID.Value)
			if err != nil {
				a.logger.Warn("failed to load collection items",
					zap.String("user", userID),
					zap.String("collection", col.ID.Value),
					zap.Error(err))
				return
			}
			col.Items = items
		}(&loaded[i])
	}
	wg.Wait()

	a.mu.Lock()
	a.collections = loaded
	a.mu.Unlock()

	return a.Collections(), nil
}

func (a *Adapter) loadItems(ctx context.Context, userID, collectionID string) ([]model.SavedRequest, error) {
	docs, err := a.queryNewestFirst(ctx, ItemsPath(userID, collectionID))
	if err != nil {
		return nil, err
	}

	items := make([]model.SavedRequest, 0, len(docs))
	for _, d := range docs {
		var r itemRecord
		if err := d.Decode(&r); err != nil {
			a.logger.Warn("skipping unreadable saved request", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		items = append(items, model.SavedRequest{
			ID:          model.RemoteID(d.ID),
			Description: r.Description,
			Request:     r.Request,
			Response:    r.Response,
			CreatedAt:   d.CreatedAt,
		})
	}
	return items, nil
}

// queryNewestFirst reads a whole collection path newest first, sorting
// locally when the store cannot order the query itself
func (a *Adapter) queryNewestFirst(ctx context.Context, path string) ([]docstore.Document, error) {
	docs, err := a.store.Query(ctx, path, docstore.Query{Order: docstore.NewestFirst})
	if err == nil {
		return docs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.logger.Warn("ordered query failed, falling back to client sort", zap.String("path", path), zap.Error(err))

	docs, err = a.store.Query(ctx, path, docstore.Query{})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// Collections returns a copy of the in-memory list
func (a *Adapter) Collections() []model.Collection {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.Collection, len(a.collections))
	for i, c := range a.collections {
		out[i] = c
		out[i].Items = append([]model.SavedRequest(nil), c.Items...)
	}
	return out
}

// Get finds a collection by id
func (a *Adapter) Get(id model.ID) (model.Collection, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, c := range a.collections {
		if c.ID == id {
			c.Items = append([]model.SavedRequest(nil), c.Items...)
			return c, true
		}
	}
	return model.Collection{}, false
}

// FindItem locates a saved request inside a collection
func (a *Adapter) FindItem(collectionID, itemID model.ID) (model.SavedRequest, bool) {
	col, ok := a.Get(collectionID)
	if !ok {
		return model.SavedRequest{}, false
	}
	for _, it := range col.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return model.SavedRequest{}, false
}

// Reset clears the in-memory list
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.collections = []model.Collection{}
}

// Search filters collections by a case-insensitive name substring
func Search(cols []model.Collection, query string) []model.Collection {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return cols
	}
	return slice.Filter(cols, func(_ int, c model.Collection) bool {
		return strings.Contains(strings.ToLower(c.Name), q)
	})
}
