// Package workspace is the view-model behind every front end: it owns the
// draft being edited and the last response, and routes user commands to the
// dispatcher and the two store adapters.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/collection"
	"github.com/vedsharma/apitester/internal/draft"
	"github.com/vedsharma/apitester/internal/history"
	apihttp "github.com/vedsharma/apitester/internal/http"
	"github.com/vedsharma/apitester/internal/model"
	"github.com/vedsharma/apitester/internal/session"
)

var (
	// ErrInFlight rejects a send while the previous one is still running
	ErrInFlight = errors.New("workspace: a request is already in flight")
	// ErrClosed is returned by commands issued after Close
	ErrClosed = errors.New("workspace: closed")
	// ErrNotFound is returned when a history entry or saved request id is unknown
	ErrNotFound = errors.New("workspace: not found")
)

// Dispatcher sends a draft and reports what came back
type Dispatcher interface {
	Dispatch(ctx context.Context, d model.Draft) (*apihttp.Result, error)
}

// Workspace holds one user's editing state. It is safe for concurrent use.
type Workspace struct {
	dispatcher  Dispatcher
	history     *history.Adapter
	collections *collection.Adapter
	session     session.Source
	logger      *zap.Logger

	mu          sync.Mutex
	draft       model.Draft
	response    *model.Response
	inFlight    bool
	closed      bool
	noHistory   bool
	unsubscribe func()

	background sync.WaitGroup
}

// New creates a workspace with a fresh draft
func New(dispatcher Dispatcher, hist *history.Adapter, cols *collection.Adapter, src session.Source, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		dispatcher:  dispatcher,
		history:     hist,
		collections: cols,
		session:     src,
		logger:      logger,
		draft:       model.NewDraft(),
	}
}

// Attach follows session changes: signing in loads the user's history and
// collections, signing out clears them. The subscription ends on Close.
func (w *Workspace) Attach() {
	unsubscribe := w.session.Subscribe(w.onSessionChange)
	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()
}

func (w *Workspace) onSessionChange(userID string) {
	if w.isClosed() {
		return
	}
	if userID == "" {
		w.history.Reset()
		w.collections.Reset()
		return
	}
	if err := w.Sync(context.Background()); err != nil {
		w.logger.Warn("failed to load data after sign in", zap.String("user", userID), zap.Error(err))
	}
}

// Sync loads history and collections for the current user. Anonymous
// sessions have nothing remote to load.
func (w *Workspace) Sync(ctx context.Context) error {
	uid, ok := w.session.UserID()
	if !ok {
		return nil
	}
	var errs []error
	if _, err := w.history.LoadAll(ctx, uid); err != nil {
		errs = append(errs, fmt.Errorf("load history: %w", err))
	}
	if _, err := w.collections.LoadAll(ctx, uid); err != nil {
		errs = append(errs, fmt.Errorf("load collections: %w", err))
	}
	return errors.Join(errs...)
}

// Close stops state updates, ends the session subscription and waits for
// background history writes
func (w *Workspace) Close() {
	w.mu.Lock()
	w.closed = true
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	w.background.Wait()
}

// Wait blocks until background history writes have finished
func (w *Workspace) Wait() {
	w.background.Wait()
}

func (w *Workspace) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Workspace) userID() string {
	uid, _ := w.session.UserID()
	return uid
}

// Draft returns a copy of the draft being edited
func (w *Workspace) Draft() model.Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft.Clone()
}

// SetDraft replaces the draft
func (w *Workspace) SetDraft(d model.Draft) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = d.Clone()
}

// Edit applies fn to the draft in place
func (w *Workspace) Edit(fn func(d *model.Draft)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.draft)
}

// Response returns a copy of the last response, or nil before the first send
func (w *Workspace) Response() *model.Response {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.response == nil {
		return nil
	}
	r := w.response.Clone()
	return &r
}

// SetHistoryEnabled turns history recording for later sends on or off
func (w *Workspace) SetHistoryEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.noHistory = !enabled
}

// InFlight reports whether a send is running
func (w *Workspace) InFlight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// Send dispatches the current draft. Validation errors are returned with no
// side effect. Otherwise the response is stored straight away and, when the
// proxy answered and a user is signed in, the resolved request is appended
// to history in the background.
func (w *Workspace) Send(ctx context.Context) (*apihttp.Result, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if w.inFlight {
		w.mu.Unlock()
		return nil, ErrInFlight
	}
	w.inFlight = true
	d := w.draft.Clone()
	w.mu.Unlock()

	result, err := w.dispatcher.Dispatch(ctx, d)
	uid := w.userID()

	w.mu.Lock()
	w.inFlight = false
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	if w.closed {
		w.mu.Unlock()
		return result, nil
	}
	resp := result.Response.Clone()
	w.response = &resp
	// Add happens under mu so Close cannot start waiting before it
	record := !w.noHistory && result.Delivered && uid != ""
	if record {
		w.background.Add(1)
	}
	w.mu.Unlock()

	if record {
		go func(req model.ResolvedRequest) {
			defer w.background.Done()
			// the write outlives the caller's request
			if _, err := w.history.Append(context.WithoutCancel(ctx), uid, req); err != nil {
				w.logger.Warn("history append failed", zap.String("user", uid), zap.Error(err))
			}
		}(result.Request)
	}

	return result, nil
}

// History returns the loaded history, newest first
func (w *Workspace) History() []model.HistoryEntry {
	return w.history.Entries()
}

// HasMoreHistory reports whether another history page can be loaded
func (w *Workspace) HasMoreHistory() bool {
	return w.history.HasMore()
}

// LoadMoreHistory fetches the next history page
func (w *Workspace) LoadMoreHistory(ctx context.Context) error {
	uid, ok := w.session.UserID()
	if !ok {
		return nil
	}
	_, err := w.history.LoadMore(ctx, uid)
	return err
}

// DeleteHistory hides a history entry for good and removes it remotely when possible
func (w *Workspace) DeleteHistory(ctx context.Context, id string) {
	w.history.Delete(ctx, w.userID(), id)
}

// LoadFromHistory replaces the draft with a history entry and clears the response
func (w *Workspace) LoadFromHistory(id string) error {
	entry, ok := w.history.Get(id)
	if !ok {
		return fmt.Errorf("history entry %s: %w", id, ErrNotFound)
	}
	d := draft.FromHistory(entry)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = d
	w.response = nil
	return nil
}

// Collections returns the loaded collections, newest first
func (w *Workspace) Collections() []model.Collection {
	return w.collections.Collections()
}

// Collection finds a collection by id
func (w *Workspace) Collection(id model.ID) (model.Collection, bool) {
	return w.collections.Get(id)
}

// CreateCollection adds a collection for the current user, or a local one when anonymous
func (w *Workspace) CreateCollection(ctx context.Context, name string) (model.ID, error) {
	return w.collections.CreateCollection(ctx, w.userID(), name)
}

// DeleteCollection removes a collection once confirm approves
func (w *Workspace) DeleteCollection(ctx context.Context, id model.ID, confirm collection.Confirm) error {
	return w.collections.DeleteCollection(ctx, w.userID(), id, confirm)
}

// SaveToCollection snapshots the current draft and response into target
func (w *Workspace) SaveToCollection(ctx context.Context, target collection.Target, description string) (model.SavedRequest, error) {
	w.mu.Lock()
	d := w.draft.Clone()
	var resp *model.Response
	if w.response != nil {
		r := w.response.Clone()
		resp = &r
	}
	w.mu.Unlock()

	return w.collections.SaveItem(ctx, w.userID(), target, description, d, resp)
}

// DeleteItem removes a saved request from a collection
func (w *Workspace) DeleteItem(ctx context.Context, collectionID, itemID model.ID) {
	w.collections.DeleteItem(ctx, w.userID(), collectionID, itemID)
}

// LoadFromSaved replaces the draft with a saved request and clears the response
func (w *Workspace) LoadFromSaved(collectionID, itemID model.ID) error {
	item, ok := w.collections.FindItem(collectionID, itemID)
	if !ok {
		return fmt.Errorf("saved request %s: %w", itemID, ErrNotFound)
	}
	d := draft.FromSaved(item)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = d
	w.response = nil
	return nil
}

// RunStep is reported for every request of a collection run
type RunStep struct {
	Index  int
	Total  int
	Item   model.SavedRequest
	Result *apihttp.Result
	Err    error
}

// RunCollection loads each saved request into the draft and sends it, oldest
// first. A failing step is reported and the run continues.
func (w *Workspace) RunCollection(ctx context.Context, id model.ID, report func(RunStep)) error {
	col, ok := w.collections.Get(id)
	if !ok {
		return fmt.Errorf("collection %s: %w", id, ErrNotFound)
	}

	total := len(col.Items)
	for i := total - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := col.Items[i]
		step := RunStep{Index: total - i, Total: total, Item: item}

		if err := w.LoadFromSaved(id, item.ID); err != nil {
			step.Err = err
		} else {
			step.Result, step.Err = w.Send(ctx)
		}
		if report != nil {
			report(step)
		}
	}
	return nil
}
