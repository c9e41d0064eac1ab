// Package events records sign-in and sign-out activity in the document store.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vedsharma/apitester/internal/docstore"
	"github.com/vedsharma/apitester/internal/session"
)

const (
	LoginPath  = "loginDetails"
	LogoutPath = "logoutDetails"
)

// Event is the document written for each transition
type Event struct {
	UID       string    `json:"uid"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder writes an Event whenever the session user changes.
// Write failures are logged and never reach the caller.
type Recorder struct {
	store   docstore.Store
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	current string
}

// NewRecorder creates a recorder that starts from the given user
func NewRecorder(store docstore.Store, logger *zap.Logger, initialUser string) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:   store,
		logger:  logger,
		now:     time.Now,
		timeout: 10 * time.Second,
		current: initialUser,
	}
}

// Attach subscribes the recorder to src and returns the unsubscribe func
func (r *Recorder) Attach(src session.Source) func() {
	if uid, ok := src.UserID(); ok {
		r.mu.Lock()
		r.current = uid
		r.mu.Unlock()
	}
	return src.Subscribe(r.Observe)
}

// Observe handles a session change to userID ("" means signed out)
func (r *Recorder) Observe(userID string) {
	r.mu.Lock()
	prev := r.current
	r.current = userID
	r.mu.Unlock()

	if prev == userID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if prev != "" {
		r.write(ctx, LogoutPath, prev)
	}
	if userID != "" {
		r.write(ctx, LoginPath, userID)
	}
}

func (r *Recorder) write(ctx context.Context, path, uid string) {
	if _, err := r.store.Add(ctx, path, Event{UID: uid, Timestamp: r.now().UTC()}); err != nil {
		r.logger.Error("failed to record session event",
			zap.String("collection", path),
			zap.String("uid", uid),
			zap.Error(err))
	}
}
