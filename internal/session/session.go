// Package session exposes who is signed in. Sign-in itself happens in an
// external identity provider; this package only carries the result.
package session

import (
	"sort"
	"strings"
	"sync"
)

// Source is the read-only view components depend on
type Source interface {
	// UserID returns the signed-in user, or false when anonymous
	UserID() (string, bool)
	// Subscribe registers fn for session changes and returns its unsubscribe func
	Subscribe(fn func(userID string)) func()
}

// Provider holds the current identity and fans out changes to subscribers.
// Only the identity provider integration calls SetUser/SignOut.
type Provider struct {
	mu     sync.RWMutex
	userID string
	nextID int
	subs   map[int]func(string)
}

// NewProvider starts with userID signed in, or anonymous when empty
func NewProvider(userID string) *Provider {
	return &Provider{
		userID: strings.TrimSpace(userID),
		subs:   make(map[int]func(string)),
	}
}

// Anonymous returns a provider with no user
func Anonymous() *Provider {
	return NewProvider("")
}

func (p *Provider) UserID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID, p.userID != ""
}

func (p *Provider) Subscribe(fn func(userID string)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// SetUser switches the session to userID and notifies subscribers if it changed
func (p *Provider) SetUser(userID string) {
	userID = strings.TrimSpace(userID)

	p.mu.Lock()
	if p.userID == userID {
		p.mu.Unlock()
		return
	}
	p.userID = userID
	ids := make([]int, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, p.subs[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(userID)
	}
}

// SignOut makes the session anonymous
func (p *Provider) SignOut() {
	p.SetUser("")
}
