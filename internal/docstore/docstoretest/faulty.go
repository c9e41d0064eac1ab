// Package docstoretest provides a fault-injecting docstore wrapper for tests.
package docstoretest

import (
	"context"
	"strings"
	"sync"

	"github.com/vedsharma/apitester/internal/docstore"
)

// Op names a Store method
type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
)

// Call records one Store invocation
type Call struct {
	Op    Op
	Path  string
	Order docstore.Order
}

type rule struct {
	op          Op
	prefix      string
	orderedOnly bool
	err         error
}

// Faulty wraps a Store, records every call and fails the ones matching a rule
type Faulty struct {
	docstore.Store

	mu    sync.Mutex
	rules []rule
	calls []Call
}

// Wrap returns a Faulty around s
func Wrap(s docstore.Store) *Faulty {
	return &Faulty{Store: s}
}

// Fail makes every op on a path starting with prefix return err
func (f *Faulty) Fail(op Op, prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{op: op, prefix: prefix, err: err})
}

// FailOrdered makes NewestFirst queries on paths starting with prefix return err
func (f *Faulty) FailOrdered(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{op: OpQuery, prefix: prefix, orderedOnly: true, err: err})
}

// Reset drops all rules
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// Calls returns the recorded calls in order
func (f *Faulty) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many calls of op were made
func (f *Faulty) Count(op Op) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Faulty) check(call Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	for _, r := range f.rules {
		if r.op != call.Op || !strings.HasPrefix(call.Path, r.prefix) {
			continue
		}
		if r.orderedOnly && call.Order != docstore.NewestFirst {
			continue
		}
		return r.err
	}
	return nil
}

func (f *Faulty) Add(ctx context.Context, collectionPath string, data any) (docstore.Document, error) {
	if err := f.check(Call{Op: OpAdd, Path: collectionPath}); err != nil {
		return docstore.Document{}, err
	}
	return f.Store.Add(ctx, collectionPath, data)
}

func (f *Faulty) Delete(ctx context.Context, documentPath string) error {
	if err := f.check(Call{Op: OpDelete, Path: documentPath}); err != nil {
		return err
	}
	return f.Store.Delete(ctx, documentPath)
}

func (f *Faulty) Query(ctx context.Context, collectionPath string, q docstore.Query) ([]docstore.Document, error) {
	if err := f.check(Call{Op: OpQuery, Path: collectionPath, Order: q.Order}); err != nil {
		return nil, err
	}
	return f.Store.Query(ctx, collectionPath, q)
}
