package docstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type note struct {
	Text string `json:"text"`
}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	mem := NewMemoryStore(WithClock(newTickingClock().Now))

	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"), WithSQLiteClock(newTickingClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close() })

	return map[string]Store{"memory": mem, "sqlite": lite}
}

func texts(t *testing.T, docs []Document) []string {
	t.Helper()
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		var n note
		require.NoError(t, d.Decode(&n))
		out = append(out, n.Text)
	}
	return out
}

func TestStoreOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			col := Join("users", "u1", "history")
			for _, text := range []string{"first", "second", "third"} {
				_, err := s.Add(ctx, col, note{Text: text})
				require.NoError(t, err)
			}
			_, err := s.Add(ctx, Join("users", "u2", "history"), note{Text: "other user"})
			require.NoError(t, err)

			all, err := s.Query(ctx, col, Query{Order: NewestFirst})
			require.NoError(t, err)
			assert.Equal(t, []string{"third", "second", "first"}, texts(t, all))

			page, err := s.Query(ctx, col, Query{Order: NewestFirst, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, []string{"third", "second"}, texts(t, page))

			rest, err := s.Query(ctx, col, Query{Order: NewestFirst, Limit: 2, After: page[1].Cursor()})
			require.NoError(t, err)
			assert.Equal(t, []string{"first"}, texts(t, rest))

			unordered, err := s.Query(ctx, col, Query{})
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second", "third"}, texts(t, unordered))
		})
	}
}

func TestStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			cols := Join("users", "u1", "collections")
			col, err := s.Add(ctx, cols, note{Text: "api"})
			require.NoError(t, err)
			items := Join(cols, col.ID, "requests")
			_, err = s.Add(ctx, items, note{Text: "item"})
			require.NoError(t, err)
			keep, err := s.Add(ctx, cols, note{Text: "keep"})
			require.NoError(t, err)

			require.NoError(t, s.Delete(ctx, Join(cols, col.ID)))

			left, err := s.Query(ctx, cols, Query{})
			require.NoError(t, err)
			require.Len(t, left, 1)
			assert.Equal(t, keep.ID, left[0].ID)
			assert.True(t, keep.CreatedAt.Equal(left[0].CreatedAt))

			orphans, err := s.Query(ctx, items, Query{})
			require.NoError(t, err)
			assert.Empty(t, orphans)

			// deleting a missing document is not an error
			assert.NoError(t, s.Delete(ctx, Join(cols, "missing")))
		})
	}
}

func TestStoreRejectsBadPaths(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Add(ctx, "users/u1", note{})
			assert.ErrorIs(t, err, ErrInvalidPath)

			assert.ErrorIs(t, s.Delete(ctx, "users/u1/history"), ErrInvalidPath)

			_, err = s.Query(ctx, "users//history", Query{})
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestMemoryStoreWithoutOrderIndex(t *testing.T) {
	s := NewMemoryStore(WithoutOrderIndex())
	_, err := s.Query(context.Background(), "users/u1/history", Query{Order: NewestFirst})
	assert.ErrorIs(t, err, ErrOrderUnavailable)

	_, err = s.Query(context.Background(), "users/u1/history", Query{})
	assert.NoError(t, err)
}

func TestSplit(t *testing.T) {
	parent, id := Split("users/u1/history/abc")
	assert.Equal(t, "users/u1/history", parent)
	assert.Equal(t, "abc", id)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `users/a\_b\%c\\d`, escapeLike(`users/a_b%c\d`))
}
