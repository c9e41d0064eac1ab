package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedsharma/apitester/internal/collection"
	"github.com/vedsharma/apitester/internal/docstore"
	"github.com/vedsharma/apitester/internal/history"
	"github.com/vedsharma/apitester/internal/session"
	"github.com/vedsharma/apitester/internal/tombstone"
	"github.com/vedsharma/apitester/internal/workspace"
)

func TestFindCollectionIDMatchesIDsOnly(t *testing.T) {
	store := docstore.NewMemoryStore()
	ws := workspace.New(nil,
		history.NewAdapter(store, tombstone.NewMemory(), nil),
		collection.NewAdapter(store, nil),
		session.NewProvider(""), nil)
	defer ws.Close()
	a := &app{ws: ws}

	id, err := ws.CreateCollection(context.Background(), "Billing")
	require.NoError(t, err)

	got, ok := findCollectionID(a, id.Value)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = findCollectionID(a, "Billing")
	assert.False(t, ok)
}
