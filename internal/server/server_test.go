package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedsharma/apitester/internal/codec"
	"github.com/vedsharma/apitester/internal/config"
	"github.com/vedsharma/apitester/internal/docstore"
	apihttp "github.com/vedsharma/apitester/internal/http"
	"github.com/vedsharma/apitester/internal/model"
	"github.com/vedsharma/apitester/internal/tombstone"
)

const userHeader = "X-User-Id"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, config.ServerConfig{IdentityHeader: userHeader, EnableCORS: true}, tombstone.NewMemory())
}

func newTestServerWith(t *testing.T, cfg config.ServerConfig, tombs tombstone.Set) *Server {
	t.Helper()
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"statusText":"OK","data":{"ok":true}}`))
	}))
	t.Cleanup(proxy.Close)

	return New(cfg, Deps{
		Dispatcher: apihttp.NewClient(proxy.URL),
		Store:      docstore.NewMemoryStore(),
		Tombstones: tombs,
	})
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func do(t *testing.T, s *Server, c call, out any) *http.Response {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := codec.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, codec.Unmarshal(data, out), string(data))
	}
	return resp
}

func user(id string) map[string]string {
	return map[string]string{userHeader: id}
}

func sendDraft(url string) model.Draft {
	d := model.NewDraft()
	d.Method = model.MethodPost
	d.URL = url
	d.Params = []model.Entry{{Key: "q", Value: "a b", Enabled: true}}
	d.Body = `{"n":1}`
	return d
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	var result HealthResponse
	resp := do(t, s, call{method: "GET", path: "/health"}, &result)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", result.Status)
}

func TestSendAndHistory(t *testing.T) {
	s := newTestServer(t)
	defer func() { _ = s.Shutdown(context.Background()) }()

	var sent SendResponse
	resp := do(t, s, call{method: "POST", path: "/api/send", body: sendDraft("https://api.example.com/x"), headers: user("u1")}, &sent)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, sent.Delivered)
	assert.Equal(t, 200, *sent.Response.Status)
	assert.Equal(t, "https://api.example.com/x?q=a%20b", sent.Request.URL)

	ws, ok := s.workspaces.Peek("user:u1")
	require.True(t, ok)
	ws.Wait()

	var hist HistoryResponse
	resp = do(t, s, call{method: "GET", path: "/api/history", headers: user("u1")}, &hist)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, sent.Request.URL, hist.Entries[0].URL)
	id := hist.Entries[0].ID

	resp = do(t, s, call{method: "GET", path: "/api/history?search=nomatch", headers: user("u1")}, &hist)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, hist.Entries)

	resp = do(t, s, call{method: "DELETE", path: "/api/history/" + id, headers: user("u1")}, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = do(t, s, call{method: "GET", path: "/api/history?reload=true", headers: user("u1")}, &hist)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, hist.Entries)
}

func TestSendValidationError(t *testing.T) {
	s := newTestServer(t)

	d := sendDraft("https://api.example.com/x")
	d.Body = "{bad"
	var errResp ErrorResponse
	resp := do(t, s, call{method: "POST", path: "/api/send", body: d, headers: user("u1")}, &errResp)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "validation", errResp.Error)
	assert.Equal(t, "body", errResp.Field)
}

func TestAnonymousClientGetsIDAndLocalCollections(t *testing.T) {
	s := newTestServer(t)

	var col model.Collection
	resp := do(t, s, call{method: "POST", path: "/api/collections", body: CreateCollectionRequest{Name: "Scratch"}}, &col)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	clientID := resp.Header.Get(ClientIDHeader)
	require.NotEmpty(t, clientID)
	assert.True(t, col.ID.Local)

	var cols []model.Collection
	do(t, s, call{method: "GET", path: "/api/collections", headers: map[string]string{ClientIDHeader: clientID}}, &cols)
	require.Len(t, cols, 1)
	assert.Equal(t, "Scratch", cols[0].Name)

	// another anonymous client does not see it
	do(t, s, call{method: "GET", path: "/api/collections"}, &cols)
	assert.Empty(t, cols)
}

func TestCollectionLifecycle(t *testing.T) {
	s := newTestServer(t)
	h := user("u1")

	var errResp ErrorResponse
	resp := do(t, s, call{method: "POST", path: "/api/collections/items", body: SaveItemRequest{NewCollection: "Foo", Description: "x"}, headers: h}, &errResp)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "response", errResp.Field)

	do(t, s, call{method: "POST", path: "/api/send", body: sendDraft("https://api.example.com/x"), headers: h}, nil)

	var item model.SavedRequest
	resp = do(t, s, call{method: "POST", path: "/api/collections/items", body: SaveItemRequest{NewCollection: "Foo", Description: "first"}, headers: h}, &item)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, item.ID.IsRemote())

	var cols []model.Collection
	do(t, s, call{method: "GET", path: "/api/collections?search=fo", headers: h}, &cols)
	require.Len(t, cols, 1)
	cid := cols[0].ID
	require.Len(t, cols[0].Items, 1)
	assert.Equal(t, item.ID, cols[0].Items[0].ID)

	var state WorkspaceResponse
	resp = do(t, s, call{method: "POST", path: "/api/collections/" + cid.Value + "/items/" + item.ID.Value + "/load", headers: h}, &state)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://api.example.com/x", state.Draft.URL)
	assert.Nil(t, state.Response)

	resp = do(t, s, call{method: "DELETE", path: "/api/collections/" + cid.Value + "/items/" + item.ID.Value, headers: h}, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = do(t, s, call{method: "DELETE", path: "/api/collections/" + cid.Value, headers: h}, &errResp)
	assert.Equal(t, fiber.StatusPreconditionRequired, resp.StatusCode)
	assert.Equal(t, "confirmation_required", errResp.Error)

	resp = do(t, s, call{method: "DELETE", path: "/api/collections/" + cid.Value + "?confirm=true", headers: h}, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = do(t, s, call{method: "DELETE", path: "/api/collections/" + cid.Value + "?confirm=true", headers: h}, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSignedInWorkspaceLoadsExistingData(t *testing.T) {
	store := docstore.NewMemoryStore()
	deps := Deps{
		Dispatcher: apihttp.NewClient("http://127.0.0.1:1"),
		Store:      store,
		Tombstones: tombstone.NewMemory(),
	}

	first := New(config.ServerConfig{IdentityHeader: userHeader}, deps)
	do(t, first, call{method: "POST", path: "/api/collections", body: CreateCollectionRequest{Name: "Kept"}, headers: user("u1")}, nil)

	second := New(config.ServerConfig{IdentityHeader: userHeader}, deps)
	var cols []model.Collection
	do(t, second, call{method: "GET", path: "/api/collections", headers: user("u1")}, &cols)
	require.Len(t, cols, 1)
	assert.Equal(t, "Kept", cols[0].Name)
}

func TestDeletedHistoryIDsSurviveLaterRequests(t *testing.T) {
	ctx := context.Background()
	tombs := tombstone.NewMemory()
	s := newTestServerWith(t, config.ServerConfig{IdentityHeader: userHeader}, tombs)
	defer func() { _ = s.Shutdown(ctx) }()

	resp := do(t, s, call{method: "DELETE", path: "/api/history/aaaaaaaa", headers: user("u1")}, nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	for i := 0; i < 5; i++ {
		resp = do(t, s, call{method: "DELETE", path: "/api/history/bbbbbbbb", headers: user("u2")}, nil)
		require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	}
	do(t, s, call{method: "GET", path: "/api/collections?search=zzzzzzzzzzzz", headers: user("u3")}, nil)

	ids, err := tombs.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.True(t, ids.Has("aaaaaaaa"))
	assert.True(t, ids.Has("bbbbbbbb"))

	for _, key := range []string{"user:u1", "user:u2", "user:u3"} {
		_, ok := s.workspaces.Peek(key)
		assert.True(t, ok, key)
	}
}

func TestWorkspaceCacheIsBounded(t *testing.T) {
	s := newTestServerWith(t, config.ServerConfig{IdentityHeader: userHeader, MaxWorkspaces: 3}, tombstone.NewMemory())

	// header-less reads never register a workspace
	for i := 0; i < 10; i++ {
		resp := do(t, s, call{method: "GET", path: "/api/workspace"}, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(ClientIDHeader))
	}
	assert.Zero(t, s.workspaces.Len())

	var first string
	for i := 0; i < 10; i++ {
		resp := do(t, s, call{method: "POST", path: "/api/collections", body: CreateCollectionRequest{Name: "Scratch"}}, nil)
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
		if i == 0 {
			first = resp.Header.Get(ClientIDHeader)
		}
		assert.LessOrEqual(t, s.workspaces.Len(), 3)
	}

	// the oldest client was evicted and starts over
	var cols []model.Collection
	do(t, s, call{method: "GET", path: "/api/collections", headers: map[string]string{ClientIDHeader: first}}, &cols)
	assert.Empty(t, cols)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Zero(t, s.workspaces.Len())
}

func TestIdleWorkspacesExpire(t *testing.T) {
	s := newTestServerWith(t, config.ServerConfig{IdentityHeader: userHeader, IdleTimeout: 50 * time.Millisecond}, tombstone.NewMemory())
	defer func() { _ = s.Shutdown(context.Background()) }()

	resp := do(t, s, call{method: "POST", path: "/api/collections", body: CreateCollectionRequest{Name: "Scratch"}}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	clientID := resp.Header.Get(ClientIDHeader)

	require.Eventually(t, func() bool {
		_, ok := s.workspaces.Peek("client:" + clientID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	var cols []model.Collection
	do(t, s, call{method: "GET", path: "/api/collections", headers: map[string]string{ClientIDHeader: clientID}}, &cols)
	assert.Empty(t, cols)
}
