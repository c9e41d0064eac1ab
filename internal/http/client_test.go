package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedsharma/apitester/internal/codec"
	"github.com/vedsharma/apitester/internal/draft"
	"github.com/vedsharma/apitester/internal/model"
)

func TestDispatchSendsResolvedEnvelope(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ProxyPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, codec.Unmarshal(body, &got))

		w.Header().Set("X-Upstream", "yes")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":201,"statusText":"Created","data":{"id":7,"tags":["a"]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.Dispatch(context.Background(), model.Draft{
		Method: model.MethodPost,
		URL:    "https://api.example.com/items",
		Headers: []model.Entry{
			{Key: "Authorization", Value: "Bearer t", Enabled: true},
			{Key: "X-Off", Value: "1", Enabled: false},
		},
		Params: []model.Entry{{Key: "v", Value: "2", Enabled: true}},
		Body:   `{"name":"w"}`,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/items?v=2", got["url"])
	assert.Equal(t, "POST", got["method"])
	assert.Equal(t, map[string]any{"Authorization": "Bearer t"}, got["headers"])
	assert.Equal(t, map[string]any{"name": "w"}, got["body"])

	assert.True(t, res.Delivered)
	require.NotNil(t, res.Response.Status)
	assert.Equal(t, 201, *res.Response.Status)
	assert.Equal(t, "Created", res.Response.StatusText)
	assert.Equal(t, "{\n  \"id\": 7,\n  \"tags\": [\n    \"a\"\n  ]\n}", res.Response.Data)
	assert.Equal(t, "yes", res.Response.Headers["x-upstream"])
	require.NotNil(t, res.Response.TimeMs)
	assert.GreaterOrEqual(t, *res.Response.TimeMs, int64(0))
	assert.Equal(t, "https://api.example.com/items?v=2", res.Request.URL)
}

func TestDispatchOmitsEmptyBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, codec.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"status":200,"statusText":"OK","data":"plain text"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Dispatch(context.Background(), model.Draft{URL: "https://x.test"})
	require.NoError(t, err)

	_, hasBody := got["body"]
	assert.False(t, hasBody)
	assert.Equal(t, "plain text", res.Response.Data)
}

func TestDispatchNonJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream down</html>"))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Dispatch(context.Background(), model.Draft{URL: "https://x.test"})
	require.NoError(t, err)

	assert.True(t, res.Delivered)
	require.NotNil(t, res.Response.Status)
	assert.Equal(t, http.StatusBadGateway, *res.Response.Status)
	assert.Equal(t, "Bad Gateway", res.Response.StatusText)
	assert.Equal(t, "Non-JSON response", res.Response.Data)
	assert.NotNil(t, res.Response.TimeMs)
}

func TestDispatchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	res, err := NewClient(base).Dispatch(context.Background(), model.Draft{URL: "https://x.test"})
	require.NoError(t, err)

	assert.False(t, res.Delivered)
	assert.Nil(t, res.Response.Status)
	assert.Empty(t, res.Response.StatusText)
	assert.Contains(t, res.Response.Data, "Error: ")
	require.NotNil(t, res.Response.TimeMs)
}

func TestDispatchValidationMakesNoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Dispatch(context.Background(), model.Draft{URL: "https://x.test", Body: "{bad"})
	assert.True(t, draft.IsValidation(err))

	_, err = c.Dispatch(context.Background(), model.Draft{URL: ""})
	assert.True(t, draft.IsValidation(err))

	assert.Equal(t, int32(0), calls.Load())
}

func TestDataText(t *testing.T) {
	assert.Equal(t, "", dataText(nil))
	assert.Equal(t, "null", dataText([]byte("null")))
	assert.Equal(t, "42", dataText([]byte("42")))
	assert.Equal(t, "true", dataText([]byte("true")))
	assert.Equal(t, "hi", dataText([]byte(`"hi"`)))
	assert.Equal(t, "[\n  1,\n  2\n]", dataText([]byte("[1,2]")))
}

func TestNewClientDefaults(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, NewClient("").BaseURL())
	assert.Equal(t, "http://proxy.test", NewClient("http://proxy.test/").BaseURL())
}
