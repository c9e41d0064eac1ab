package format

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/vedsharma/apitester/internal/model"
)

func newTestPrinter(t *testing.T) (*Printer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	return NewPrinter(&buf), &buf
}

func TestSanitizeOutput(t *testing.T) {
	assert.Equal(t, "a\\x1b[31mb", sanitizeOutput("a\x1b[31mb"))
	assert.Equal(t, "tab\tok\\x07\\x7f", sanitizeOutput("tab\tok\x07\x7f"))
}

func TestPrintResponse(t *testing.T) {
	p, buf := newTestPrinter(t)
	status, ms := 404, int64(12)
	p.PrintResponse(&model.Response{
		Status:     &status,
		StatusText: "Not Found",
		Headers:    map[string]string{"x-b": "2", "content-type": "application/json"},
		Data:       `{"error":"missing"}`,
		TimeMs:     &ms,
	}, true)

	out := buf.String()
	assert.Contains(t, out, "404 Not Found")
	assert.Contains(t, out, "Time: 12ms")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("content-type")), bytes.Index(buf.Bytes(), []byte("x-b")))
	assert.Contains(t, out, "{\n  \"error\": \"missing\"\n}")
}

func TestPrintResponseWithoutStatus(t *testing.T) {
	p, buf := newTestPrinter(t)
	ms := int64(3)
	p.PrintResponse(&model.Response{Data: "Error: connection refused", TimeMs: &ms}, false)

	assert.Contains(t, buf.String(), "No status")
	assert.Contains(t, buf.String(), "Error: connection refused")

	buf.Reset()
	p.PrintResponse(nil, false)
	assert.Contains(t, buf.String(), "no response yet")
}

func TestPrintHistoryList(t *testing.T) {
	p, buf := newTestPrinter(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []model.HistoryEntry{
		{ID: "h2", Method: model.MethodPost, URL: "https://api.example.com/b", CreatedAt: at},
		{ID: "h1", Method: model.MethodGet, URL: "https://api.example.com/a", CreatedAt: at},
	}

	p.PrintHistoryList(entries, 1, false)
	assert.Contains(t, buf.String(), "[1] POST")
	assert.NotContains(t, buf.String(), "h1")
	assert.Contains(t, buf.String(), "and 1 more requests")

	buf.Reset()
	p.PrintHistoryList(entries, 0, true)
	assert.Contains(t, buf.String(), "h1")
	assert.Contains(t, buf.String(), "--more")

	buf.Reset()
	p.PrintHistoryList(nil, 10, false)
	assert.Contains(t, buf.String(), "No requests in history")
}

func TestPrintCollectionsMarksLocalIDs(t *testing.T) {
	p, buf := newTestPrinter(t)
	status := 200
	cols := []model.Collection{
		{ID: model.ID{Value: "abc", Local: true}, Name: "Scratch"},
		{ID: model.RemoteID("r1"), Name: "Billing", Items: []model.SavedRequest{{
			ID:          model.RemoteID("i1"),
			Description: "list invoices",
			Request:     model.Draft{Method: model.MethodGet, URL: "https://api.example.com/invoices"},
			Response:    model.Response{Status: &status},
		}}},
	}

	p.PrintCollectionList(cols)
	assert.Contains(t, buf.String(), "abc (local)")
	assert.Contains(t, buf.String(), "Billing (1 requests) r1")

	buf.Reset()
	p.PrintCollectionItems(cols[1])
	assert.Contains(t, buf.String(), "list invoices: GET https://api.example.com/invoices 200")
}

func TestBodyValueText(t *testing.T) {
	assert.Equal(t, "", bodyValueText(nil))
	assert.Equal(t, "raw", bodyValueText("raw"))
	assert.Equal(t, "{\n  \"a\": 1\n}", bodyValueText(map[string]any{"a": 1}))
}
