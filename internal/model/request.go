package model

import (
	"fmt"
	"strings"
	"time"
)

// Method is one of the HTTP methods the tester can send
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// Methods lists the supported methods in display order
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch}

// ParseMethod normalizes a method name, rejecting anything outside Methods
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unsupported method: %q", s)
}

// Entry is a single header or query parameter row
type Entry struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}

// Active reports whether the entry takes part in an outgoing request
func (e Entry) Active() bool {
	return e.Enabled && strings.TrimSpace(e.Key) != ""
}

// Draft is the request the user is composing
type Draft struct {
	Method  Method  `json:"method"`
	URL     string  `json:"url"`
	Headers []Entry `json:"headers"`
	Params  []Entry `json:"params"`
	Body    string  `json:"body"`
}

// DefaultHeaders are the headers a fresh draft starts with
func DefaultHeaders() []Entry {
	return []Entry{{Key: "Content-Type", Value: "application/json", Enabled: true}}
}

// NewDraft returns an empty GET draft
func NewDraft() Draft {
	return Draft{
		Method:  MethodGet,
		Headers: DefaultHeaders(),
		Params:  []Entry{},
	}
}

// Clone returns a deep copy so snapshots do not alias the live draft
func (d Draft) Clone() Draft {
	c := d
	c.Headers = append([]Entry(nil), d.Headers...)
	c.Params = append([]Entry(nil), d.Params...)
	return c
}

// ResolvedRequest is a draft with filtering applied and the query string merged into the URL
type ResolvedRequest struct {
	Method  Method            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Params  []Entry           `json:"params"`
	Body    any               `json:"body"`
}

// Response is what the proxy returned, normalized for display.
// Status and TimeMs stay nil until a dispatch completes.
type Response struct {
	Status     *int              `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       string            `json:"data"`
	TimeMs     *int64            `json:"time_ms"`
}

// Completed reports whether a dispatch has finished, successfully or not
func (r *Response) Completed() bool {
	return r != nil && r.TimeMs != nil
}

// Clone returns a deep copy of the response
func (r Response) Clone() Response {
	c := r
	if r.Status != nil {
		s := *r.Status
		c.Status = &s
	}
	if r.TimeMs != nil {
		t := *r.TimeMs
		c.TimeMs = &t
	}
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	return c
}

// HistoryEntry is a dispatched request recorded for a signed-in user
type HistoryEntry struct {
	ID        string            `json:"id"`
	Method    Method            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Params    []Entry           `json:"params"`
	Body      any               `json:"body"`
	CreatedAt time.Time         `json:"created_at"`
}

// SavedRequest is an immutable request/response snapshot inside a collection
type SavedRequest struct {
	ID          ID        `json:"id"`
	Description string    `json:"description"`
	Request     Draft     `json:"request"`
	Response    Response  `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
}

// Collection represents a named group of saved requests
type Collection struct {
	ID        ID             `json:"id"`
	Name      string         `json:"name"`
	Items     []SavedRequest `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
}
