// Package draft turns the editable request draft into a wire-ready request.
package draft

import (
	"net/url"
	"sort"
	"strings"

	"github.com/vedsharma/apitester/internal/codec"
	"github.com/vedsharma/apitester/internal/model"
)

// BuildQueryString appends the active params to base, in order, percent-encoding
// keys and values. A base that already carries a query gets the params after '&'.
func BuildQueryString(base string, params []model.Entry) string {
	pairs := make([]string, 0, len(params))
	for _, p := range params {
		if !p.Active() {
			continue
		}
		pairs = append(pairs, encodeComponent(p.Key)+"="+encodeComponent(p.Value))
	}
	if len(pairs) == 0 {
		return base
	}

	qs := strings.Join(pairs, "&")
	if strings.Contains(base, "?") {
		return base + "&" + qs
	}
	return base + "?" + qs
}

// BuildHeaderMap collects the active headers; a later duplicate key wins.
func BuildHeaderMap(headers []model.Entry) map[string]string {
	result := make(map[string]string)
	for _, h := range headers {
		if h.Active() {
			result[h.Key] = h.Value
		}
	}
	return result
}

// ActiveParams returns the params that take part in the query string
func ActiveParams(params []model.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(params))
	for _, p := range params {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// ParseBody decodes the raw body text. Empty text means no body.
func ParseBody(text string) (any, error) {
	if text == "" {
		return nil, nil
	}
	if !codec.Valid([]byte(text)) {
		return nil, Invalid("body", "Invalid JSON in body")
	}

	var v any
	if err := codec.UnmarshalString(text, &v); err != nil {
		return nil, Invalid("body", "Invalid JSON in body")
	}
	return v, nil
}

// Resolve validates d and produces the request that is sent and recorded in history.
func Resolve(d model.Draft) (model.ResolvedRequest, error) {
	if strings.TrimSpace(d.URL) == "" {
		return model.ResolvedRequest{}, Invalid("url", "Please enter a URL")
	}

	method := model.MethodGet
	if d.Method != "" {
		m, err := model.ParseMethod(string(d.Method))
		if err != nil {
			return model.ResolvedRequest{}, Invalid("method", err.Error())
		}
		method = m
	}

	body, err := ParseBody(d.Body)
	if err != nil {
		return model.ResolvedRequest{}, err
	}

	return model.ResolvedRequest{
		Method:  method,
		URL:     BuildQueryString(d.URL, d.Params),
		Headers: BuildHeaderMap(d.Headers),
		Params:  ActiveParams(d.Params),
		Body:    body,
	}, nil
}

// FromHistory rebuilds a draft from a recorded history entry. The recorded
// URL already carries the params, so that suffix is taken off again.
func FromHistory(e model.HistoryEntry) model.Draft {
	d := model.Draft{
		Method: normalizeMethod(string(e.Method)),
		URL:    stripAppliedQuery(e.URL, e.Params),
		Params: copyEntries(e.Params),
		Body:   bodyText(e.Body),
	}

	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Headers = append(d.Headers, model.Entry{Key: k, Value: e.Headers[k], Enabled: true})
	}
	if len(d.Headers) == 0 {
		d.Headers = model.DefaultHeaders()
	}
	return d
}

// FromSaved rebuilds a draft from a collection item's request snapshot
func FromSaved(item model.SavedRequest) model.Draft {
	d := item.Request.Clone()
	d.Method = normalizeMethod(string(d.Method))
	if len(d.Headers) == 0 {
		d.Headers = model.DefaultHeaders()
	}
	if d.Params == nil {
		d.Params = []model.Entry{}
	}
	return d
}

// stripAppliedQuery undoes BuildQueryString when u ends with exactly the
// query the params produce
func stripAppliedQuery(u string, params []model.Entry) string {
	q := BuildQueryString("", params)
	if q == "" {
		return u
	}
	if base, ok := strings.CutSuffix(u, "&"+q[1:]); ok && strings.Contains(base, "?") {
		return base
	}
	if base, ok := strings.CutSuffix(u, q); ok && !strings.Contains(base, "?") {
		return base
	}
	return u
}

func normalizeMethod(s string) model.Method {
	m, err := model.ParseMethod(s)
	if err != nil {
		return model.MethodGet
	}
	return m
}

func copyEntries(in []model.Entry) []model.Entry {
	out := make([]model.Entry, len(in))
	copy(out, in)
	return out
}

func bodyText(body any) string {
	switch b := body.(type) {
	case nil:
		return ""
	case string:
		return b
	default:
		text, err := codec.IndentValue(b)
		if err != nil {
			return ""
		}
		return text
	}
}

// encodeComponent escapes like encodeURIComponent: spaces become %20, not '+'
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
