package format

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/fatih/color"

	"github.com/vedsharma/apitester/internal/codec"
	"github.com/vedsharma/apitester/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

// sanitizeOutput removes or escapes potentially dangerous control characters
// that could manipulate terminal display or execute commands
func sanitizeOutput(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteRune(r)
		case r == '\x1b':
			// Escape ANSI escape sequences - replace ESC with visible representation
			result.WriteString("\\x1b")
		case unicode.IsControl(r) && r < 0x20:
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		case r == 0x7F:
			result.WriteString("\\x7f")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

var (
	successColor   = color.New(color.FgGreen, color.Bold)
	redirectColor  = color.New(color.FgYellow, color.Bold)
	clientErrColor = color.New(color.FgRed, color.Bold)
	serverErrColor = color.New(color.FgRed, color.Bold, color.BgWhite)
	headerKeyColor = color.New(color.FgCyan)
	methodColor    = color.New(color.FgMagenta, color.Bold)
	urlColor       = color.New(color.FgBlue)
	dimColor       = color.New(color.Faint)
	warnColor      = color.New(color.FgYellow)
)

// Printer renders models to a terminal
type Printer struct {
	w io.Writer
}

// NewPrinter returns a printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Stdout is the printer used by the package-level helpers
func Stdout() *Printer {
	return NewPrinter(color.Output)
}

// PrintResponse prints a formatted response
func (p *Printer) PrintResponse(resp *model.Response, showHeaders bool) {
	if resp == nil {
		dimColor.Fprintln(p.w, "(no response yet)")
		return
	}

	p.printStatusLine(resp)
	if resp.TimeMs != nil {
		dimColor.Fprintf(p.w, "  Time: %dms\n\n", *resp.TimeMs)
	}

	if showHeaders {
		p.printHeaders(resp.Headers)
	}

	p.printBody(resp.Data)
}

func (p *Printer) printStatusLine(resp *model.Response) {
	if resp.Status == nil {
		clientErrColor.Fprintln(p.w, "No status")
		return
	}
	line := fmt.Sprintf("%d %s", *resp.Status, resp.StatusText)
	getStatusColor(*resp.Status).Fprintln(p.w, sanitizeOutput(strings.TrimSpace(line)))
}

func getStatusColor(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return successColor
	case code >= 300 && code < 400:
		return redirectColor
	case code >= 400 && code < 500:
		return clientErrColor
	default:
		return serverErrColor
	}
}

func (p *Printer) printHeaders(headers map[string]string) {
	if len(headers) == 0 {
		return
	}

	fmt.Fprintln(p.w, "Headers:")

	// Sort headers for consistent output
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		headerKeyColor.Fprintf(p.w, "  %s: ", sanitizeOutput(key))
		fmt.Fprintln(p.w, sanitizeOutput(headers[key]))
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) printEntries(title string, entries []model.Entry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(p.w, "%s:\n", title)
	for _, e := range entries {
		headerKeyColor.Fprintf(p.w, "  %s: ", sanitizeOutput(e.Key))
		fmt.Fprint(p.w, sanitizeOutput(e.Value))
		if !e.Enabled {
			dimColor.Fprint(p.w, " (disabled)")
		}
		fmt.Fprintln(p.w)
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) printBody(body string) {
	if body == "" {
		dimColor.Fprintln(p.w, "(empty body)")
		return
	}

	// Try to pretty-print JSON, then sanitize output for terminal safety
	fmt.Fprintln(p.w, sanitizeOutput(prettyJSON(body)))
}

func prettyJSON(s string) string {
	return codec.Indent([]byte(s))
}

func bodyValueText(body any) string {
	switch b := body.(type) {
	case nil:
		return ""
	case string:
		return b
	default:
		text, err := codec.IndentValue(b)
		if err != nil {
			return fmt.Sprint(b)
		}
		return text
	}
}

func truncateURL(url string) string {
	if len(url) > 60 {
		return url[:57] + "..."
	}
	return url
}

// PrintHistoryList prints history entries in a compact format, newest first
func (p *Printer) PrintHistoryList(entries []model.HistoryEntry, limit int, more bool) {
	if len(entries) == 0 {
		dimColor.Fprintln(p.w, "No requests in history")
		return
	}

	count := len(entries)
	if limit > 0 && limit < count {
		count = limit
	}

	for i := 0; i < count; i++ {
		e := entries[i]
		dimColor.Fprintf(p.w, "[%d] ", i+1)
		methodColor.Fprintf(p.w, "%-7s ", e.Method)
		urlColor.Fprintf(p.w, "%-60s ", sanitizeOutput(truncateURL(e.URL)))
		dimColor.Fprintf(p.w, "%s  %s", e.ID, e.CreatedAt.Local().Format(timeLayout))
		fmt.Fprintln(p.w)
	}

	switch {
	case len(entries) > count:
		dimColor.Fprintf(p.w, "\n... and %d more requests\n", len(entries)-count)
	case more:
		dimColor.Fprintln(p.w, "\n... more requests available (use --more)")
	}
}

// PrintHistoryDetail prints a single history entry in full
func (p *Printer) PrintHistoryDetail(e model.HistoryEntry) {
	fmt.Fprintln(p.w, "Request:")
	fmt.Fprintln(p.w, strings.Repeat("-", 40))
	methodColor.Fprintf(p.w, "%s ", e.Method)
	urlColor.Fprintln(p.w, sanitizeOutput(e.URL))
	dimColor.Fprintf(p.w, "ID: %s\n", e.ID)
	dimColor.Fprintf(p.w, "Time: %s\n\n", e.CreatedAt.Local().Format(timeLayout))

	p.printHeaders(e.Headers)
	p.printEntries("Params", e.Params)

	if text := bodyValueText(e.Body); text != "" {
		fmt.Fprintln(p.w, "Body:")
		fmt.Fprintln(p.w, sanitizeOutput(text))
		fmt.Fprintln(p.w)
	}
}

func idLabel(id model.ID) string {
	if id.Local {
		return id.Value + " (local)"
	}
	return id.Value
}

// PrintCollectionList prints collections, newest first
func (p *Printer) PrintCollectionList(cols []model.Collection) {
	if len(cols) == 0 {
		dimColor.Fprintln(p.w, "No collections found")
		return
	}

	fmt.Fprintln(p.w, "Collections:")
	for _, col := range cols {
		headerKeyColor.Fprintf(p.w, "  %s ", sanitizeOutput(col.Name))
		dimColor.Fprintf(p.w, "(%d requests) %s\n", len(col.Items), idLabel(col.ID))
	}
}

// PrintCollectionItems prints the saved requests of a collection
func (p *Printer) PrintCollectionItems(col model.Collection) {
	if len(col.Items) == 0 {
		dimColor.Fprintf(p.w, "Collection '%s' is empty\n", sanitizeOutput(col.Name))
		return
	}

	headerKeyColor.Fprintf(p.w, "Collection: %s\n", sanitizeOutput(col.Name))
	dimColor.Fprintf(p.w, "ID: %s\n", idLabel(col.ID))
	fmt.Fprintln(p.w, strings.Repeat("-", 40))

	for i, item := range col.Items {
		dimColor.Fprintf(p.w, "[%d] ", i+1)
		fmt.Fprintf(p.w, "%s: ", sanitizeOutput(item.Description))
		methodColor.Fprintf(p.w, "%s ", item.Request.Method)
		urlColor.Fprint(p.w, sanitizeOutput(item.Request.URL))
		if item.Response.Status != nil {
			fmt.Fprint(p.w, " ")
			getStatusColor(*item.Response.Status).Fprintf(p.w, "%d", *item.Response.Status)
		}
		dimColor.Fprintf(p.w, "  %s\n", idLabel(item.ID))
	}
}

// PrintSavedRequest prints a saved request with its response snapshot
func (p *Printer) PrintSavedRequest(item model.SavedRequest) {
	headerKeyColor.Fprintln(p.w, sanitizeOutput(item.Description))
	fmt.Fprintln(p.w, strings.Repeat("-", 40))
	methodColor.Fprintf(p.w, "%s ", item.Request.Method)
	urlColor.Fprintln(p.w, sanitizeOutput(item.Request.URL))
	dimColor.Fprintf(p.w, "ID: %s\n\n", idLabel(item.ID))

	p.printEntries("Headers", item.Request.Headers)
	p.printEntries("Params", item.Request.Params)
	if item.Request.Body != "" {
		fmt.Fprintln(p.w, "Body:")
		fmt.Fprintln(p.w, sanitizeOutput(prettyJSON(item.Request.Body)))
		fmt.Fprintln(p.w)
	}

	fmt.Fprintln(p.w, "Response:")
	fmt.Fprintln(p.w, strings.Repeat("-", 40))
	p.PrintResponse(&item.Response, true)
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(msg string) {
	successColor.Fprintf(p.w, "✓ %s\n", msg)
}

// PrintError prints an error message
func (p *Printer) PrintError(msg string) {
	clientErrColor.Fprintf(p.w, "✗ %s\n", msg)
}

// PrintWarning prints a non-fatal notice
func (p *Printer) PrintWarning(msg string) {
	warnColor.Fprintf(p.w, "! %s\n", msg)
}

// PrintResponse prints a formatted response to stdout
func PrintResponse(resp *model.Response, showHeaders bool) {
	Stdout().PrintResponse(resp, showHeaders)
}

// PrintSuccess prints a success message to stdout
func PrintSuccess(msg string) {
	Stdout().PrintSuccess(msg)
}

// PrintError prints an error message to stdout
func PrintError(msg string) {
	Stdout().PrintError(msg)
}

// PrintWarning prints a notice to stderr
func PrintWarning(msg string) {
	NewPrinter(color.Error).PrintWarning(msg)
}
