package output

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/tidwall/pretty"

	"github.com/abdul-hamid-achik/courier/packages/session"
	"github.com/abdul-hamid-achik/courier/packages/sse"
)

// Printer writes responses for humans.
type Printer struct {
	writer         io.Writer
	verbose        bool
	includeHeaders bool
	noColor        bool
}

type PrinterOption func(*Printer)

func NewPrinter(opts ...PrinterOption) *Printer {
	p := &Printer{writer: os.Stdout}
	for _, opt := range opts {
		opt(p)
	}
	if p.noColor {
		color.NoColor = true
	}
	return p
}

func WithWriter(w io.Writer) PrinterOption {
	return func(p *Printer) {
		p.writer = w
	}
}

// WithVerbose adds the request line and timeline to each response.
func WithVerbose(v bool) PrinterOption {
	return func(p *Printer) {
		p.verbose = v
	}
}

// WithHeaders prints response headers before the body.
func WithHeaders(include bool) PrinterOption {
	return func(p *Printer) {
		p.includeHeaders = include
	}
}

func WithNoColor(nc bool) PrinterOption {
	return func(p *Printer) {
		p.noColor = nc
	}
}

// Response prints resp. retries is the number of times the request was
// resubmitted.
func (p *Printer) Response(resp session.DefaultResponse, retries int) {
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	if p.verbose && resp.Request != nil {
		fmt.Fprintf(p.writer, "%s %s\n", bold(resp.Request.Method), resp.Request.URL)
	}

	if resp.Response != nil {
		fmt.Fprintf(p.writer, "%s %s\n", resp.Response.Proto, statusColor(resp.Response.StatusCode)(resp.Response.Status))
		if p.includeHeaders {
			p.headers(resp.Response.Header)
		}
	}

	if p.verbose {
		fmt.Fprintf(p.writer, "%s\n", dim(fmt.Sprintf("retries=%d %s", retries, resp.Timeline)))
	}

	switch {
	case resp.DestinationPath != "":
		fmt.Fprintf(p.writer, "saved to %s\n", resp.DestinationPath)
	case len(resp.Data) > 0:
		if p.includeHeaders || p.verbose {
			fmt.Fprintln(p.writer)
		}
		fmt.Fprintln(p.writer, strings.TrimRight(string(p.body(resp)), "\n"))
	}

	if resp.Error != nil {
		p.Error(resp.Error)
	}
}

// Event prints one server-sent event as it arrives.
func (p *Printer) Event(ev sse.Event) {
	cyan := color.New(color.FgCyan).SprintFunc()
	if ev.ID != "" {
		fmt.Fprintf(p.writer, "%s %s\n", cyan("id:"), ev.ID)
	}
	fmt.Fprintf(p.writer, "%s %s\n", cyan("event:"), ev.Type)
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(p.writer, "%s %s\n", cyan("data:"), line)
	}
	fmt.Fprintln(p.writer)
}

// Value prints a single extracted value.
func (p *Printer) Value(v string) {
	fmt.Fprintln(p.writer, v)
}

func (p *Printer) Error(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(p.writer, "%s %v\n", red("Error:"), err)
}

func (p *Printer) headers(h http.Header) {
	cyan := color.New(color.FgCyan).SprintFunc()
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(p.writer, "%s: %s\n", cyan(k), v)
		}
	}
}

// body pretty prints JSON payloads and returns anything else untouched.
func (p *Printer) body(resp session.DefaultResponse) []byte {
	if resp.Response == nil || !strings.Contains(resp.Response.Header.Get("Content-Type"), "json") {
		return resp.Data
	}
	formatted := pretty.Pretty(resp.Data)
	if !p.noColor && !color.NoColor {
		formatted = pretty.Color(formatted, nil)
	}
	return formatted
}

func statusColor(code int) func(a ...any) string {
	switch {
	case code >= 500:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case code >= 400:
		return color.New(color.FgRed).SprintFunc()
	case code >= 300:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgGreen).SprintFunc()
	}
}
