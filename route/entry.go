package route

import (
	"reflect"
	"sort"
)

// ParamSource is where a bound method argument's value comes from (§3,
// §4.7 step 4).
type ParamSource int

const (
	SourceURL ParamSource = iota
	SourceQuery
	SourceForm
	SourceBody
	SourceHeader
	SourceDefault
	SourceContext
)

// ParamDescriptor describes one argument of a bound controller method.
type ParamDescriptor struct {
	Source   ParamSource
	Name     string
	Required bool
	Index    int // position in the method's argument list
	Type     reflect.Type
}

// Handler is what a matched Entry invokes once arguments are bound. It is
// satisfied by the controller binder's generated closures and by the
// manual fluent wiring API.
type Handler interface {
	Invoke(args []any) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(args []any) (Result, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(args []any) (Result, error) { return f(args) }

// Result is what a bound method returns: a status/body pair, or a
// redirect, produced by whichever convenience helper the method used
// (§4.8 step 6).
type Result struct {
	StatusCode int
	Body       []byte
	ContentType string
	RedirectTo string // non-empty implies a redirect result
	NoContent  bool   // void method result implies 200 OK, empty body
}

// Entry is one compiled, bound route (§3 "Route entry").
type Entry struct {
	Template         *Compiled
	Verbs            map[string]bool // nil/empty means "*"
	Handler          Handler
	Params           []ParamDescriptor
	RequiredHandlers []string
	insertionOrder   int
}

// MatchesVerb reports whether verb is accepted by e.
func (e *Entry) MatchesVerb(verb string) bool {
	if len(e.Verbs) == 0 {
		return true
	}
	return e.Verbs[verb]
}

// Table is an immutable, precedence-sorted sequence of route entries
// (§3 "Route table"). Once Build returns, concurrent reads need no
// synchronization (§5).
type Table struct {
	entries []*Entry
}

// NewTable sorts entries by precedence (descending; higher score first),
// breaking ties by insertion order, and returns the immutable table.
func NewTable(entries []*Entry) *Table {
	for i, e := range entries {
		e.insertionOrder = i
	}
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Template.Precedence != sorted[j].Template.Precedence {
			return sorted[i].Template.Precedence > sorted[j].Template.Precedence
		}
		return sorted[i].insertionOrder < sorted[j].insertionOrder
	})
	return &Table{entries: sorted}
}

// Entries returns the sorted entries. Callers must not mutate the slice.
func (t *Table) Entries() []*Entry { return t.entries }
