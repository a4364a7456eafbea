// Package handler implements the prefix-scoped handler chain (§4.9):
// an ordered list of (path-prefix-pattern, Handler) pairs, each offered
// the context in declaration order until one reports Handled.
package handler

import (
	"github.com/curol/httpd/httperr"
	"github.com/curol/httpd/rcontext"
	"github.com/curol/httpd/route"
)

// Outcome is what a Handler returns after being offered a context.
type Outcome int

const (
	NotHandled Outcome = iota
	Handled
)

// Handler is the stable extension seam named in §6: handle(context) ->
// {handled, not_handled}.
type Handler interface {
	Handle(ctx *rcontext.Context) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx *rcontext.Context) (Outcome, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx *rcontext.Context) (Outcome, error) { return f(ctx) }

// entry pairs a compiled prefix pattern with its handler and the name
// used for MarkModuleRan / required-handler-marker checks.
type entry struct {
	name    string
	prefix  *route.Compiled // nil means "matches every path"
	handler Handler
}

// Stack is the ordered chain traversed per request. Once built it is
// immutable and safe for concurrent reads (§5).
type Stack struct {
	entries []entry
}

// NewStack returns an empty Stack ready for Use calls.
func NewStack() *Stack {
	return &Stack{}
}

// Use appends a handler scoped to every path, named for required-handler
// markers and logging.
func (s *Stack) Use(name string, h Handler) *Stack {
	s.entries = append(s.entries, entry{name: name, handler: h})
	return s
}

// UseForPrefix appends a handler scoped to paths matching prefixPattern,
// compiled with the same template grammar as routes (§4.9: "prefix
// patterns use the same template grammar as routes").
func (s *Stack) UseForPrefix(name, prefixPattern string, h Handler) (*Stack, error) {
	compiled, err := route.Compile(prefixPattern, true)
	if err != nil {
		return s, err
	}
	s.entries = append(s.entries, entry{name: name, prefix: compiled, handler: h})
	return s, nil
}

// Run walks the chain in declaration order. Each matching handler is
// offered ctx; a Handled outcome stops the walk. A handler that returns
// an error is treated as having thrown — the connection loop maps it to
// the usual 500 surface unless the error already carries its own status
// (*httperr.Error).
func (s *Stack) Run(ctx *rcontext.Context) (Outcome, error) {
	for _, e := range s.entries {
		if e.prefix != nil {
			if _, ok := e.prefix.Match(ctx.Req.Path); !ok {
				continue
			}
		}
		outcome, err := invoke(e, ctx)
		if err != nil {
			return NotHandled, err
		}
		ctx.MarkModuleRan(e.name)
		if outcome == Handled {
			return Handled, nil
		}
	}
	return NotHandled, nil
}

// invoke recovers a panicking handler into the usual 500-mapping
// (§4.9: "a handler that throws produces the usual 500-mapping").
func invoke(e entry, ctx *rcontext.Context) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = NotHandled
			err = httperr.HTTPException(500, "handler panicked")
		}
	}()
	return e.handler.Handle(ctx)
}
