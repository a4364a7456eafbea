// Package rcontext defines the per-request Context threaded explicitly
// through handlers and bound controller methods — the §9 rearchitecture
// of an AsyncLocal-based "current context" into an explicit argument.
package rcontext

import (
	"context"
	"sync"
	"time"

	"github.com/curol/httpd/httpmsg"
)

// SessionStore is the pluggable backend behind Context.Session (§6
// handler contract: "session (opaque key→string map)").
type SessionStore interface {
	Get(sessionID string) (map[string]string, error)
	Save(sessionID string, data map[string]string) error
}

// Context is the single explicit argument carrying everything a handler
// or bound controller method needs: the request, the response, the
// session projection, a log-data scratchpad, and the list of handler
// names that already ran (for required-handler markers, §4.8 step 2).
type Context struct {
	context.Context

	Req *httpmsg.Request
	Res *httpmsg.Response

	sessionID    string
	sessionStore SessionStore

	mu      sync.Mutex
	logData map[string]string
	modules []string

	resetDeadline func(time.Duration)
}

// New builds a Context. resetDeadline is invoked by ResetProcessingDeadline
// and is supplied by the connection loop (§4.4: "Handlers may reset this
// deadline via an explicit API").
func New(parent context.Context, req *httpmsg.Request, res *httpmsg.Response, sessionID string, store SessionStore, resetDeadline func(time.Duration)) *Context {
	return &Context{
		Context:       parent,
		Req:           req,
		Res:           res,
		sessionID:     sessionID,
		sessionStore:  store,
		logData:       make(map[string]string),
		resetDeadline: resetDeadline,
	}
}

// Session returns the opaque key→string map for this request's session.
func (c *Context) Session() (map[string]string, error) {
	if c.sessionStore == nil {
		return map[string]string{}, nil
	}
	return c.sessionStore.Get(c.sessionID)
}

// SaveSession persists data back to the session store.
func (c *Context) SaveSession(data map[string]string) error {
	if c.sessionStore == nil {
		return nil
	}
	return c.sessionStore.Save(c.sessionID, data)
}

// LogData exposes the mutable key→string map handlers may annotate for
// the post-dispatch logger call (§6 Logger contract).
func (c *Context) LogData() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]string, len(c.logData))
	for k, v := range c.logData {
		cp[k] = v
	}
	return cp
}

// SetLogData annotates the log-data scratchpad.
func (c *Context) SetLogData(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logData[key] = value
}

// MarkModuleRan records that a handler-stack entry with this name ran
// for this request, for required-handler-marker checks (§4.8 step 2).
func (c *Context) MarkModuleRan(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, name)
}

// LoadedModules returns the handler names that ran before this point.
func (c *Context) LoadedModules() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]string, len(c.modules))
	copy(cp, c.modules)
	return cp
}

// HasModule reports whether name already ran.
func (c *Context) HasModule(name string) bool {
	for _, m := range c.LoadedModules() {
		if m == name {
			return true
		}
	}
	return false
}

// ResetProcessingDeadline pushes the max_processing_time deadline out by
// d from now (§4.4, §8 boundary scenario 6).
func (c *Context) ResetProcessingDeadline(d time.Duration) {
	if c.resetDeadline != nil {
		c.resetDeadline(d)
	}
}
