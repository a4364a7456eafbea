// Package bind implements the controller binder: compiling a set of
// controller methods into route.Entry values (§4.7), either via the
// manual fluent wiring API or via a controller's declarative Routes()
// method (the §9 "attribute discovery becomes sugar over it" sugar
// layer). Go retains argument *types* but not argument *names* through
// reflection, so ParamSpec supplies the name/source/required triple the
// original attribute system would have read off each parameter; the
// binder still reflects the method's argument *types* to build the call.
package bind

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	"github.com/curol/httpd/rcontext"
	"github.com/curol/httpd/route"
)

// ParamSpec is the author-declared half of a route.ParamDescriptor: the
// binder fills in Index from position and Type from reflection.
type ParamSpec struct {
	Source   route.ParamSource
	Name     string
	Required bool
	// Type disambiguates overloads in the manual wiring API (§4.7); it is
	// ignored by Register, which reads the real type off the method via
	// reflection. Defaults to string when left nil.
	Type reflect.Type
}

// RouteSpec declares one controller method as a route, in the ASP.NET
// "attribute" style, expressed as plain Go data since Go has no method
// attributes (§9).
type RouteSpec struct {
	Verbs            []string // empty means "*"
	Template         string   // empty synthesizes from the global template
	Method           string   // exported method name, resolved via reflection
	Params           []ParamSpec
	RequiredHandlers []string
}

// RouteProvider is implemented by controllers that want reflection-based
// discovery instead of (or in addition to) manual wiring.
type RouteProvider interface {
	Routes() []RouteSpec
}

// Builder accumulates route.Entry values and performs build-time conflict
// detection before producing an immutable route.Table (§4.7).
type Builder struct {
	caseSensitive  bool
	globalTemplate string
	entries        []*route.Entry
	labels         []string // parallel to entries, for conflict diagnostics
	err            error
}

// Option configures a Builder.
type Option func(*Builder)

// CaseSensitive makes literal template segments match case-sensitively.
func CaseSensitive(v bool) Option { return func(b *Builder) { b.caseSensitive = v } }

// GlobalTemplate sets the fallback template synthesized when a controller
// method declares none, e.g. "{controller}/{action=index}" (§4.7 step 1).
func GlobalTemplate(tpl string) Option { return func(b *Builder) { b.globalTemplate = tpl } }

// NewBuilder returns a Builder with sensible defaults.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{globalTemplate: "{controller}/{action=index}"}
	for _, o := range opts {
		o(b)
	}
	return b
}

// HandlerFunc is the manual-wiring target: a function bound directly to a
// pattern, already typed to accept a Context plus pre-converted argument
// values.
type HandlerFunc func(ctx *rcontext.Context, args []any) (route.Result, error)

// Handle is the manual fluent wiring API (§4.7 "Manual wiring API"):
// pattern is "VERB[|VERB...] /path/{id}", identical path grammar to
// controller-derived routes. params supplies the same name/source/
// required metadata reflection would otherwise have read off attributes.
func (b *Builder) Handle(pattern string, fn HandlerFunc, params ...ParamSpec) *Builder {
	verbs, tpl, err := splitPattern(pattern)
	if err != nil {
		b.err = err
		return b
	}
	compiled, err := route.Compile(tpl, b.caseSensitive)
	if err != nil {
		b.err = err
		return b
	}
	descriptors := make([]route.ParamDescriptor, len(params))
	for i, p := range params {
		t := p.Type
		if t == nil {
			t = reflect.TypeOf("")
		}
		descriptors[i] = route.ParamDescriptor{
			Source: p.Source, Name: p.Name, Required: p.Required, Index: i,
			Type: t,
		}
	}
	entry := &route.Entry{
		Template: compiled,
		Verbs:    verbs,
		Params:   descriptors,
		Handler: route.HandlerFunc(func(args []any) (route.Result, error) {
			ctx, rest := args[0].(*rcontext.Context), args[1:]
			return fn(ctx, rest)
		}),
	}
	b.entries = append(b.entries, entry)
	b.labels = append(b.labels, fmt.Sprintf("manual:%s", pattern))
	return b
}

func splitPattern(pattern string) (verbs map[string]bool, template string, err error) {
	parts := strings.SplitN(pattern, " ", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("bind: malformed pattern %q, want \"VERB /path\"", pattern)
	}
	verbSpec, template := parts[0], parts[1]
	if verbSpec == "*" {
		return nil, template, nil
	}
	verbs = make(map[string]bool)
	for _, v := range strings.Split(verbSpec, "|") {
		verbs[strings.ToUpper(v)] = true
	}
	return verbs, template, nil
}

// Register reflects over controller's exported Routes() declarations and
// appends a route.Entry per declared method (§4.7 steps 1-4). name is the
// controller's name attribute (defaults to the struct's type name
// elsewhere; callers pass it explicitly since Go has no class-attribute
// equivalent).
func (b *Builder) Register(controller RouteProvider, name string) *Builder {
	rv := reflect.ValueOf(controller)
	for _, spec := range controller.Routes() {
		method := rv.MethodByName(spec.Method)
		if !method.IsValid() {
			b.err = fmt.Errorf("bind: controller %s has no method %s", name, spec.Method)
			return b
		}
		mtype := method.Type()
		if mtype.NumIn() < 1 {
			b.err = fmt.Errorf("bind: %s.%s must accept a *rcontext.Context as its first argument", name, spec.Method)
			return b
		}
		tpl := spec.Template
		if tpl == "" {
			tpl = substituteGlobalTemplate(b.globalTemplate, name, spec.Method)
		}
		compiled, err := route.Compile(tpl, b.caseSensitive)
		if err != nil {
			b.err = err
			return b
		}
		wantArgs := mtype.NumIn() - 1
		if len(spec.Params) != wantArgs {
			b.err = fmt.Errorf("bind: %s.%s declares %d params but method takes %d", name, spec.Method, len(spec.Params), wantArgs)
			return b
		}
		descriptors := make([]route.ParamDescriptor, wantArgs)
		for i, p := range spec.Params {
			descriptors[i] = route.ParamDescriptor{
				Source: p.Source, Name: p.Name, Required: resolveRequired(p, compiled),
				Index: i, Type: mtype.In(i + 1),
			}
		}
		var verbs map[string]bool
		if len(spec.Verbs) > 0 {
			verbs = make(map[string]bool, len(spec.Verbs))
			for _, v := range spec.Verbs {
				verbs[strings.ToUpper(v)] = true
			}
		}
		boundMethod := method
		argTypes := make([]reflect.Type, wantArgs)
		for i := range argTypes {
			argTypes[i] = mtype.In(i + 1)
		}
		entry := &route.Entry{
			Template:         compiled,
			Verbs:            verbs,
			Params:           descriptors,
			RequiredHandlers: spec.RequiredHandlers,
			Handler:          newReflectHandler(boundMethod, argTypes, controller, name),
		}
		b.entries = append(b.entries, entry)
		b.labels = append(b.labels, fmt.Sprintf("%s.%s", name, spec.Method))
	}
	return b
}

// resolveRequired decides a param's required flag: a URL-sourced param
// whose template variable is optional (declared with a default or inside a
// [...] group) is never required; every other param keeps the ParamSpec's
// own Required flag.
func resolveRequired(p ParamSpec, compiled *route.Compiled) bool {
	if p.Source != route.SourceURL {
		return p.Required
	}
	if _, isOptional := compiled.VariableDefault(p.Name); isOptional {
		return false
	}
	return p.Required
}

func substituteGlobalTemplate(global, controller, action string) string {
	tpl := strings.ReplaceAll(global, "{controller}", controller)
	tpl = strings.ReplaceAll(tpl, "{action=index}", action)
	tpl = strings.ReplaceAll(tpl, "{action}", action)
	return tpl
}

// newReflectHandler adapts a bound reflect.Value method into route.Handler,
// converting each already-typed arg via reflect so scalar mismatches
// surface as an error instead of a panic. Before invoking the method it
// snapshots controller's exported fields into the request's log-data
// scratchpad (§4.7 "log-data snapshots... built from a bound controller
// method's receiver").
func newReflectHandler(method reflect.Value, argTypes []reflect.Type, controller RouteProvider, name string) route.Handler {
	return route.HandlerFunc(func(args []any) (route.Result, error) {
		ctx := args[0]
		rest := args[1:]
		if len(rest) != len(argTypes) {
			return route.Result{}, fmt.Errorf("bind: argument count mismatch: got %d want %d", len(rest), len(argTypes))
		}
		if rc, ok := ctx.(*rcontext.Context); ok {
			snapshotController(rc, name, controller)
		}
		in := make([]reflect.Value, 0, len(rest)+1)
		in = append(in, reflect.ValueOf(ctx))
		for i, v := range rest {
			rv := reflect.ValueOf(v)
			if !rv.IsValid() {
				rv = reflect.Zero(argTypes[i])
			} else if rv.Type() != argTypes[i] {
				if !rv.Type().ConvertibleTo(argTypes[i]) {
					return route.Result{}, fmt.Errorf("bind: argument %d has type %s, want %s", i, rv.Type(), argTypes[i])
				}
				rv = rv.Convert(argTypes[i])
			}
			in = append(in, rv)
		}
		out := method.Call(in)
		return extractResult(out)
	})
}

// snapshotController turns controller's exported fields into
// controller.<name>.<field> entries on ctx's log-data map via
// github.com/fatih/structs, which already understands embedded fields and
// the struct tag exclusions a hand-rolled reflect walk would have to
// reimplement.
func snapshotController(ctx *rcontext.Context, name string, controller RouteProvider) {
	s := structs.New(controller)
	for _, f := range s.Fields() {
		if !f.IsExported() || f.IsZero() {
			continue
		}
		ctx.SetLogData(fmt.Sprintf("controller.%s.%s", name, f.Name()), fmt.Sprint(f.Value()))
	}
}

func extractResult(out []reflect.Value) (route.Result, error) {
	var result route.Result
	var err error
	for _, v := range out {
		switch x := v.Interface().(type) {
		case route.Result:
			result = x
		case error:
			err = x
		}
	}
	if result.StatusCode == 0 && err == nil {
		result.StatusCode = 200
		result.NoContent = true
	}
	return result, err
}

// Build runs conflict detection (§4.7 "Conflict detection at build time")
// and returns the immutable, precedence-sorted route.Table.
func (b *Builder) Build() (*route.Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	for i := 0; i < len(b.entries); i++ {
		for j := i + 1; j < len(b.entries); j++ {
			if conflicts(b.entries[i], b.entries[j]) {
				return nil, fmt.Errorf("bind: conflicting routes %s and %s both serve an overlapping path+verb with the same parameter count", b.labels[i], b.labels[j])
			}
		}
	}
	return route.NewTable(b.entries), nil
}

// conflicts implements the build-time rule: same normalized template
// source, overlapping verb sets, and equal parameter count after URL
// binding. True regex-intersection detection is not attempted; duplicate
// template sources (compared case-insensitively) are the case this guards
// against.
func conflicts(a, b *route.Entry) bool {
	if !strings.EqualFold(a.Template.Source, b.Template.Source) {
		return false
	}
	if !verbSetsOverlap(a.Verbs, b.Verbs) {
		return false
	}
	return nonURLParamCount(a) == nonURLParamCount(b)
}

func verbSetsOverlap(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return true // wildcard overlaps everything, including itself
	}
	for v := range a {
		if b[v] {
			return true
		}
	}
	return false
}

func nonURLParamCount(e *route.Entry) int {
	n := 0
	for _, p := range e.Params {
		if p.Source != route.SourceURL {
			n++
		}
	}
	return n
}
