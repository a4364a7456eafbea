// Package dispatch implements the router dispatcher (§4.8): matching the
// request path+verb against a route.Table, binding each parameter, and
// invoking the matched controller method.
package dispatch

import (
	"io"
	"reflect"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"

	"github.com/curol/httpd/body"
	"github.com/curol/httpd/handler"
	"github.com/curol/httpd/header"
	"github.com/curol/httpd/httperr"
	"github.com/curol/httpd/rcontext"
	"github.com/curol/httpd/route"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Limits bounds body access triggered lazily during dispatch (Form/Body
// sources may have to parse the body for the first time, §4.8 step 4).
type Limits struct {
	MaxURLEncodedFormSize int64
	MaxPostSize           int64
}

// Dispatcher matches requests against a route.Table and invokes the
// bound handler.
type Dispatcher struct {
	table  *route.Table
	limits Limits
}

// New returns a Dispatcher over table.
func New(table *route.Table, limits Limits) *Dispatcher {
	return &Dispatcher{table: table, limits: limits}
}

// Dispatch implements §4.8 steps 1-7, returning the matched method's
// route.Result or an *httperr.Error for the connection loop to map. It
// does not write to ctx.Res; AsHandler renders the result.
func (d *Dispatcher) Dispatch(ctx *rcontext.Context) (route.Result, error) {
	pathMatchedSomeVerb := false
	for _, entry := range d.table.Entries() {
		captures, ok := entry.Template.Match(ctx.Req.Path)
		if !ok {
			continue
		}
		if !entry.MatchesVerb(ctx.Req.Method) {
			pathMatchedSomeVerb = true
			continue
		}
		return d.invoke(ctx, entry, captures)
	}
	if pathMatchedSomeVerb {
		return route.Result{}, httperr.New(httperr.MethodNotAllowed, "path matched but no method accepts this verb")
	}
	return route.Result{}, httperr.New(httperr.NotFound, "no route matches this path")
}

func (d *Dispatcher) invoke(ctx *rcontext.Context, entry *route.Entry, captures map[string]string) (route.Result, error) {
	for _, required := range entry.RequiredHandlers {
		if !ctx.HasModule(required) {
			return route.Result{}, httperr.HTTPException(500, "route requires handler "+required+" earlier in the stack")
		}
	}

	args := make([]any, 0, len(entry.Params)+1)
	args = append(args, ctx)
	for _, p := range entry.Params {
		v, err := d.bindParam(ctx, entry, p, captures)
		if err != nil {
			return route.Result{}, err
		}
		args = append(args, v)
	}
	return entry.Handler.Invoke(args)
}

func (d *Dispatcher) bindParam(ctx *rcontext.Context, entry *route.Entry, p route.ParamDescriptor, captures map[string]string) (any, error) {
	switch p.Source {
	case route.SourceContext:
		return ctx, nil
	case route.SourceURL:
		raw, present := captures[p.Name]
		if !present {
			if def, isOptional := entry.Template.VariableDefault(p.Name); isOptional {
				raw = def
			} else if p.Required {
				return nil, httperr.New(httperr.BadRequest, "missing required url parameter "+p.Name)
			}
		}
		return convertScalar(raw, p.Type)
	case route.SourceQuery:
		if !isBasicKind(p.Type) {
			return bindComplexMap(ctx.Req.Query, p)
		}
		raw, present := ctx.Req.Query[p.Name]
		if !present && p.Required {
			return nil, httperr.New(httperr.BadRequest, "missing required query parameter "+p.Name)
		}
		return convertScalar(raw, p.Type)
	case route.SourceHeader:
		raw := ctx.Req.Headers.Get(p.Name)
		if raw == "" && p.Required {
			return nil, httperr.New(httperr.BadRequest, "missing required header "+p.Name)
		}
		return convertScalar(raw, p.Type)
	case route.SourceForm:
		if err := d.ensureFormParsed(ctx); err != nil {
			return nil, err
		}
		if isBasicKind(p.Type) {
			raw, present := ctx.Req.Form[p.Name]
			if !present && p.Required {
				return nil, httperr.New(httperr.BadRequest, "missing required form field "+p.Name)
			}
			return convertScalar(raw, p.Type)
		}
		return d.bindComplexForm(ctx, p)
	case route.SourceBody:
		return d.bindBody(ctx, p)
	case route.SourceDefault:
		if isBasicKind(p.Type) {
			raw, present := ctx.Req.Query[p.Name]
			if !present && p.Required {
				return nil, httperr.New(httperr.BadRequest, "missing required parameter "+p.Name)
			}
			return convertScalar(raw, p.Type)
		}
		return d.bindBody(ctx, p)
	default:
		return nil, httperr.HTTPException(500, "unknown parameter source")
	}
}

// ensureFormParsed triggers the body decode the first time a Form-sourced
// parameter is bound, respecting the configured size limit (§4.8 step 4
// "Form: ... trigger parse now, respecting size limits").
func (d *Dispatcher) ensureFormParsed(ctx *rcontext.Context) error {
	if ctx.Req.FormParsed() {
		return nil
	}
	if ctx.Req.Body == nil {
		ctx.Req.MarkFormParsed()
		return nil
	}
	mediaType, params := ctx.Req.Headers.ContentType()
	if !body.IsURLEncodedForm(mediaType) {
		ctx.Req.MarkFormParsed()
		return nil
	}
	charset := header.Charset(mediaType, params)
	values, err := body.DecodeURLEncodedForm(ctx.Req.Body, d.limits.MaxURLEncodedFormSize, charset)
	if err != nil {
		return err
	}
	ctx.Req.Form = values
	ctx.Req.MarkFormParsed()
	return nil
}

// bindComplexMap decodes a flat string-keyed map (query parameters) into a
// declared struct type with github.com/mitchellh/mapstructure, which
// already handles the string→scalar weak-typing conversion a hand-rolled
// walk of the map would otherwise need (§4.7).
func bindComplexMap(values header.Values, p route.ParamDescriptor) (any, error) {
	target := reflect.New(p.Type)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target.Interface(),
	})
	if err != nil {
		return nil, httperr.Wrap(httperr.Internal, "could not build query decoder", err)
	}
	if err := dec.Decode(map[string]string(values)); err != nil {
		return nil, httperr.Wrap(httperr.BadRequest, "could not bind query parameters to parameter type", err)
	}
	return target.Elem().Interface(), nil
}

func (d *Dispatcher) bindComplexForm(ctx *rcontext.Context, p route.ParamDescriptor) (any, error) {
	target := reflect.New(p.Type)
	if err := body.DecodeURLEncodedFormInto(ctx.Req.Form.Encode(), target.Interface()); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

// bindBody deserializes the full body as JSON into the declared type
// (§4.8 step 4 "Body: deserialize the full body as JSON").
func (d *Dispatcher) bindBody(ctx *rcontext.Context, p route.ParamDescriptor) (any, error) {
	if ctx.Req.Body == nil {
		if p.Required {
			return nil, httperr.New(httperr.BadRequest, "missing required body")
		}
		return reflect.Zero(p.Type).Interface(), nil
	}
	target := reflect.New(p.Type)
	dec := jsonAPI.NewDecoder(ctx.Req.Body)
	if err := dec.Decode(target.Interface()); err != nil {
		if err == io.EOF && !p.Required {
			return reflect.Zero(p.Type).Interface(), nil
		}
		return nil, httperr.Wrap(httperr.BadRequest, "could not decode JSON body", err)
	}
	return target.Elem().Interface(), nil
}

func isBasicKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return true
	default:
		return false
	}
}

// AsHandler adapts the Dispatcher into a handler.Handler, the role §4.9
// describes as "the router is itself a handler and is usually last".
func (d *Dispatcher) AsHandler() handler.Handler {
	return handler.HandlerFunc(func(ctx *rcontext.Context) (handler.Outcome, error) {
		result, err := d.Dispatch(ctx)
		if err != nil {
			return handler.NotHandled, err
		}
		if err := render(ctx, result); err != nil {
			return handler.NotHandled, err
		}
		return handler.Handled, nil
	})
}

// render writes a route.Result into ctx.Res (§4.8 step 6).
func render(ctx *rcontext.Context, result route.Result) error {
	if result.RedirectTo != "" {
		if err := ctx.Res.SetStatus(302, ""); err != nil {
			return err
		}
		if err := ctx.Res.SetHeader("Location", result.RedirectTo); err != nil {
			return err
		}
		return ctx.Res.FlushHeadersOnly()
	}
	if result.StatusCode != 0 {
		if err := ctx.Res.SetStatus(result.StatusCode, ""); err != nil {
			return err
		}
	}
	if result.NoContent || len(result.Body) == 0 {
		return ctx.Res.FlushHeadersOnly()
	}
	if result.ContentType != "" {
		ctx.Res.ContentType = result.ContentType
	}
	ctx.Res.ContentLength = int64(len(result.Body))
	_, err := ctx.Res.Write(result.Body)
	return err
}

// convertScalar converts a captured/query/header/form string to t,
// returning a 400-mapped error on failure (§4.8 step 5).
func convertScalar(raw string, t reflect.Type) (any, error) {
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if raw == "" {
			return reflect.Zero(t).Interface(), nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, httperr.Wrap(httperr.BadRequest, "could not parse integer parameter", err)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if raw == "" {
			return reflect.Zero(t).Interface(), nil
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, httperr.Wrap(httperr.BadRequest, "could not parse integer parameter", err)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Float32, reflect.Float64:
		if raw == "" {
			return reflect.Zero(t).Interface(), nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, httperr.Wrap(httperr.BadRequest, "could not parse float parameter", err)
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	case reflect.Bool:
		if raw == "" {
			return false, nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, httperr.Wrap(httperr.BadRequest, "could not parse boolean parameter", err)
		}
		return v, nil
	default:
		return nil, httperr.HTTPException(500, "unsupported scalar parameter type "+t.String())
	}
}
