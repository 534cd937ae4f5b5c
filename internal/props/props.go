// Package props implements the live property registry: discovery
// (PROPFIND) and mutation (PROPPATCH) over resources of every kind.
package props

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"strings"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/resource"
	"github.com/davstore/davstore/internal/store"
)

// ErrNotFound reports a property that does not exist on the resource.
var ErrNotFound = errors.New("props: property not found")

// Context carries the request-scoped inputs of property evaluation.
type Context struct {
	Resource *resource.Resource
	Backend  *resource.Backend

	// Principal is the authenticated principal path, e.g. "/alice/".
	Principal string
	// Prefix is the route prefix prepended to every emitted href.
	Prefix string

	obj *store.Object
}

// Href qualifies an internal path with the route prefix.
func (c *Context) Href(p string) string {
	if c.Prefix == "" {
		return p
	}
	return strings.TrimSuffix(c.Prefix, "/") + p
}

// Object lazily fetches the item body for content-derived properties.
func (c *Context) Object(ctx context.Context) (*store.Object, error) {
	if c.obj != nil {
		return c.obj, nil
	}
	if c.Resource.Kind != resource.KindItem {
		return nil, ErrNotFound
	}
	obj, err := c.Resource.Parent.Get(ctx, c.Resource.Name)
	if err != nil {
		return nil, err
	}
	c.obj = obj
	return obj, nil
}

// GetFunc produces the property value, any value the XML encoder
// accepts. ErrNotFound yields a 404 propstat.
type GetFunc func(ctx context.Context, pctx *Context) (interface{}, error)

// SetFunc applies a PROPPATCH set, or a remove when raw is nil.
type SetFunc func(ctx context.Context, pctx *Context, raw *davxml.RawXMLValue) error

// Property is one live property.
type Property struct {
	Name xml.Name
	// AllProp includes the property in allprop responses.
	AllProp bool
	Get     GetFunc
	// Set is nil for protected properties.
	Set SetFunc
}

// Registry holds the property table.
type Registry struct {
	props map[xml.Name]Property
}

func (r *Registry) register(p Property) {
	r.props[p.Name] = p
}

// Propfind evaluates one PROPFIND body against one resource and
// returns its multistatus response.
func (r *Registry) Propfind(ctx context.Context, pctx *Context, propfind *davxml.Propfind) (*davxml.Response, error) {
	resp := davxml.NewOKResponse(pctx.Href(pctx.Resource.Path))

	if propfind.PropName != nil {
		for name := range r.props {
			if _, err := r.get(ctx, pctx, name); err == nil {
				resp.EncodeProp(http.StatusOK, davxml.NewRawXMLElement(name, nil, nil))
			}
		}
		return resp, nil
	}

	if propfind.AllProp != nil {
		for name, prop := range r.props {
			if !prop.AllProp && !requested(propfind.Include, name) {
				continue
			}
			v, err := r.get(ctx, pctx, name)
			if err != nil {
				continue
			}
			resp.EncodeProp(http.StatusOK, v)
		}
		return resp, nil
	}

	var names []xml.Name
	if propfind.Prop != nil {
		names = propfind.Prop.Names()
	}
	for _, name := range names {
		v, err := r.get(ctx, pctx, name)
		if err != nil {
			resp.EncodeProp(errorCode(err), davxml.NewRawXMLElement(name, nil, nil))
			continue
		}
		resp.EncodeProp(http.StatusOK, v)
	}
	return resp, nil
}

func (r *Registry) get(ctx context.Context, pctx *Context, name xml.Name) (interface{}, error) {
	prop, ok := r.props[name]
	if !ok {
		return nil, ErrNotFound
	}
	v, err := prop.Get(ctx, pctx)
	if err != nil {
		return nil, err
	}
	raw, err := davxml.EncodeRawXMLElement(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Proppatch applies a PROPPATCH atomically: when any instruction
// fails, nothing is applied and the untouched instructions report 424.
func (r *Registry) Proppatch(ctx context.Context, pctx *Context, update *davxml.PropertyUpdate) (*davxml.Response, error) {
	type instruction struct {
		name xml.Name
		raw  *davxml.RawXMLValue
		set  SetFunc
		code int
	}

	var instructions []instruction
	failed := false

	add := func(raw *davxml.RawXMLValue, remove bool) {
		name, ok := raw.XMLName()
		if !ok {
			return
		}
		in := instruction{name: name, code: http.StatusOK}
		if !remove {
			in.raw = raw
		}
		prop, known := r.props[name]
		if known && prop.Set != nil {
			in.set = prop.Set
		} else {
			// Protected and unknown names both refuse the write;
			// dead properties are not stored (RFC 4918 section 9.2.1).
			in.code = http.StatusForbidden
			failed = true
		}
		instructions = append(instructions, in)
	}

	for _, action := range update.Set {
		for i := range action.Prop.Raw {
			add(&action.Prop.Raw[i], false)
		}
	}
	for _, action := range update.Remove {
		for i := range action.Prop.Raw {
			add(&action.Prop.Raw[i], true)
		}
	}

	resp := davxml.NewOKResponse(pctx.Href(pctx.Resource.Path))
	for _, in := range instructions {
		code := in.code
		switch {
		case failed && code == http.StatusOK:
			code = http.StatusFailedDependency
		case !failed:
			if err := in.set(ctx, pctx, in.raw); err != nil {
				code = errorCode(err)
			}
		}
		resp.EncodeProp(code, davxml.NewRawXMLElement(in.name, nil, nil))
	}
	return resp, nil
}

func requested(include *davxml.Include, name xml.Name) bool {
	if include == nil {
		return false
	}
	for _, n := range include.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrReadOnly):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
