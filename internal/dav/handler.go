// Package dav implements the WebDAV, CalDAV and CardDAV verbs over the
// resource graph: discovery, mutation, namespace operations and
// reports.
package dav

import (
	"errors"
	"net/http"
	"strings"

	"github.com/davstore/davstore/internal/auth"
	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/filter"
	"github.com/davstore/davstore/internal/props"
	"github.com/davstore/davstore/internal/resource"
	"github.com/davstore/davstore/internal/store"
	"github.com/davstore/davstore/pkg/logger"
)

// capabilities advertised in the DAV response header.
const davCapabilities = "1, 3, access-control, calendar-access, addressbook, extended-mkcol, calendar-schedule"

// Handler serves the full verb set for one data root.
type Handler struct {
	Logger  *logger.Logger
	Backend *resource.Backend
	Props   *props.Registry
	Filters *filter.Manager

	// Prefix is the route prefix expected on request paths and
	// prepended to every emitted href.
	Prefix string
	// Strict rejects requests with protocol deviations tolerated
	// otherwise, e.g. a missing Content-Type on PUT.
	Strict bool
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath, ok := h.stripPrefix(r.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if r.Header.Get("If") != "" {
		// Tagged-list conditions are never interpreted; locks are
		// absent, so no token can match (RFC 4918 section 10.4).
		h.serveError(w, r, davxml.HTTPErrorf(http.StatusPreconditionFailed,
			"dav: If header conditions are not supported"))
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	if principal != "" {
		if err := h.Backend.Autocreate(principal); err != nil {
			h.serveError(w, r, err)
			return
		}
	}

	var err error
	switch r.Method {
	case http.MethodOptions:
		err = h.handleOptions(w, r, urlPath)
	case http.MethodGet, http.MethodHead:
		err = h.handleGet(w, r, urlPath)
	case http.MethodPut:
		err = h.handlePut(w, r, urlPath)
	case http.MethodDelete:
		err = h.handleDelete(w, r, urlPath)
	case http.MethodPost:
		err = h.handlePost(w, r, urlPath)
	case "PROPFIND":
		err = h.handlePropfind(w, r, urlPath)
	case "PROPPATCH":
		err = h.handleProppatch(w, r, urlPath)
	case "MKCOL":
		err = h.handleMkcol(w, r, urlPath)
	case "MKCALENDAR":
		err = h.handleMkcalendar(w, r, urlPath)
	case "COPY":
		err = h.handleCopyMove(w, r, urlPath, false)
	case "MOVE":
		err = h.handleCopyMove(w, r, urlPath, true)
	case "REPORT":
		err = h.handleReport(w, r, urlPath)
	case "LOCK", "UNLOCK":
		err = davxml.HTTPErrorf(http.StatusNotImplemented, "dav: locking is not supported")
	default:
		err = davxml.HTTPErrorf(http.StatusMethodNotAllowed, "dav: unsupported method %q", r.Method)
	}
	if err != nil {
		h.serveError(w, r, err)
	}
}

func (h *Handler) stripPrefix(p string) (string, bool) {
	if h.Prefix == "" {
		return p, true
	}
	prefix := strings.TrimSuffix(h.Prefix, "/")
	if p == prefix {
		return "/", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return strings.TrimPrefix(p, prefix), true
	}
	return "", false
}

// propContext builds the property evaluation context for a resource.
func (h *Handler) propContext(r *http.Request, rsrc *resource.Resource) *props.Context {
	return &props.Context{
		Resource:  rsrc,
		Backend:   h.Backend,
		Principal: auth.PrincipalFromContext(r.Context()),
		Prefix:    h.Prefix,
	}
}

func (h *Handler) resolve(r *http.Request, urlPath string) (*resource.Resource, error) {
	rsrc, err := h.Backend.Resolve(r.Context(), urlPath)
	if err != nil {
		return nil, mapError(err)
	}
	return rsrc, nil
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request, urlPath string) error {
	w.Header().Set("DAV", davCapabilities)

	rsrc, err := h.resolve(r, urlPath)
	var allow string
	switch {
	case err != nil:
		var httpErr *davxml.HTTPError
		if !errors.As(err, &httpErr) || httpErr.Code != http.StatusNotFound {
			return err
		}
		// The target can only come into being through a create.
		allow = "OPTIONS, PUT, MKCOL, MKCALENDAR"
	case rsrc.Kind == resource.KindItem:
		allow = "OPTIONS, GET, HEAD, PUT, DELETE, COPY, MOVE, PROPFIND, PROPPATCH"
	case rsrc.IsStore():
		allow = "OPTIONS, GET, HEAD, DELETE, POST, PROPFIND, PROPPATCH, REPORT"
	default:
		allow = "OPTIONS, GET, HEAD, PROPFIND, PROPPATCH, REPORT"
	}
	w.Header().Set("Allow", allow)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) serveError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := davxml.HTTPErrorFromError(mapError(err))
	if httpErr.Code >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("dav - request failed",
			logger.Err(err), "method", r.Method, "path", r.URL.Path)
	}
	davxml.ServeError(w, httpErr)
}

// mapError translates storage and resolution failures into protocol
// outcomes. Errors already carrying a status pass through.
func mapError(err error) error {
	var httpErr *davxml.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &httpErr):
		return err
	case errors.Is(err, resource.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNotStore):
		return &davxml.HTTPError{Code: http.StatusNotFound, Err: err}
	case errors.Is(err, resource.ErrConflict):
		return &davxml.HTTPError{Code: http.StatusConflict, Err: err}
	case errors.Is(err, store.ErrInvalidETag):
		return &davxml.HTTPError{Code: http.StatusPreconditionFailed, Err: err}
	case errors.Is(err, store.ErrReadOnly):
		return &davxml.HTTPError{Code: http.StatusForbidden, Err: err}
	case errors.Is(err, store.ErrStaleToken):
		return &davxml.HTTPError{
			Code:      http.StatusForbidden,
			Err:       err,
			Condition: davxml.NewError(davxml.ValidSyncTokenName),
		}
	default:
		return err
	}
}

func requestDepth(r *http.Request, fallback davxml.Depth) (davxml.Depth, error) {
	s := r.Header.Get("Depth")
	if s == "" {
		return fallback, nil
	}
	depth, err := davxml.ParseDepth(s)
	if err != nil {
		return 0, davxml.HTTPErrorf(http.StatusBadRequest, "dav: %v", err)
	}
	return depth, nil
}
