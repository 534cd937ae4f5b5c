package dav

import (
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/davstore/davstore/internal/auth"
	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/ical"
	"github.com/davstore/davstore/internal/props"
	"github.com/davstore/davstore/internal/resource"
	"github.com/davstore/davstore/internal/store"
	"github.com/davstore/davstore/internal/vcard"
)

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, urlPath string) error {
	rsrc, err := h.resolve(r, urlPath)
	if err != nil {
		return err
	}

	if rsrc.Kind == resource.KindItem {
		obj, err := rsrc.Parent.Get(r.Context(), rsrc.Name)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", obj.ContentType)
		w.Header().Set("ETag", davxml.ETag(obj.ETag).String())
		if _, modified, err := rsrc.Parent.Times(rsrc.Name); err == nil && !modified.IsZero() {
			w.Header().Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(obj.Data)))
			w.WriteHeader(http.StatusOK)
			return nil
		}
		w.Write(obj.Data)
		return nil
	}

	// A plain index keeps collections navigable from a browser.
	children, err := h.Backend.Children(r.Context(), rsrc)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>%s</title></head><body>\n<h1>%s</h1>\n<ul>\n",
		html.EscapeString(rsrc.Path), html.EscapeString(rsrc.Path))
	for _, child := range children {
		href := h.href(child.Path)
		name := path.Base(strings.TrimSuffix(child.Path, "/"))
		if child.IsCollection() {
			name += "/"
		}
		fmt.Fprintf(w, "<li><a href=\"%s\">%s</a></li>\n",
			html.EscapeString(href), html.EscapeString(name))
	}
	fmt.Fprint(w, "</ul>\n</body></html>\n")
	return nil
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, urlPath string) error {
	if strings.HasSuffix(urlPath, "/") {
		return davxml.HTTPErrorf(http.StatusMethodNotAllowed, "dav: cannot PUT to a collection")
	}
	parent, err := h.resolve(r, parentPath(urlPath))
	if err != nil {
		var httpErr *davxml.HTTPError
		if errors.As(mapError(err), &httpErr) && httpErr.Code == http.StatusNotFound {
			return davxml.HTTPErrorf(http.StatusConflict, "dav: parent collection does not exist")
		}
		return err
	}
	if !parent.AcceptsMembers() {
		return davxml.HTTPErrorf(http.StatusMethodNotAllowed, "dav: parent does not accept members")
	}
	name := path.Base(urlPath)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	if err := h.checkContentType(r, parent, name); err != nil {
		return err
	}
	if err := checkResourceLimits(parent, name, body); err != nil {
		return err
	}

	opts := store.PutOptions{
		Author:  commitAuthor(r),
		Message: "Add/update " + name,
	}
	if v := r.Header.Get("If-Match"); v != "" {
		opts.IfMatch = unquoteETag(v)
	}
	if v := r.Header.Get("If-None-Match"); v != "" {
		if v != "*" {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: unsupported If-None-Match value %q", v)
		}
		opts.IfNoneMatch = true
	}

	created := true
	if _, err := parent.Collection.Get(r.Context(), name); err == nil {
		created = false
	}

	etag, _, err := parent.Collection.Put(r.Context(), name, body, opts)
	if err != nil {
		return mapWriteError(err, parent, name)
	}

	w.Header().Set("ETag", davxml.ETag(etag).String())
	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
	return nil
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, urlPath string) error {
	rsrc, err := h.resolve(r, urlPath)
	if err != nil {
		return err
	}

	switch {
	case rsrc.Kind == resource.KindItem:
		opts := store.DeleteOptions{
			Author:  commitAuthor(r),
			Message: "Delete " + rsrc.Name,
		}
		if v := r.Header.Get("If-Match"); v != "" {
			opts.IfMatch = unquoteETag(v)
		}
		if err := rsrc.Parent.Delete(r.Context(), rsrc.Name, opts); err != nil {
			return err
		}
	case rsrc.IsStore():
		if err := h.Backend.DeleteCollection(rsrc); err != nil {
			return err
		}
	default:
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: refusing to delete %s", rsrc.Path)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handlePost implements add-member (RFC 5995): the server picks the
// member name.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request, urlPath string) error {
	rsrc, err := h.resolve(r, urlPath)
	if err != nil {
		return err
	}
	if !rsrc.AcceptsMembers() {
		return davxml.HTTPErrorf(http.StatusMethodNotAllowed, "dav: resource does not accept members")
	}

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var ext string
	switch contentType {
	case ical.MIMEType:
		ext = ical.Extension
	case vcard.MIMEType:
		ext = vcard.Extension
	default:
		return davxml.HTTPErrorf(http.StatusUnsupportedMediaType, "dav: unsupported content type %q", contentType)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	name := uuid.NewString() + ext
	if err := checkResourceLimits(rsrc, name, body); err != nil {
		return err
	}

	etag, _, err := rsrc.Collection.Put(r.Context(), name, body, store.PutOptions{
		IfNoneMatch: true,
		Author:      commitAuthor(r),
		Message:     "Add " + name,
	})
	if err != nil {
		return mapWriteError(err, rsrc, name)
	}

	w.Header().Set("ETag", davxml.ETag(etag).String())
	w.Header().Set("Location", h.href(rsrc.Path+name))
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (h *Handler) href(p string) string {
	if h.Prefix == "" {
		return p
	}
	return strings.TrimSuffix(h.Prefix, "/") + p
}

func parentPath(urlPath string) string {
	dir := path.Dir(strings.TrimSuffix(urlPath, "/"))
	if dir == "/" {
		return "/"
	}
	return dir + "/"
}

func commitAuthor(r *http.Request) string {
	if a, ok := auth.FromContext(r.Context()); ok {
		return a.UserName
	}
	return ""
}

func unquoteETag(v string) string {
	if v == "*" {
		return "*"
	}
	return strings.Trim(v, `"`)
}

// checkContentType rejects bodies whose declared type contradicts the
// target collection. Lenient mode tolerates a missing header.
func (h *Handler) checkContentType(r *http.Request, parent *resource.Resource, name string) error {
	header := r.Header.Get("Content-Type")
	if header == "" {
		if h.Strict {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: missing Content-Type")
		}
		return nil
	}
	contentType, _, _ := mime.ParseMediaType(header)
	want := store.ContentType(name)
	if want == "application/octet-stream" || contentType == want {
		return nil
	}
	if !h.Strict {
		return nil
	}
	return davxml.HTTPErrorf(http.StatusUnsupportedMediaType,
		"dav: content type %q does not match resource type %q", contentType, want)
}

// checkResourceLimits enforces the collection's size cap and, for
// calendars, the supported component set.
func checkResourceLimits(parent *resource.Resource, name string, body []byte) error {
	if maxSize := props.MaxSize(parent); maxSize > 0 && int64(len(body)) > maxSize {
		condition := davxml.MaxResourceSizeErrorName
		if strings.HasSuffix(name, vcard.Extension) {
			condition = davxml.CardDAVMaxResourceSizeName
		}
		return davxml.NewPreconditionError(http.StatusRequestEntityTooLarge, condition,
			"dav: resource exceeds %d bytes", maxSize)
	}

	if !strings.HasSuffix(name, ical.Extension) {
		return nil
	}
	supported, err := props.SupportedComponents(parent)
	if err != nil {
		return nil
	}
	cal, err := ical.Parse(body)
	if err != nil {
		// Put reports the malformed body with the right condition.
		return nil
	}
	for _, compName := range ical.ComponentNames(cal) {
		ok := false
		for _, s := range supported {
			if s == compName {
				ok = true
				break
			}
		}
		if !ok {
			return davxml.NewPreconditionError(http.StatusForbidden, davxml.SupportedCalendarComponentName,
				"dav: component %q is not supported by this collection", compName)
		}
	}
	return nil
}

// mapWriteError attaches the protocol precondition matching a store
// write failure.
func mapWriteError(err error, parent *resource.Resource, name string) error {
	isCard := strings.HasSuffix(name, vcard.Extension)
	switch {
	case errors.Is(err, store.ErrInvalidFileContents):
		condition := davxml.ValidCalendarDataName
		if isCard {
			condition = davxml.ValidAddressDataName
		}
		return davxml.NewPreconditionError(http.StatusBadRequest, condition,
			"dav: malformed resource body: %v", err)
	case errors.Is(err, store.ErrDuplicateUID):
		condition := davxml.CalDAVNoUIDConflictName
		if isCard {
			condition = davxml.CardDAVNoUIDConflictName
		}
		return davxml.NewPreconditionError(http.StatusConflict, condition,
			"dav: UID already used by another resource")
	default:
		return err
	}
}
