package dav

import (
	"errors"
	"net/http"
	"os"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/resource"
)

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request, urlPath string) error {
	kind := resource.KindCollection
	var set []davxml.PropAction

	extended := r.ContentLength != 0
	if extended {
		var mkcol davxml.Mkcol
		if err := davxml.DecodeRequest(r, &mkcol); err != nil {
			return err
		}
		set = mkcol.Set
		kind = kindFromSet(set, kind)
	}

	rsrc, err := h.createCollection(r, urlPath, kind)
	if err != nil {
		return err
	}

	if !extended {
		w.WriteHeader(http.StatusCreated)
		return nil
	}

	resp, err := h.applyInitialProps(r, rsrc, set)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return davxml.ServeXML(w).Encode(&davxml.MkcolResponse{Propstats: resp.Propstats})
}

func (h *Handler) handleMkcalendar(w http.ResponseWriter, r *http.Request, urlPath string) error {
	var set []davxml.PropAction
	if r.ContentLength != 0 {
		var mkcalendar davxml.Mkcalendar
		if err := davxml.DecodeRequest(r, &mkcalendar); err != nil {
			return err
		}
		set = mkcalendar.Set
	}

	rsrc, err := h.createCollection(r, urlPath, resource.KindCalendar)
	if err != nil {
		return err
	}

	if len(set) == 0 {
		w.WriteHeader(http.StatusCreated)
		return nil
	}
	resp, err := h.applyInitialProps(r, rsrc, set)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return davxml.ServeXML(w).Encode(&davxml.MkcalendarResponse{Propstats: resp.Propstats})
}

func (h *Handler) createCollection(r *http.Request, urlPath string, kind resource.Kind) (*resource.Resource, error) {
	rsrc, err := h.Backend.CreateCollection(r.Context(), urlPath, kind)
	switch {
	case err == nil:
		return rsrc, nil
	case errors.Is(err, os.ErrExist), errors.Is(err, resource.ErrConflict):
		// Calendars never hold child collections, so creating below one
		// fails the same way as creating over an existing resource.
		return nil, davxml.HTTPErrorf(http.StatusMethodNotAllowed, "dav: cannot create collection at %s", urlPath)
	case errors.Is(err, resource.ErrNotFound):
		return nil, davxml.HTTPErrorf(http.StatusConflict, "dav: parent collection does not exist")
	default:
		return nil, err
	}
}

// applyInitialProps applies the set instructions of an extended MKCOL
// or MKCALENDAR, skipping resourcetype which was consumed at creation.
func (h *Handler) applyInitialProps(r *http.Request, rsrc *resource.Resource, set []davxml.PropAction) (*davxml.Response, error) {
	update := davxml.PropertyUpdate{}
	for _, action := range set {
		filtered := davxml.PropAction{}
		for _, raw := range action.Prop.Raw {
			if name, ok := raw.XMLName(); ok && name == davxml.ResourceTypeName {
				continue
			}
			filtered.Prop.Raw = append(filtered.Prop.Raw, raw)
		}
		if len(filtered.Prop.Raw) > 0 {
			update.Set = append(update.Set, filtered)
		}
	}
	if len(update.Set) == 0 {
		return davxml.NewOKResponse(h.href(rsrc.Path)), nil
	}
	return h.Props.Proppatch(r.Context(), h.propContext(r, rsrc), &update)
}

func kindFromSet(set []davxml.PropAction, fallback resource.Kind) resource.Kind {
	for _, action := range set {
		raw := action.Prop.Get(davxml.ResourceTypeName)
		if raw == nil {
			continue
		}
		var rt davxml.ResourceType
		if err := raw.Decode(&rt); err != nil {
			continue
		}
		switch {
		case rt.Is(davxml.CalendarName):
			return resource.KindCalendar
		case rt.Is(davxml.AddressbookName):
			return resource.KindAddressbook
		case rt.Is(davxml.SubscribedName):
			return resource.KindSubscription
		}
	}
	return fallback
}
