package dav

import (
	"net/http"
	"net/url"
	"path"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/resource"
	"github.com/davstore/davstore/internal/store"
)

func (h *Handler) handleCopyMove(w http.ResponseWriter, r *http.Request, urlPath string, move bool) error {
	src, err := h.resolve(r, urlPath)
	if err != nil {
		return err
	}
	if src.Kind != resource.KindItem {
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: collections cannot be copied or moved")
	}

	destPath, err := h.destination(r)
	if err != nil {
		return err
	}
	if destPath == urlPath {
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: source and destination are the same resource")
	}

	destParent, err := h.resolve(r, parentPath(destPath))
	if err != nil {
		return davxml.HTTPErrorf(http.StatusConflict, "dav: destination parent does not exist")
	}
	if !destParent.AcceptsMembers() {
		return davxml.HTTPErrorf(http.StatusConflict, "dav: destination parent does not accept members")
	}
	destName := path.Base(destPath)

	overwrite := r.Header.Get("Overwrite") != "F"
	existed := false
	if _, err := destParent.Collection.Get(r.Context(), destName); err == nil {
		existed = true
		if !overwrite {
			return davxml.HTTPErrorf(http.StatusPreconditionFailed, "dav: destination exists")
		}
	}

	obj, err := src.Parent.Get(r.Context(), src.Name)
	if err != nil {
		return err
	}

	verb := "Copy"
	if move {
		verb = "Move"
	}
	opts := store.PutOptions{
		Author:  commitAuthor(r),
		Message: verb + " " + src.Name + " to " + destName,
	}
	if move && src.Parent == destParent.Collection {
		// A rename within one collection keeps the UID.
		opts.ReplacesName = src.Name
	}
	if _, _, err := destParent.Collection.Put(r.Context(), destName, obj.Data, opts); err != nil {
		return mapWriteError(err, destParent, destName)
	}

	if move {
		if err := src.Parent.Delete(r.Context(), src.Name, store.DeleteOptions{
			Author:  commitAuthor(r),
			Message: "Move " + src.Name + " to " + destName,
		}); err != nil {
			return err
		}
	}

	if existed {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	return nil
}

// destination parses the Destination header down to an internal path.
func (h *Handler) destination(r *http.Request) (string, error) {
	header := r.Header.Get("Destination")
	if header == "" {
		return "", davxml.HTTPErrorf(http.StatusBadRequest, "dav: missing Destination header")
	}
	u, err := url.Parse(header)
	if err != nil {
		return "", davxml.HTTPErrorf(http.StatusBadRequest, "dav: invalid Destination header: %v", err)
	}
	p, ok := h.stripPrefix(u.Path)
	if !ok {
		return "", davxml.HTTPErrorf(http.StatusBadGateway, "dav: destination is outside this server")
	}
	cleaned, err := resource.CleanPath(p)
	if err != nil {
		return "", davxml.HTTPErrorf(http.StatusBadRequest, "dav: invalid Destination path")
	}
	return cleaned, nil
}
