package dav

import (
	"net/http"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/resource"
)

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, urlPath string) error {
	rsrc, err := h.resolve(r, urlPath)
	if err != nil {
		return err
	}

	depth, err := requestDepth(r, davxml.DepthZero)
	if err != nil {
		return err
	}

	propfind := &davxml.Propfind{AllProp: &struct{}{}}
	if r.ContentLength != 0 {
		propfind = &davxml.Propfind{}
		if err := davxml.DecodeRequest(r, propfind); err != nil {
			return err
		}
	}

	ms := davxml.NewMultistatus()
	if err := h.propfindResource(r, rsrc, propfind, depth, ms); err != nil {
		return err
	}
	return davxml.ServeMultistatus(w, ms)
}

func (h *Handler) propfindResource(r *http.Request, rsrc *resource.Resource, propfind *davxml.Propfind, depth davxml.Depth, ms *davxml.Multistatus) error {
	resp, err := h.Props.Propfind(r.Context(), h.propContext(r, rsrc), propfind)
	if err != nil {
		return err
	}
	ms.Responses = append(ms.Responses, *resp)

	if depth == davxml.DepthZero || !rsrc.IsCollection() {
		return nil
	}
	childDepth := davxml.DepthZero
	if depth == davxml.DepthInfinity {
		childDepth = davxml.DepthInfinity
	}

	children, err := h.Backend.Children(r.Context(), rsrc)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := h.propfindResource(r, child, propfind, childDepth, ms); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleProppatch(w http.ResponseWriter, r *http.Request, urlPath string) error {
	rsrc, err := h.resolve(r, urlPath)
	if err != nil {
		return err
	}

	var update davxml.PropertyUpdate
	if err := davxml.DecodeRequest(r, &update); err != nil {
		return err
	}

	resp, err := h.Props.Proppatch(r.Context(), h.propContext(r, rsrc), &update)
	if err != nil {
		return err
	}
	return davxml.ServeMultistatus(w, davxml.NewMultistatus(*resp))
}
