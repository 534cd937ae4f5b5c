package dav

import (
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/filter"
	"github.com/davstore/davstore/internal/freebusy"
	"github.com/davstore/davstore/internal/ical"
	"github.com/davstore/davstore/internal/resource"
	"github.com/davstore/davstore/internal/store"
	"github.com/davstore/davstore/internal/vcard"
)

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, urlPath string) error {
	rsrc, err := h.resolve(r, urlPath)
	if err != nil {
		return err
	}

	var raw davxml.RawXMLValue
	if err := davxml.DecodeRequest(r, &raw); err != nil {
		return err
	}
	name, ok := raw.XMLName()
	if !ok {
		return davxml.HTTPErrorf(http.StatusBadRequest, "dav: empty REPORT body")
	}

	switch name {
	case davxml.CalendarQueryName:
		var q davxml.CalendarQuery
		if err := raw.Decode(&q); err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: malformed calendar-query: %v", err)
		}
		return h.reportCalendarQuery(w, r, rsrc, &q)
	case davxml.CalendarMultigetName:
		var q davxml.CalendarMultiget
		if err := raw.Decode(&q); err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: malformed calendar-multiget: %v", err)
		}
		return h.reportMultiget(w, r, q.Hrefs, q.Prop, davxml.CalendarDataName)
	case davxml.AddressbookQueryName:
		var q davxml.AddressbookQuery
		if err := raw.Decode(&q); err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: malformed addressbook-query: %v", err)
		}
		return h.reportAddressbookQuery(w, r, rsrc, &q)
	case davxml.AddressbookMultigetName:
		var q davxml.AddressbookMultiget
		if err := raw.Decode(&q); err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: malformed addressbook-multiget: %v", err)
		}
		return h.reportMultiget(w, r, q.Hrefs, q.Prop, davxml.AddressDataName)
	case davxml.FreeBusyQueryName:
		var q davxml.FreeBusyQuery
		if err := raw.Decode(&q); err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: malformed free-busy-query: %v", err)
		}
		return h.reportFreeBusy(w, r, rsrc, &q)
	case davxml.SyncCollectionName:
		var q davxml.SyncCollectionQuery
		if err := raw.Decode(&q); err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: malformed sync-collection: %v", err)
		}
		return h.reportSyncCollection(w, r, rsrc, &q)
	case davxml.ExpandPropertyName:
		var q davxml.ExpandPropertyQuery
		if err := raw.Decode(&q); err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: malformed expand-property: %v", err)
		}
		return h.reportExpandProperty(w, r, rsrc, &q)
	case davxml.PrincipalMatchName:
		return h.reportPrincipalMatch(w, r)
	default:
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: unsupported report %s", name.Local)
	}
}

// itemResponse builds one multistatus response for an item, honouring a
// request for inline body data via dataName.
func (h *Handler) itemResponse(r *http.Request, item *resource.Resource, prop *davxml.Prop, dataName xml.Name) (*davxml.Response, error) {
	propfind := &davxml.Propfind{AllProp: &struct{}{}}
	wantData := false
	if prop != nil {
		filtered := &davxml.Prop{}
		for _, raw := range prop.Raw {
			if name, ok := raw.XMLName(); ok && name == dataName {
				wantData = true
				continue
			}
			filtered.Raw = append(filtered.Raw, raw)
		}
		propfind = &davxml.Propfind{Prop: filtered}
	}

	resp, err := h.Props.Propfind(r.Context(), h.propContext(r, item), propfind)
	if err != nil {
		return nil, err
	}
	if wantData {
		obj, err := item.Parent.Get(r.Context(), item.Name)
		if err != nil {
			return nil, err
		}
		var v interface{}
		if dataName == davxml.AddressDataName {
			v = &davxml.AddressData{Data: obj.Data}
		} else {
			v = &davxml.CalendarData{Data: obj.Data}
		}
		if err := resp.EncodeProp(http.StatusOK, v); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func itemResource(col *store.Collection, colPath, name string) *resource.Resource {
	return &resource.Resource{
		Path:   colPath + name,
		Kind:   resource.KindItem,
		Parent: col,
		Name:   name,
	}
}

func (h *Handler) reportCalendarQuery(w http.ResponseWriter, r *http.Request, rsrc *resource.Resource, q *davxml.CalendarQuery) error {
	ms := davxml.NewMultistatus()

	switch {
	case rsrc.Kind == resource.KindItem:
		obj, err := rsrc.Parent.Get(r.Context(), rsrc.Name)
		if err != nil {
			return err
		}
		cal, err := ical.Parse(obj.Data)
		if err != nil {
			return err
		}
		match, err := filter.MatchCalendar(q.Filter, cal)
		if err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: bad filter: %v", err)
		}
		if match {
			resp, err := h.itemResponse(r, rsrc, q.Prop, davxml.CalendarDataName)
			if err != nil {
				return err
			}
			ms.Responses = append(ms.Responses, *resp)
		}
	case rsrc.IsStore():
		matched, err := h.Filters.MatchCalendar(r.Context(), rsrc.Collection, q.Filter)
		if err != nil {
			return err
		}
		for _, member := range matched {
			item := itemResource(rsrc.Collection, rsrc.Path, member.Name)
			resp, err := h.itemResponse(r, item, q.Prop, davxml.CalendarDataName)
			if err != nil {
				return err
			}
			ms.Responses = append(ms.Responses, *resp)
		}
	default:
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: calendar-query targets a calendar collection")
	}

	return davxml.ServeMultistatus(w, ms)
}

func (h *Handler) reportAddressbookQuery(w http.ResponseWriter, r *http.Request, rsrc *resource.Resource, q *davxml.AddressbookQuery) error {
	if !rsrc.IsStore() {
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: addressbook-query targets an addressbook collection")
	}

	members, err := rsrc.Collection.Members(r.Context())
	if err != nil {
		return err
	}

	ms := davxml.NewMultistatus()
	for _, member := range members {
		if !strings.HasSuffix(member.Name, vcard.Extension) {
			continue
		}
		if q.Limit != nil && uint(len(ms.Responses)) >= q.Limit.NResults {
			break
		}
		obj, err := rsrc.Collection.Get(r.Context(), member.Name)
		if err != nil {
			return err
		}
		card, err := vcard.Parse(obj.Data)
		if err != nil {
			continue
		}
		match, err := filter.MatchCard(q.Filter, card)
		if err != nil {
			return davxml.HTTPErrorf(http.StatusBadRequest, "dav: bad filter: %v", err)
		}
		if !match {
			continue
		}
		item := itemResource(rsrc.Collection, rsrc.Path, member.Name)
		resp, err := h.itemResponse(r, item, q.Prop, davxml.AddressDataName)
		if err != nil {
			return err
		}
		ms.Responses = append(ms.Responses, *resp)
	}
	return davxml.ServeMultistatus(w, ms)
}

func (h *Handler) reportMultiget(w http.ResponseWriter, r *http.Request, hrefs []davxml.Href, prop *davxml.Prop, dataName xml.Name) error {
	ms := davxml.NewMultistatus()
	for _, href := range hrefs {
		p, ok := h.stripPrefix(href.Path)
		if !ok {
			ms.Responses = append(ms.Responses, *davxml.NewErrorResponse(href.Path, http.StatusNotFound))
			continue
		}
		item, err := h.Backend.Resolve(r.Context(), p)
		if err != nil || item.Kind != resource.KindItem {
			ms.Responses = append(ms.Responses, *davxml.NewErrorResponse(href.Path, http.StatusNotFound))
			continue
		}
		resp, err := h.itemResponse(r, item, prop, dataName)
		if err != nil {
			ms.Responses = append(ms.Responses, *davxml.NewErrorResponse(href.Path, http.StatusNotFound))
			continue
		}
		ms.Responses = append(ms.Responses, *resp)
	}
	return davxml.ServeMultistatus(w, ms)
}

func (h *Handler) reportFreeBusy(w http.ResponseWriter, r *http.Request, rsrc *resource.Resource, q *davxml.FreeBusyQuery) error {
	if !rsrc.IsStore() || rsrc.Kind == resource.KindAddressbook {
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: free-busy-query targets a calendar collection")
	}

	start := time.Time(q.TimeRange.Start)
	end := time.Time(q.TimeRange.End)
	cal, err := freebusy.Generate(r.Context(), rsrc.Collection, start, end)
	if err != nil {
		return err
	}

	data, err := ical.Encode(cal)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", ical.MIMEType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return nil
}

func (h *Handler) reportSyncCollection(w http.ResponseWriter, r *http.Request, rsrc *resource.Resource, q *davxml.SyncCollectionQuery) error {
	if !rsrc.IsStore() {
		return davxml.HTTPErrorf(http.StatusForbidden, "dav: sync-collection targets a versioned collection")
	}

	changes, newToken, err := rsrc.Collection.Changes(q.SyncToken)
	if err != nil {
		return err
	}

	truncated := false
	if q.Limit != nil && uint(len(changes)) > q.Limit.NResults {
		changes = changes[:q.Limit.NResults]
		truncated = true
	}

	dataName := davxml.CalendarDataName
	if rsrc.Kind == resource.KindAddressbook {
		dataName = davxml.AddressDataName
	}

	ms := davxml.NewMultistatus()
	for _, change := range changes {
		href := h.href(rsrc.Path + change.Name)
		if change.Kind == store.ChangeDeleted {
			ms.Responses = append(ms.Responses, *davxml.NewErrorResponse(href, http.StatusNotFound))
			continue
		}
		item := itemResource(rsrc.Collection, rsrc.Path, change.Name)
		resp, err := h.itemResponse(r, item, q.Prop, dataName)
		if err != nil {
			ms.Responses = append(ms.Responses, *davxml.NewErrorResponse(href, http.StatusNotFound))
			continue
		}
		ms.Responses = append(ms.Responses, *resp)
	}

	if truncated {
		// The commit-based token cannot express a partial state, so the
		// truncated reply omits sync-token and flags the cut.
		resp := davxml.NewErrorResponse(h.href(rsrc.Path), http.StatusInsufficientStorage)
		resp.Error = davxml.NewError(davxml.NumberOfMatchesWithinLimitsName)
		ms.Responses = append(ms.Responses, *resp)
	} else {
		ms.SyncToken = newToken
	}
	return davxml.ServeMultistatus(w, ms)
}

// reportExpandProperty resolves href-valued properties into inline
// responses, one level of hrefs per nesting level requested.
func (h *Handler) reportExpandProperty(w http.ResponseWriter, r *http.Request, rsrc *resource.Resource, q *davxml.ExpandPropertyQuery) error {
	resp, err := h.expandResource(r, rsrc, q.Properties, 0)
	if err != nil {
		return err
	}
	return davxml.ServeMultistatus(w, davxml.NewMultistatus(*resp))
}

const maxExpandDepth = 8

func (h *Handler) expandResource(r *http.Request, rsrc *resource.Resource, properties []davxml.ExpandProperty, depth int) (*davxml.Response, error) {
	resp := davxml.NewOKResponse(h.href(rsrc.Path))
	for _, p := range properties {
		name := xml.Name{Space: p.Namespace, Local: p.Name}
		if name.Space == "" {
			name.Space = davxml.NamespaceDAV
		}

		propfind := &davxml.Propfind{Prop: &davxml.Prop{Raw: []davxml.RawXMLValue{*davxml.NewRawXMLElement(name, nil, nil)}}}
		inner, err := h.Props.Propfind(r.Context(), h.propContext(r, rsrc), propfind)
		if err != nil {
			return nil, err
		}

		value := findPropValue(inner, name)
		if value == nil {
			resp.EncodeProp(http.StatusNotFound, davxml.NewRawXMLElement(name, nil, nil))
			continue
		}
		if len(p.Properties) == 0 || depth >= maxExpandDepth {
			resp.EncodeProp(http.StatusOK, value)
			continue
		}

		expanded, err := h.expandHrefs(r, value, p.Properties, depth+1)
		if err != nil {
			return nil, err
		}
		resp.EncodeProp(http.StatusOK, expanded)
	}
	return resp, nil
}

// expandHrefs replaces the href children of value with full responses
// carrying the nested properties.
func (h *Handler) expandHrefs(r *http.Request, value *davxml.RawXMLValue, nested []davxml.ExpandProperty, depth int) (*davxml.RawXMLValue, error) {
	name, _ := value.XMLName()
	var children []davxml.RawXMLValue
	for _, child := range value.Children() {
		childName, ok := child.XMLName()
		if !ok || childName != (xml.Name{Space: davxml.NamespaceDAV, Local: "href"}) {
			children = append(children, child)
			continue
		}

		p, ok := h.stripPrefix(child.Text())
		if !ok {
			children = append(children, child)
			continue
		}
		target, err := h.Backend.Resolve(r.Context(), p)
		if err != nil {
			children = append(children, child)
			continue
		}
		resp, err := h.expandResource(r, target, nested, depth)
		if err != nil {
			return nil, err
		}
		raw, err := davxml.EncodeRawXMLElement(resp)
		if err != nil {
			return nil, err
		}
		children = append(children, *raw)
	}
	return davxml.NewRawXMLElement(name, nil, children), nil
}

func findPropValue(resp *davxml.Response, name xml.Name) *davxml.RawXMLValue {
	for i := range resp.Propstats {
		if resp.Propstats[i].Status.Code != http.StatusOK {
			continue
		}
		if raw := resp.Propstats[i].Prop.Get(name); raw != nil {
			return raw
		}
	}
	return nil
}

// reportPrincipalMatch returns the principals the current user
// matches, which is exactly the authenticated principal.
func (h *Handler) reportPrincipalMatch(w http.ResponseWriter, r *http.Request) error {
	ms := davxml.NewMultistatus()
	if principal := h.propContext(r, &resource.Resource{Path: "/", Kind: resource.KindRoot}).Principal; principal != "" {
		ms.Responses = append(ms.Responses, *davxml.NewErrorResponse(h.href(principal), http.StatusOK))
	}
	return davxml.ServeMultistatus(w, ms)
}
