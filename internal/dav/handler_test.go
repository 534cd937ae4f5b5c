package dav

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davstore/davstore/internal/auth"
	"github.com/davstore/davstore/internal/config"
	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/filter"
	"github.com/davstore/davstore/internal/props"
	"github.com/davstore/davstore/internal/resource"
)

func newServer(t *testing.T) http.Handler {
	t.Helper()
	h := &Handler{
		Backend: resource.NewBackend(t.TempDir(), config.AutocreateDefaults),
		Props:   props.NewRegistry(),
		Filters: filter.NewManager(5),
		Strict:  true,
	}
	return auth.NewStaticAuth("/alice/").Middleware()(h)
}

// do issues one request; headers are alternating key, value pairs.
func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func eventICS(uid, summary, dtstart, dtend string) string {
	return strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20260101T000000Z",
		"DTSTART:" + dtstart,
		"DTEND:" + dtend,
		"SUMMARY:" + summary,
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
}

func multistatus(t *testing.T, w *httptest.ResponseRecorder) *davxml.Multistatus {
	t.Helper()
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	var ms davxml.Multistatus
	require.NoError(t, xml.Unmarshal(w.Body.Bytes(), &ms))
	return &ms
}

func findResponse(t *testing.T, ms *davxml.Multistatus, href string) *davxml.Response {
	t.Helper()
	for i := range ms.Responses {
		for _, h := range ms.Responses[i].Hrefs {
			if h.Path == href {
				return &ms.Responses[i]
			}
		}
	}
	t.Fatalf("no response for %s in %+v", href, ms.Responses)
	return nil
}

func propRaw(t *testing.T, resp *davxml.Response, code int, name xml.Name) *davxml.RawXMLValue {
	t.Helper()
	for i := range resp.Propstats {
		if resp.Propstats[i].Status.Code != code {
			continue
		}
		if raw := resp.Propstats[i].Prop.Get(name); raw != nil {
			return raw
		}
	}
	t.Fatalf("no %v propstat carrying %v", code, name)
	return nil
}

func TestOptions(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "OPTIONS", "/alice/calendars/calendar/", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("DAV"), "calendar-access")
	assert.Contains(t, w.Header().Get("DAV"), "addressbook")
	assert.Contains(t, w.Header().Get("Allow"), "PROPFIND")
}

func TestOptionsAllowPerResource(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")
	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	// Items take content verbs but no reports or collection creation.
	w = do(t, h, "OPTIONS", "/alice/calendars/calendar/a.ics", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	allow := w.Header().Get("Allow")
	assert.Contains(t, allow, "PUT")
	assert.Contains(t, allow, "MOVE")
	assert.NotContains(t, allow, "REPORT")
	assert.NotContains(t, allow, "MKCALENDAR")

	// Calendar collections take reports and add-member, never PUT.
	w = do(t, h, "OPTIONS", "/alice/calendars/calendar/", "")
	allow = w.Header().Get("Allow")
	assert.Contains(t, allow, "REPORT")
	assert.Contains(t, allow, "POST")
	assert.NotContains(t, allow, "PUT")

	// A missing target only admits creation.
	w = do(t, h, "OPTIONS", "/alice/calendars/new/", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	allow = w.Header().Get("Allow")
	assert.Contains(t, allow, "MKCALENDAR")
	assert.NotContains(t, allow, "GET")
}

func TestIfHeaderRejected(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")

	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar",
		"If", `</alice/calendars/calendar/a.ics> (["abc"])`)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	// Nothing was written.
	w = do(t, h, "GET", "/alice/calendars/calendar/a.ics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLockNotImplemented(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "LOCK", "/alice/calendars/calendar/", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestPutGetDeleteLifecycle(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")

	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	etag := w.Header().Get("ETag")
	assert.True(t, strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`))

	w = do(t, h, "GET", "/alice/calendars/calendar/a.ics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())
	assert.Equal(t, "text/calendar", w.Header().Get("Content-Type"))
	assert.Equal(t, etag, w.Header().Get("ETag"))

	// Updating an existing member reports 204.
	w = do(t, h, "PUT", "/alice/calendars/calendar/a.ics",
		eventICS("uid-1", "Planning v2", "20260401T100000Z", "20260401T110000Z"),
		"Content-Type", "text/calendar")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))

	w = do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar", "If-None-Match", "*")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar", "If-Match", `"bogus"`)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = do(t, h, "DELETE", "/alice/calendars/calendar/a.ics", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/alice/calendars/calendar/a.ics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "DELETE", "/alice/calendars/calendar/a.ics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutRejections(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")

	// Parent collection missing.
	w := do(t, h, "PUT", "/alice/calendars/nope/a.ics", body,
		"Content-Type", "text/calendar")
	assert.Equal(t, http.StatusConflict, w.Code)

	// The home set holds collections, not items.
	w = do(t, h, "PUT", "/alice/calendars/a.ics", body,
		"Content-Type", "text/calendar")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// Malformed body.
	w = do(t, h, "PUT", "/alice/calendars/calendar/bad.ics", "not a calendar",
		"Content-Type", "text/calendar")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "valid-calendar-data")

	// Strict mode requires a Content-Type.
	w = do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Mismatched Content-Type.
	w = do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/vcard")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	// If-Match against a member that does not exist.
	w = do(t, h, "PUT", "/alice/calendars/calendar/absent.ics", body,
		"Content-Type", "text/calendar", "If-Match", `"deadbeef"`)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestPutUIDConflict(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")

	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "PUT", "/alice/calendars/calendar/b.ics", body,
		"Content-Type", "text/calendar")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "no-uid-conflict")
}

func TestMkcalendar(t *testing.T) {
	h := newServer(t)

	w := do(t, h, "MKCALENDAR", "/alice/calendars/work/", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "PROPFIND", "/alice/calendars/work/",
		`<D:propfind xmlns:D="DAV:"><D:prop><D:resourcetype/></D:prop></D:propfind>`,
		"Content-Type", "application/xml", "Depth", "0")
	ms := multistatus(t, w)
	resp := findResponse(t, ms, "/alice/calendars/work/")
	raw := propRaw(t, resp, http.StatusOK, davxml.ResourceTypeName)
	var rt davxml.ResourceType
	require.NoError(t, raw.Decode(&rt))
	assert.True(t, rt.Is(davxml.CollectionName))
	assert.True(t, rt.Is(davxml.CalendarName))

	// Creating over an existing collection fails.
	w = do(t, h, "MKCALENDAR", "/alice/calendars/work/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// Calendars hold items, never subcollections.
	w = do(t, h, "MKCOL", "/alice/calendars/work/sub/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// A missing parent is a conflict.
	w = do(t, h, "MKCALENDAR", "/alice/nowhere/deep/", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExtendedMkcol(t *testing.T) {
	h := newServer(t)

	body := `<D:mkcol xmlns:D="DAV:" xmlns:CR="urn:ietf:params:xml:ns:carddav">
		<D:set><D:prop>
			<D:resourcetype><D:collection/><CR:addressbook/></D:resourcetype>
			<D:displayname>Friends</D:displayname>
		</D:prop></D:set>
	</D:mkcol>`
	w := do(t, h, "MKCOL", "/alice/contacts/friends/", body,
		"Content-Type", "application/xml")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "PROPFIND", "/alice/contacts/friends/",
		`<D:propfind xmlns:D="DAV:"><D:prop><D:resourcetype/><D:displayname/></D:prop></D:propfind>`,
		"Content-Type", "application/xml", "Depth", "0")
	ms := multistatus(t, w)
	resp := findResponse(t, ms, "/alice/contacts/friends/")

	var rt davxml.ResourceType
	require.NoError(t, propRaw(t, resp, http.StatusOK, davxml.ResourceTypeName).Decode(&rt))
	assert.True(t, rt.Is(davxml.AddressbookName))

	var dn davxml.DisplayName
	require.NoError(t, propRaw(t, resp, http.StatusOK, davxml.DisplayNameName).Decode(&dn))
	assert.Equal(t, "Friends", dn.Name)
}

func TestProppatch(t *testing.T) {
	h := newServer(t)

	w := do(t, h, "PROPPATCH", "/alice/calendars/calendar/",
		`<D:propertyupdate xmlns:D="DAV:"><D:set><D:prop>
			<D:displayname>Team Calendar</D:displayname>
		</D:prop></D:set></D:propertyupdate>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 1)
	propRaw(t, &ms.Responses[0], http.StatusOK, davxml.DisplayNameName)

	w = do(t, h, "PROPFIND", "/alice/calendars/calendar/",
		`<D:propfind xmlns:D="DAV:"><D:prop><D:displayname/></D:prop></D:propfind>`,
		"Content-Type", "application/xml", "Depth", "0")
	ms = multistatus(t, w)
	var dn davxml.DisplayName
	require.NoError(t, propRaw(t, &ms.Responses[0], http.StatusOK, davxml.DisplayNameName).Decode(&dn))
	assert.Equal(t, "Team Calendar", dn.Name)
}

func TestProppatchAtomicity(t *testing.T) {
	h := newServer(t)

	// A protected property fails the whole update; the writable
	// instruction reports 424 and is not applied.
	w := do(t, h, "PROPPATCH", "/alice/calendars/calendar/",
		`<D:propertyupdate xmlns:D="DAV:"><D:set><D:prop>
			<D:displayname>Ignored</D:displayname>
			<D:getetag>forged</D:getetag>
		</D:prop></D:set></D:propertyupdate>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 1)
	propRaw(t, &ms.Responses[0], http.StatusForbidden, davxml.GetETagName)
	propRaw(t, &ms.Responses[0], http.StatusFailedDependency, davxml.DisplayNameName)

	w = do(t, h, "PROPFIND", "/alice/calendars/calendar/",
		`<D:propfind xmlns:D="DAV:"><D:prop><D:displayname/></D:prop></D:propfind>`,
		"Content-Type", "application/xml", "Depth", "0")
	ms = multistatus(t, w)
	var dn davxml.DisplayName
	require.NoError(t, propRaw(t, &ms.Responses[0], http.StatusOK, davxml.DisplayNameName).Decode(&dn))
	assert.NotEqual(t, "Ignored", dn.Name)
}

func TestProppatchUnknownProperty(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "PROPPATCH", "/alice/calendars/calendar/",
		`<D:propertyupdate xmlns:D="DAV:" xmlns:X="urn:example:x"><D:set><D:prop>
			<X:madeup>value</X:madeup>
		</D:prop></D:set></D:propertyupdate>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 1)
	// Dead properties are not stored; unknown names refuse the write.
	propRaw(t, &ms.Responses[0], http.StatusForbidden,
		xml.Name{Space: "urn:example:x", Local: "madeup"})
}

func TestPropfindDepthOne(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")
	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	// An empty body is an allprop request.
	w = do(t, h, "PROPFIND", "/alice/calendars/calendar/", "", "Depth", "1")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 2)
	findResponse(t, ms, "/alice/calendars/calendar/")
	item := findResponse(t, ms, "/alice/calendars/calendar/a.ics")
	propRaw(t, item, http.StatusOK, davxml.GetETagName)
}

func TestPropfindMissingItem(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "PROPFIND", "/alice/calendars/calendar/missing.ics",
		`<D:propfind xmlns:D="DAV:"><D:prop><D:getetag/></D:prop></D:propfind>`,
		"Content-Type", "application/xml", "Depth", "0")
	assert.Equal(t, http.StatusNotFound, w.Code,
		"a member that does not exist has no properties to report")
}

func TestPropfindCurrentUserPrincipal(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "PROPFIND", "/",
		`<D:propfind xmlns:D="DAV:"><D:prop><D:current-user-principal/></D:prop></D:propfind>`,
		"Content-Type", "application/xml", "Depth", "0")
	ms := multistatus(t, w)
	var cup davxml.CurrentUserPrincipal
	require.NoError(t, propRaw(t, &ms.Responses[0], http.StatusOK,
		xml.Name{Space: davxml.NamespaceDAV, Local: "current-user-principal"}).Decode(&cup))
	require.NotNil(t, cup.Href)
	assert.Equal(t, "/alice/", cup.Href.Path)
}

func TestCalendarQueryReport(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "PUT", "/alice/calendars/calendar/april.ics",
		eventICS("uid-1", "In", "20260401T100000Z", "20260401T110000Z"),
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, h, "PUT", "/alice/calendars/calendar/may.ics",
		eventICS("uid-2", "Out", "20260501T100000Z", "20260501T110000Z"),
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
			<D:prop><D:getetag/><C:calendar-data/></D:prop>
			<C:filter><C:comp-filter name="VCALENDAR">
				<C:comp-filter name="VEVENT">
					<C:time-range start="20260401T000000Z" end="20260402T000000Z"/>
				</C:comp-filter>
			</C:comp-filter></C:filter>
		</C:calendar-query>`,
		"Content-Type", "application/xml", "Depth", "1")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 1)
	resp := findResponse(t, ms, "/alice/calendars/calendar/april.ics")
	propRaw(t, resp, http.StatusOK, davxml.GetETagName)

	var data davxml.CalendarData
	require.NoError(t, propRaw(t, resp, http.StatusOK, davxml.CalendarDataName).Decode(&data))
	assert.Contains(t, string(data.Data), "BEGIN:VCALENDAR")
	assert.Contains(t, string(data.Data), "UID:uid-1")
}

func TestCalendarMultigetReport(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics",
		eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z"),
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
			<D:prop><D:getetag/></D:prop>
			<D:href>/alice/calendars/calendar/a.ics</D:href>
			<D:href>/alice/calendars/calendar/missing.ics</D:href>
		</C:calendar-multiget>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 2)

	propRaw(t, findResponse(t, ms, "/alice/calendars/calendar/a.ics"), http.StatusOK, davxml.GetETagName)
	missing := findResponse(t, ms, "/alice/calendars/calendar/missing.ics")
	require.NotNil(t, missing.Status)
	assert.Equal(t, http.StatusNotFound, missing.Status.Code)
}

func TestAddressbookQueryReport(t *testing.T) {
	h := newServer(t)
	vcf := func(uid, fn, email string) string {
		return strings.Join([]string{
			"BEGIN:VCARD",
			"VERSION:3.0",
			"UID:" + uid,
			"FN:" + fn,
			"EMAIL:" + email,
			"END:VCARD",
			"",
		}, "\r\n")
	}
	w := do(t, h, "PUT", "/alice/contacts/addressbook/alice.vcf",
		vcf("card-1", "Alice Example", "alice@example.com"),
		"Content-Type", "text/vcard")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, h, "PUT", "/alice/contacts/addressbook/bob.vcf",
		vcf("card-2", "Bob Example", "bob@example.com"),
		"Content-Type", "text/vcard")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "REPORT", "/alice/contacts/addressbook/",
		`<CR:addressbook-query xmlns:D="DAV:" xmlns:CR="urn:ietf:params:xml:ns:carddav">
			<D:prop><D:getetag/><CR:address-data/></D:prop>
			<CR:filter>
				<CR:prop-filter name="FN"><CR:text-match>alice</CR:text-match></CR:prop-filter>
			</CR:filter>
		</CR:addressbook-query>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 1)
	resp := findResponse(t, ms, "/alice/contacts/addressbook/alice.vcf")

	var data davxml.AddressData
	require.NoError(t, propRaw(t, resp, http.StatusOK, davxml.AddressDataName).Decode(&data))
	assert.Contains(t, string(data.Data), "FN:Alice Example")
}

func TestSyncCollectionReport(t *testing.T) {
	h := newServer(t)
	for _, name := range []string{"a", "b"} {
		w := do(t, h, "PUT", "/alice/calendars/calendar/"+name+".ics",
			eventICS("uid-"+name, "Event", "20260401T100000Z", "20260401T110000Z"),
			"Content-Type", "text/calendar")
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<D:sync-collection xmlns:D="DAV:">
			<D:sync-token></D:sync-token>
			<D:sync-level>1</D:sync-level>
			<D:prop><D:getetag/></D:prop>
		</D:sync-collection>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 2)
	token := ms.SyncToken
	require.True(t, strings.HasPrefix(token, "davstore-v1:"), token)

	// Modify one member, delete the other.
	w = do(t, h, "PUT", "/alice/calendars/calendar/a.ics",
		eventICS("uid-a", "Event v2", "20260401T100000Z", "20260401T110000Z"),
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, h, "DELETE", "/alice/calendars/calendar/b.ics", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<D:sync-collection xmlns:D="DAV:">
			<D:sync-token>`+token+`</D:sync-token>
			<D:sync-level>1</D:sync-level>
			<D:prop><D:getetag/></D:prop>
		</D:sync-collection>`,
		"Content-Type", "application/xml")
	ms = multistatus(t, w)
	require.Len(t, ms.Responses, 2)
	assert.NotEqual(t, token, ms.SyncToken)

	propRaw(t, findResponse(t, ms, "/alice/calendars/calendar/a.ics"), http.StatusOK, davxml.GetETagName)
	deleted := findResponse(t, ms, "/alice/calendars/calendar/b.ics")
	require.NotNil(t, deleted.Status)
	assert.Equal(t, http.StatusNotFound, deleted.Status.Code)

	// A token from another universe is rejected.
	w = do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<D:sync-collection xmlns:D="DAV:">
			<D:sync-token>garbage</D:sync-token>
			<D:sync-level>1</D:sync-level>
		</D:sync-collection>`,
		"Content-Type", "application/xml")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "valid-sync-token")
}

func TestSyncCollectionAddressbook(t *testing.T) {
	h := newServer(t)
	card := strings.Join([]string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"UID:card-1",
		"FN:Ada Lovelace",
		"END:VCARD",
		"",
	}, "\r\n")
	w := do(t, h, "PUT", "/alice/contacts/addressbook/ada.vcf", card,
		"Content-Type", "text/vcard")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "REPORT", "/alice/contacts/addressbook/",
		`<D:sync-collection xmlns:D="DAV:" xmlns:CR="urn:ietf:params:xml:ns:carddav">
			<D:sync-token></D:sync-token>
			<D:sync-level>1</D:sync-level>
			<D:prop><D:getetag/><CR:address-data/></D:prop>
		</D:sync-collection>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 1)

	resp := findResponse(t, ms, "/alice/contacts/addressbook/ada.vcf")
	var data davxml.AddressData
	require.NoError(t, propRaw(t, resp, http.StatusOK, davxml.AddressDataName).Decode(&data))
	assert.Contains(t, string(data.Data), "FN:Ada Lovelace")
}

func TestSyncCollectionTruncation(t *testing.T) {
	h := newServer(t)
	for _, name := range []string{"a", "b", "c"} {
		w := do(t, h, "PUT", "/alice/calendars/calendar/"+name+".ics",
			eventICS("uid-"+name, "Event", "20260401T100000Z", "20260401T110000Z"),
			"Content-Type", "text/calendar")
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<D:sync-collection xmlns:D="DAV:">
			<D:sync-token></D:sync-token>
			<D:sync-level>1</D:sync-level>
			<D:limit><D:nresults>1</D:nresults></D:limit>
			<D:prop><D:getetag/></D:prop>
		</D:sync-collection>`,
		"Content-Type", "application/xml")
	ms := multistatus(t, w)
	require.Len(t, ms.Responses, 2, "one change plus the truncation marker")

	// A truncated reply carries no token; the client must restart.
	assert.Empty(t, ms.SyncToken)
	marker := ms.Responses[len(ms.Responses)-1]
	require.NotNil(t, marker.Status)
	assert.Equal(t, http.StatusInsufficientStorage, marker.Status.Code)
}

func TestFreeBusyReport(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics",
		eventICS("uid-1", "Busy", "20260402T100000Z", "20260402T110000Z"),
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<C:free-busy-query xmlns:C="urn:ietf:params:xml:ns:caldav">
			<C:time-range start="20260401T000000Z" end="20260430T000000Z"/>
		</C:free-busy-query>`,
		"Content-Type", "application/xml")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/calendar", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "BEGIN:VFREEBUSY")
	assert.Contains(t, w.Body.String(), "FREEBUSY:20260402T100000Z/20260402T110000Z")
}

func TestUnknownReport(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "REPORT", "/alice/calendars/calendar/",
		`<X:made-up xmlns:X="urn:example:nope"/>`,
		"Content-Type", "application/xml")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMoveRename(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")
	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "MOVE", "/alice/calendars/calendar/a.ics", "",
		"Destination", "http://example.com/alice/calendars/calendar/b.ics")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "GET", "/alice/calendars/calendar/a.ics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, h, "GET", "/alice/calendars/calendar/b.ics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())
}

func TestCopySameCollectionConflicts(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")
	w := do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	// A copy would duplicate the UID inside one collection.
	w = do(t, h, "COPY", "/alice/calendars/calendar/a.ics", "",
		"Destination", "/alice/calendars/calendar/c.ics")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCopyAcrossCollections(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "MKCALENDAR", "/alice/calendars/work/", "")
	require.Equal(t, http.StatusCreated, w.Code)

	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")
	w = do(t, h, "PUT", "/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "COPY", "/alice/calendars/calendar/a.ics", "",
		"Destination", "/alice/calendars/work/a.ics")
	require.Equal(t, http.StatusCreated, w.Code)

	// Overwrite refused when the destination exists.
	w = do(t, h, "COPY", "/alice/calendars/calendar/a.ics", "",
		"Destination", "/alice/calendars/work/a.ics", "Overwrite", "F")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	// Both copies exist.
	w = do(t, h, "GET", "/alice/calendars/work/a.ics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, "GET", "/alice/calendars/calendar/a.ics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAddMemberPost(t *testing.T) {
	h := newServer(t)
	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")

	w := do(t, h, "POST", "/alice/calendars/calendar/", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/alice/calendars/calendar/"), location)
	require.True(t, strings.HasSuffix(location, ".ics"), location)
	assert.NotEmpty(t, w.Header().Get("ETag"))

	w = do(t, h, "GET", location, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())

	// The server refuses bodies it has no member type for.
	w = do(t, h, "POST", "/alice/calendars/calendar/", "whatever",
		"Content-Type", "text/plain")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestDeleteCollectionViaHTTP(t *testing.T) {
	h := newServer(t)
	w := do(t, h, "MKCALENDAR", "/alice/calendars/work/", "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "DELETE", "/alice/calendars/work/", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, h, "PROPFIND", "/alice/calendars/work/", "", "Depth", "0")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Principal directories are not deletable.
	w = do(t, h, "DELETE", "/alice/", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoutePrefix(t *testing.T) {
	inner := &Handler{
		Backend: resource.NewBackend(t.TempDir(), config.AutocreateDefaults),
		Props:   props.NewRegistry(),
		Filters: filter.NewManager(5),
		Prefix:  "/dav",
		Strict:  true,
	}
	h := auth.NewStaticAuth("/alice/").Middleware()(inner)

	body := eventICS("uid-1", "Planning", "20260401T100000Z", "20260401T110000Z")
	w := do(t, h, "PUT", "/dav/alice/calendars/calendar/a.ics", body,
		"Content-Type", "text/calendar")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "GET", "/alice/calendars/calendar/a.ics", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "unprefixed paths fall outside the route")

	w = do(t, h, "PROPFIND", "/dav/alice/calendars/calendar/", "", "Depth", "1")
	ms := multistatus(t, w)
	findResponse(t, ms, "/dav/alice/calendars/calendar/a.ics")
}
