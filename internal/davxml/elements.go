package davxml

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Qualified names referenced across packages.
var (
	ResourceTypeName   = xml.Name{Space: NamespaceDAV, Local: "resourcetype"}
	DisplayNameName    = xml.Name{Space: NamespaceDAV, Local: "displayname"}
	GetETagName        = xml.Name{Space: NamespaceDAV, Local: "getetag"}
	GetContentTypeName = xml.Name{Space: NamespaceDAV, Local: "getcontenttype"}

	CollectionName  = xml.Name{Space: NamespaceDAV, Local: "collection"}
	PrincipalName   = xml.Name{Space: NamespaceDAV, Local: "principal"}
	CalendarName    = xml.Name{Space: NamespaceCalDAV, Local: "calendar"}
	AddressbookName = xml.Name{Space: NamespaceCardDAV, Local: "addressbook"}
	ScheduleInboxName  = xml.Name{Space: NamespaceCalDAV, Local: "schedule-inbox"}
	ScheduleOutboxName = xml.Name{Space: NamespaceCalDAV, Local: "schedule-outbox"}
	SubscribedName     = xml.Name{Space: NamespaceCalendarServer, Local: "subscribed"}

	SyncCollectionName  = xml.Name{Space: NamespaceDAV, Local: "sync-collection"}
	ExpandPropertyName  = xml.Name{Space: NamespaceDAV, Local: "expand-property"}
	PrincipalMatchName  = xml.Name{Space: NamespaceDAV, Local: "principal-match"}

	ValidSyncTokenName = xml.Name{Space: NamespaceDAV, Local: "valid-sync-token"}
	NumberOfMatchesWithinLimitsName = xml.Name{Space: NamespaceDAV, Local: "number-of-matches-within-limits"}

	CalDAVNoUIDConflictName  = xml.Name{Space: NamespaceCalDAV, Local: "no-uid-conflict"}
	CardDAVNoUIDConflictName = xml.Name{Space: NamespaceCardDAV, Local: "no-uid-conflict"}
	ValidCalendarDataName    = xml.Name{Space: NamespaceCalDAV, Local: "valid-calendar-data"}
	ValidAddressDataName     = xml.Name{Space: NamespaceCardDAV, Local: "valid-address-data"}
	SupportedCalendarComponentName = xml.Name{Space: NamespaceCalDAV, Local: "supported-calendar-component"}
	MaxResourceSizeErrorName       = xml.Name{Space: NamespaceCalDAV, Local: "max-resource-size"}
	CardDAVMaxResourceSizeName     = xml.Name{Space: NamespaceCardDAV, Local: "max-resource-size"}
)

// Status is a HTTP status line inside a multistatus body.
type Status struct {
	Code int
	Text string
}

func (s *Status) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	text := s.Text
	if text == "" {
		text = http.StatusText(s.Code)
	}
	return e.EncodeElement(fmt.Sprintf("HTTP/1.1 %v %v", s.Code, text), start)
}

func (s *Status) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	var proto string
	if _, err := fmt.Sscanf(raw, "%s %d", &proto, &s.Code); err != nil {
		return fmt.Errorf("davxml: invalid status line %q", raw)
	}
	return nil
}

// Href is a {DAV:}href element.
type Href struct {
	XMLName xml.Name `xml:"DAV: href"`
	Path    string   `xml:",chardata"`
}

// Multistatus is the composite 207 body. The response list keeps
// insertion order; propstats inside each response are kept sorted by
// status code for reproducible encodings.
type Multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []Response `xml:"response"`
	SyncToken string     `xml:"sync-token,omitempty"`
}

func NewMultistatus(resps ...Response) *Multistatus {
	return &Multistatus{Responses: resps}
}

// Response is one per-resource outcome.
type Response struct {
	XMLName             xml.Name   `xml:"DAV: response"`
	Hrefs               []Href     `xml:"href"`
	Propstats           []Propstat `xml:"propstat,omitempty"`
	Status              *Status    `xml:"status,omitempty"`
	Error               *Error     `xml:"error,omitempty"`
	ResponseDescription string     `xml:"responsedescription,omitempty"`
}

// NewOKResponse creates an empty response for the given href.
func NewOKResponse(path string) *Response {
	return &Response{Hrefs: []Href{{Path: path}}}
}

// NewErrorResponse creates a status-only response, e.g. a tombstone.
func NewErrorResponse(path string, code int) *Response {
	return &Response{
		Hrefs:  []Href{{Path: path}},
		Status: &Status{Code: code},
	}
}

// EncodeProp adds a property value under the propstat for code,
// creating it when needed and keeping propstats ordered by code.
func (resp *Response) EncodeProp(code int, v interface{}) error {
	raw, err := EncodeRawXMLElement(v)
	if err != nil {
		return err
	}

	for i := range resp.Propstats {
		if resp.Propstats[i].Status.Code == code {
			resp.Propstats[i].Prop.Raw = append(resp.Propstats[i].Prop.Raw, *raw)
			return nil
		}
	}

	resp.Propstats = append(resp.Propstats, Propstat{
		Prop:   Prop{Raw: []RawXMLValue{*raw}},
		Status: Status{Code: code},
	})
	sort.Slice(resp.Propstats, func(i, j int) bool {
		return resp.Propstats[i].Status.Code < resp.Propstats[j].Status.Code
	})
	return nil
}

// Propstat groups properties sharing an outcome.
type Propstat struct {
	XMLName xml.Name `xml:"DAV: propstat"`
	Prop    Prop     `xml:"prop"`
	Status  Status   `xml:"status"`
	Error   *Error   `xml:"error,omitempty"`
}

// Prop is a bag of property elements.
type Prop struct {
	XMLName xml.Name      `xml:"DAV: prop"`
	Raw     []RawXMLValue `xml:",any"`
}

// Names returns the qualified names of the contained properties.
func (p *Prop) Names() []xml.Name {
	var names []xml.Name
	for _, raw := range p.Raw {
		if name, ok := raw.XMLName(); ok {
			names = append(names, name)
		}
	}
	return names
}

// Get returns the raw child with the given name.
func (p *Prop) Get(name xml.Name) *RawXMLValue {
	for i := range p.Raw {
		if n, ok := p.Raw[i].XMLName(); ok && n == name {
			return &p.Raw[i]
		}
	}
	return nil
}

// Include names the extra properties an allprop response must carry
// (RFC 4918 section 14.8).
type Include struct {
	XMLName xml.Name      `xml:"DAV: include"`
	Raw     []RawXMLValue `xml:",any"`
}

// Names returns the qualified names of the included properties.
func (i *Include) Names() []xml.Name {
	var names []xml.Name
	for _, raw := range i.Raw {
		if name, ok := raw.XMLName(); ok {
			names = append(names, name)
		}
	}
	return names
}

// Propfind is a {DAV:}propfind request body (RFC 4918 section 14.20).
type Propfind struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	Prop     *Prop     `xml:"DAV: prop"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	Include  *Include  `xml:"DAV: include"`
	PropName *struct{} `xml:"DAV: propname"`
}

// PropertyUpdate is a {DAV:}propertyupdate request body (RFC 4918
// section 14.19).
type PropertyUpdate struct {
	XMLName xml.Name     `xml:"DAV: propertyupdate"`
	Set     []PropAction `xml:"set"`
	Remove  []PropAction `xml:"remove"`
}

// PropAction is one set or remove instruction.
type PropAction struct {
	Prop Prop `xml:"DAV: prop"`
}

// ResourceType is the {DAV:}resourcetype value.
type ResourceType struct {
	XMLName xml.Name      `xml:"DAV: resourcetype"`
	Raw     []RawXMLValue `xml:",any"`
}

// NewResourceType builds a resourcetype containing the given names.
func NewResourceType(names ...xml.Name) *ResourceType {
	var raw []RawXMLValue
	for _, name := range names {
		raw = append(raw, *NewRawXMLElement(name, nil, nil))
	}
	return &ResourceType{Raw: raw}
}

// Is reports whether the resourcetype contains name.
func (t *ResourceType) Is(name xml.Name) bool {
	for _, raw := range t.Raw {
		if n, ok := raw.XMLName(); ok && n == name {
			return true
		}
	}
	return false
}

// Error is a {DAV:}error element with precondition children
// (RFC 4918 section 14.5).
type Error struct {
	XMLName xml.Name      `xml:"DAV: error"`
	Raw     []RawXMLValue `xml:",any"`
}

// NewError builds an error element holding the named precondition.
func NewError(condition xml.Name) *Error {
	return &Error{Raw: []RawXMLValue{*NewRawXMLElement(condition, nil, nil)}}
}

// NewPreconditionError builds an HTTPError carrying a precondition
// element per RFC 4918 section 16.
func NewPreconditionError(code int, condition xml.Name, format string, a ...interface{}) *HTTPError {
	return &HTTPError{
		Code:      code,
		Err:       fmt.Errorf(format, a...),
		Condition: NewError(condition),
	}
}

// ETag is a strong entity tag. The wire form is quoted.
type ETag string

func (etag ETag) String() string {
	return fmt.Sprintf("%q", string(etag))
}

func (etag ETag) MarshalText() ([]byte, error) {
	return []byte(etag.String()), nil
}

func (etag *ETag) UnmarshalText(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("davxml: malformed ETag %q", s)
	}
	*etag = ETag(s[1 : len(s)-1])
	return nil
}

// Typed live property values.

type DisplayName struct {
	XMLName xml.Name `xml:"DAV: displayname"`
	Name    string   `xml:",chardata"`
}

type GetETag struct {
	XMLName xml.Name `xml:"DAV: getetag"`
	ETag    ETag     `xml:",chardata"`
}

type GetContentLength struct {
	XMLName xml.Name `xml:"DAV: getcontentlength"`
	Length  int64    `xml:",chardata"`
}

type GetContentType struct {
	XMLName xml.Name `xml:"DAV: getcontenttype"`
	Type    string   `xml:",chardata"`
}

type GetLastModified struct {
	XMLName xml.Name `xml:"DAV: getlastmodified"`
	Time    Time     `xml:",chardata"`
}

type CreationDate struct {
	XMLName xml.Name `xml:"DAV: creationdate"`
	Time    string   `xml:",chardata"` // RFC 3339
}

// Time marshals in the RFC 1123 form getlastmodified requires.
type Time time.Time

func (t Time) MarshalText() ([]byte, error) {
	return []byte(time.Time(t).UTC().Format(http.TimeFormat)), nil
}

func (t *Time) UnmarshalText(b []byte) error {
	tt, err := http.ParseTime(string(b))
	if err != nil {
		return err
	}
	*t = Time(tt)
	return nil
}

type CurrentUserPrincipal struct {
	XMLName         xml.Name  `xml:"DAV: current-user-principal"`
	Href            *Href     `xml:"href"`
	Unauthenticated *struct{} `xml:"unauthenticated"`
}

type PrincipalURL struct {
	XMLName xml.Name `xml:"DAV: principal-URL"`
	Href    Href     `xml:"href"`
}

type Owner struct {
	XMLName xml.Name `xml:"DAV: owner"`
	Href    Href     `xml:"href"`
}

type AddMember struct {
	XMLName xml.Name `xml:"DAV: add-member"`
	Href    Href     `xml:"href"`
}

type SupportedLock struct {
	XMLName xml.Name `xml:"DAV: supportedlock"`
}

type LockDiscovery struct {
	XMLName xml.Name `xml:"DAV: lockdiscovery"`
}

type SyncTokenProp struct {
	XMLName xml.Name `xml:"DAV: sync-token"`
	Token   string   `xml:",chardata"`
}

type GetCTag struct {
	XMLName xml.Name `xml:"http://calendarserver.org/ns/ getctag"`
	CTag    string   `xml:",chardata"`
}

// SupportedReportSet advertises the reports a collection accepts
// (RFC 3253 section 3.1.5).
type SupportedReportSet struct {
	XMLName         xml.Name          `xml:"DAV: supported-report-set"`
	SupportedReport []SupportedReport `xml:"supported-report"`
}

type SupportedReport struct {
	XMLName xml.Name   `xml:"DAV: supported-report"`
	Report  ReportName `xml:"report"`
}

type ReportName struct {
	XMLName xml.Name    `xml:"DAV: report"`
	Raw     RawXMLValue `xml:",any"`
}

func NewSupportedReportSet(names ...xml.Name) *SupportedReportSet {
	var set SupportedReportSet
	for _, name := range names {
		set.SupportedReport = append(set.SupportedReport, SupportedReport{
			Report: ReportName{Raw: *NewRawXMLElement(name, nil, nil)},
		})
	}
	return &set
}

// SyncCollectionQuery is the sync-collection REPORT body (RFC 6578
// section 3.2).
type SyncCollectionQuery struct {
	XMLName   xml.Name `xml:"DAV: sync-collection"`
	SyncToken string   `xml:"sync-token"`
	SyncLevel string   `xml:"sync-level"`
	Limit     *Limit   `xml:"limit"`
	Prop      *Prop    `xml:"DAV: prop"`
}

type Limit struct {
	XMLName  xml.Name `xml:"DAV: limit"`
	NResults uint     `xml:"nresults"`
}

// ExpandPropertyQuery is the expand-property REPORT body (RFC 3253
// section 3.8).
type ExpandPropertyQuery struct {
	XMLName    xml.Name         `xml:"DAV: expand-property"`
	Properties []ExpandProperty `xml:"property"`
}

type ExpandProperty struct {
	XMLName    xml.Name         `xml:"DAV: property"`
	Name       string           `xml:"name,attr"`
	Namespace  string           `xml:"namespace,attr"`
	Properties []ExpandProperty `xml:"property"`
}

// PrincipalMatchQuery is the principal-match REPORT body (RFC 3744
// section 9.3).
type PrincipalMatchQuery struct {
	XMLName             xml.Name     `xml:"DAV: principal-match"`
	Self                *struct{}    `xml:"self"`
	PrincipalProperties *RawXMLValue `xml:"principal-property"`
}

// Mkcol is the extended MKCOL request body (RFC 5689).
type Mkcol struct {
	XMLName xml.Name     `xml:"DAV: mkcol"`
	Set     []PropAction `xml:"set"`
}

// MkcolResponse is the extended MKCOL response body.
type MkcolResponse struct {
	XMLName   xml.Name   `xml:"DAV: mkcol-response"`
	Propstats []Propstat `xml:"propstat"`
}
