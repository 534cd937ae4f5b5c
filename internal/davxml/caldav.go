package davxml

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Report names dispatched by the REPORT handler.
var (
	CalendarQueryName    = xml.Name{Space: NamespaceCalDAV, Local: "calendar-query"}
	CalendarMultigetName = xml.Name{Space: NamespaceCalDAV, Local: "calendar-multiget"}
	FreeBusyQueryName    = xml.Name{Space: NamespaceCalDAV, Local: "free-busy-query"}
	CalendarDataName     = xml.Name{Space: NamespaceCalDAV, Local: "calendar-data"}
)

// dateWithUTCTime is the "date with UTC time" format of RFC 4791
// section 9.9.
const dateWithUTCTime = "20060102T150405Z"

// FilterTime marshals time-range attributes.
type FilterTime time.Time

func (t FilterTime) IsZero() bool { return time.Time(t).IsZero() }

func (t FilterTime) MarshalText() ([]byte, error) {
	return []byte(time.Time(t).UTC().Format(dateWithUTCTime)), nil
}

func (t *FilterTime) UnmarshalText(b []byte) error {
	tt, err := time.ParseInLocation(dateWithUTCTime, string(b), time.UTC)
	if err != nil {
		return fmt.Errorf("davxml: invalid date with UTC time: %w", err)
	}
	*t = FilterTime(tt)
	return nil
}

// CalendarQuery is the calendar-query REPORT body (RFC 4791 section
// 9.5).
type CalendarQuery struct {
	XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-query"`
	Prop     *Prop    `xml:"DAV: prop"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
	Filter   Filter   `xml:"filter"`
}

// CalendarMultiget is the calendar-multiget REPORT body (RFC 4791
// section 9.10).
type CalendarMultiget struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-multiget"`
	Prop    *Prop    `xml:"DAV: prop"`
	Hrefs   []Href   `xml:"DAV: href"`
}

// FreeBusyQuery is the free-busy-query REPORT body (RFC 4791 section
// 9.11).
type FreeBusyQuery struct {
	XMLName   xml.Name  `xml:"urn:ietf:params:xml:ns:caldav free-busy-query"`
	TimeRange TimeRange `xml:"time-range"`
}

// Filter is the {CALDAV:}filter element (RFC 4791 section 9.7).
type Filter struct {
	XMLName    xml.Name   `xml:"urn:ietf:params:xml:ns:caldav filter"`
	CompFilter CompFilter `xml:"comp-filter"`
}

// CompFilter limits matches to components of a given type
// (RFC 4791 section 9.7.1).
type CompFilter struct {
	XMLName      xml.Name     `xml:"urn:ietf:params:xml:ns:caldav comp-filter"`
	Name         string       `xml:"name,attr"`
	IsNotDefined *struct{}    `xml:"is-not-defined"`
	TimeRange    *TimeRange   `xml:"time-range"`
	PropFilters  []PropFilter `xml:"prop-filter"`
	CompFilters  []CompFilter `xml:"comp-filter"`
}

// PropFilter limits matches to properties of a given name
// (RFC 4791 section 9.7.2).
type PropFilter struct {
	XMLName      xml.Name      `xml:"urn:ietf:params:xml:ns:caldav prop-filter"`
	Name         string        `xml:"name,attr"`
	IsNotDefined *struct{}     `xml:"is-not-defined"`
	TimeRange    *TimeRange    `xml:"time-range"`
	TextMatch    *TextMatch    `xml:"text-match"`
	ParamFilters []ParamFilter `xml:"param-filter"`
}

// ParamFilter limits matches to parameters of a given name
// (RFC 4791 section 9.7.3).
type ParamFilter struct {
	XMLName      xml.Name   `xml:"urn:ietf:params:xml:ns:caldav param-filter"`
	Name         string     `xml:"name,attr"`
	IsNotDefined *struct{}  `xml:"is-not-defined"`
	TextMatch    *TextMatch `xml:"text-match"`
}

// TextMatch is a textual predicate with collation (RFC 4791 section
// 9.7.5; match-type per RFC 6352 section 10.5.1).
type TextMatch struct {
	XMLName         xml.Name `xml:"urn:ietf:params:xml:ns:caldav text-match"`
	Collation       string   `xml:"collation,attr,omitempty"`
	NegateCondition YesNo    `xml:"negate-condition,attr,omitempty"`
	MatchType       string   `xml:"match-type,attr,omitempty"`
	Text            string   `xml:",chardata"`
}

// YesNo is the "yes"/"no" boolean used by negate-condition.
type YesNo bool

func (b YesNo) MarshalText() ([]byte, error) {
	if b {
		return []byte("yes"), nil
	}
	return []byte("no"), nil
}

func (b *YesNo) UnmarshalText(text []byte) error {
	switch string(text) {
	case "yes":
		*b = true
	case "no", "":
		*b = false
	default:
		return fmt.Errorf("davxml: invalid negate-condition value %q", text)
	}
	return nil
}

// TimeRange is the {CALDAV:}time-range element (RFC 4791 section
// 9.9). Unset bounds are open-ended.
type TimeRange struct {
	XMLName xml.Name   `xml:"urn:ietf:params:xml:ns:caldav time-range"`
	Start   FilterTime `xml:"start,attr,omitempty"`
	End     FilterTime `xml:"end,attr,omitempty"`
}

// CalendarData carries serialized calendar data in responses and names
// the request for it in report prop elements (RFC 4791 section 9.6).
type CalendarData struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	Data    []byte   `xml:",chardata"`
}

// Mkcalendar is the MKCALENDAR request body (RFC 4791 section 5.3.1).
type Mkcalendar struct {
	XMLName xml.Name     `xml:"urn:ietf:params:xml:ns:caldav mkcalendar"`
	Set     []PropAction `xml:"DAV: set"`
}

// MkcalendarResponse is the MKCALENDAR response body.
type MkcalendarResponse struct {
	XMLName   xml.Name   `xml:"urn:ietf:params:xml:ns:caldav mkcalendar-response"`
	Propstats []Propstat `xml:"propstat"`
}

// Calendar collection properties.

type CalendarHomeSet struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-home-set"`
	Hrefs   []Href   `xml:"DAV: href"`
}

type CalendarDescription struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-description"`
	Description string   `xml:",chardata"`
}

type CalendarTimezone struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-timezone"`
	Data    string   `xml:",chardata"`
}

type CalendarUserAddressSet struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-user-address-set"`
	Hrefs   []Href   `xml:"DAV: href"`
}

type ScheduleInboxURL struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav schedule-inbox-URL"`
	Href    Href     `xml:"DAV: href"`
}

type ScheduleOutboxURL struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav schedule-outbox-URL"`
	Href    Href     `xml:"DAV: href"`
}

type SupportedCalendarComponentSet struct {
	XMLName xml.Name   `xml:"urn:ietf:params:xml:ns:caldav supported-calendar-component-set"`
	Comp    []CompName `xml:"comp"`
}

type CompName struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav comp"`
	Name    string   `xml:"name,attr"`
}

type SupportedCalendarData struct {
	XMLName xml.Name           `xml:"urn:ietf:params:xml:ns:caldav supported-calendar-data"`
	Types   []CalendarDataType `xml:"calendar-data"`
}

type CalendarDataType struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	ContentType string   `xml:"content-type,attr"`
	Version     string   `xml:"version,attr"`
}

type MaxResourceSize struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav max-resource-size"`
	Size    int64    `xml:",chardata"`
}

// Apple / CalendarServer extensions.

type CalendarColor struct {
	XMLName xml.Name `xml:"http://apple.com/ns/ical/ calendar-color"`
	Color   string   `xml:",chardata"`
}

type CalendarOrder struct {
	XMLName xml.Name `xml:"http://apple.com/ns/ical/ calendar-order"`
	Order   string   `xml:",chardata"`
}

type SubscriptionSource struct {
	XMLName xml.Name `xml:"http://calendarserver.org/ns/ source"`
	Href    Href     `xml:"DAV: href"`
}

type RefreshRate struct {
	XMLName xml.Name `xml:"http://calendarserver.org/ns/ refreshrate"`
	Rate    string   `xml:",chardata"`
}
