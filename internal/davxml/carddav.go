package davxml

import "encoding/xml"

var (
	AddressbookQueryName    = xml.Name{Space: NamespaceCardDAV, Local: "addressbook-query"}
	AddressbookMultigetName = xml.Name{Space: NamespaceCardDAV, Local: "addressbook-multiget"}
	AddressDataName         = xml.Name{Space: NamespaceCardDAV, Local: "address-data"}
)

// AddressbookQuery is the addressbook-query REPORT body (RFC 6352
// section 10.3).
type AddressbookQuery struct {
	XMLName xml.Name          `xml:"urn:ietf:params:xml:ns:carddav addressbook-query"`
	Prop    *Prop             `xml:"DAV: prop"`
	Filter  AddressbookFilter `xml:"filter"`
	Limit   *Limit            `xml:"limit"`
}

// AddressbookMultiget is the addressbook-multiget REPORT body
// (RFC 6352 section 10.7).
type AddressbookMultiget struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav addressbook-multiget"`
	Prop    *Prop    `xml:"DAV: prop"`
	Hrefs   []Href   `xml:"DAV: href"`
}

// AddressbookFilter is the {CARDDAV:}filter element (RFC 6352 section
// 10.5). The test attribute selects anyof/allof combination.
type AddressbookFilter struct {
	XMLName     xml.Name          `xml:"urn:ietf:params:xml:ns:carddav filter"`
	Test        string            `xml:"test,attr,omitempty"`
	PropFilters []CardPropFilter  `xml:"prop-filter"`
}

// CardPropFilter limits matches to vCard properties of a given name
// (RFC 6352 section 10.5.1).
type CardPropFilter struct {
	XMLName      xml.Name          `xml:"urn:ietf:params:xml:ns:carddav prop-filter"`
	Name         string            `xml:"name,attr"`
	Test         string            `xml:"test,attr,omitempty"`
	IsNotDefined *struct{}         `xml:"is-not-defined"`
	TextMatches  []CardTextMatch   `xml:"text-match"`
	ParamFilters []CardParamFilter `xml:"param-filter"`
}

// CardParamFilter limits matches to vCard parameters (RFC 6352
// section 10.5.2).
type CardParamFilter struct {
	XMLName      xml.Name       `xml:"urn:ietf:params:xml:ns:carddav param-filter"`
	Name         string         `xml:"name,attr"`
	IsNotDefined *struct{}      `xml:"is-not-defined"`
	TextMatch    *CardTextMatch `xml:"text-match"`
}

// CardTextMatch is the CardDAV text predicate (RFC 6352 section
// 10.5.4).
type CardTextMatch struct {
	XMLName         xml.Name `xml:"urn:ietf:params:xml:ns:carddav text-match"`
	Collation       string   `xml:"collation,attr,omitempty"`
	NegateCondition YesNo    `xml:"negate-condition,attr,omitempty"`
	MatchType       string   `xml:"match-type,attr,omitempty"`
	Text            string   `xml:",chardata"`
}

// AddressData carries serialized vCard data in responses (RFC 6352
// section 10.4).
type AddressData struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav address-data"`
	Data    []byte   `xml:",chardata"`
}

// Addressbook collection properties.

type AddressbookHomeSet struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav addressbook-home-set"`
	Hrefs   []Href   `xml:"DAV: href"`
}

type AddressbookDescription struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:carddav addressbook-description"`
	Description string   `xml:",chardata"`
}

type SupportedAddressData struct {
	XMLName xml.Name          `xml:"urn:ietf:params:xml:ns:carddav supported-address-data"`
	Types   []AddressDataType `xml:"address-data-type"`
}

type AddressDataType struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:carddav address-data-type"`
	ContentType string   `xml:"content-type,attr"`
	Version     string   `xml:"version,attr"`
}

type CardMaxResourceSize struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav max-resource-size"`
	Size    int64    `xml:",chardata"`
}
