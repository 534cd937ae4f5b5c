// Package davxml holds the XML vocabulary of the WebDAV family of
// protocols: element codecs for RFC 4918, 4791, 6352, 6578 and friends,
// plus the request plumbing shared by all verbs.
//
// Go's encoding/xml resolves no external entities, so request parsing
// is defused against XXE by construction.
package davxml

import (
	"encoding/xml"
	"fmt"
	"mime"
	"net/http"
)

// Namespaces used across the protocol.
const (
	NamespaceDAV            = "DAV:"
	NamespaceCalDAV         = "urn:ietf:params:xml:ns:caldav"
	NamespaceCardDAV        = "urn:ietf:params:xml:ns:carddav"
	NamespaceCalendarServer = "http://calendarserver.org/ns/"
	NamespaceApple          = "http://apple.com/ns/ical/"
)

// Depth indicates whether a request applies to the resource's members.
// It's defined in RFC 4918 section 10.2.
type Depth int

const (
	DepthZero     Depth = 0
	DepthOne      Depth = 1
	DepthInfinity Depth = -1
)

// ParseDepth parses a Depth header.
func ParseDepth(s string) (Depth, error) {
	switch s {
	case "0":
		return DepthZero, nil
	case "1":
		return DepthOne, nil
	case "infinity":
		return DepthInfinity, nil
	}
	return 0, fmt.Errorf("davxml: invalid Depth value %q", s)
}

// String formats the depth.
func (d Depth) String() string {
	switch d {
	case DepthZero:
		return "0"
	case DepthOne:
		return "1"
	case DepthInfinity:
		return "infinity"
	}
	panic("davxml: invalid Depth value")
}

// HTTPError carries an HTTP status code alongside the underlying error
// and an optional precondition element for the response body.
type HTTPError struct {
	Code int
	Err  error
	// Condition, when set, is emitted inside a {DAV:}error body.
	Condition *Error
}

func HTTPErrorf(code int, format string, a ...interface{}) *HTTPError {
	return &HTTPError{Code: code, Err: fmt.Errorf(format, a...)}
}

// HTTPErrorFromError normalises err into an HTTPError.
func HTTPErrorFromError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr
	}
	return &HTTPError{Code: http.StatusInternalServerError, Err: err}
}

func (err *HTTPError) Error() string {
	s := fmt.Sprintf("%v %v", err.Code, http.StatusText(err.Code))
	if err.Err != nil {
		return fmt.Sprintf("%v: %v", s, err.Err)
	}
	return s
}

func (err *HTTPError) Unwrap() error {
	return err.Err
}

// DecodeRequest decodes the XML request body into v. A missing or
// non-XML content type is rejected unless strict is false and the body
// is empty.
func DecodeRequest(r *http.Request, v interface{}) error {
	t, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if t != "application/xml" && t != "text/xml" {
		return HTTPErrorf(http.StatusBadRequest, "davxml: expected application/xml request")
	}
	if err := xml.NewDecoder(r.Body).Decode(v); err != nil {
		return &HTTPError{Code: http.StatusBadRequest, Err: err}
	}
	return nil
}

// ServeXML writes the XML header and returns an encoder for the body.
func ServeXML(w http.ResponseWriter) *xml.Encoder {
	w.Header().Add("Content-Type", "text/xml; charset=\"utf-8\"")
	w.Write([]byte(xml.Header))
	return xml.NewEncoder(w)
}

// ServeMultistatus encodes ms as a 207 response.
func ServeMultistatus(w http.ResponseWriter, ms *Multistatus) error {
	w.Header().Add("Content-Type", "text/xml; charset=\"utf-8\"")
	w.WriteHeader(http.StatusMultiStatus)
	w.Write([]byte(xml.Header))
	return xml.NewEncoder(w).Encode(ms)
}

// ServeError renders err, emitting a {DAV:}error body when the error
// carries a precondition element.
func ServeError(w http.ResponseWriter, err error) {
	httpErr := HTTPErrorFromError(err)
	if httpErr.Condition != nil {
		w.Header().Add("Content-Type", "text/xml; charset=\"utf-8\"")
		w.WriteHeader(httpErr.Code)
		w.Write([]byte(xml.Header))
		xml.NewEncoder(w).Encode(httpErr.Condition)
		return
	}
	http.Error(w, httpErr.Error(), httpErr.Code)
}
