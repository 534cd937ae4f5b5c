// Package resource maps URI paths onto the stored object graph:
// principals, home sets, collections and items.
package resource

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/davstore/davstore/internal/store"
)

// Kind discriminates resource variants. Each kind enables a subset of
// the capability set {read-bytes, read-properties, write-properties,
// list-members, accept-member}.
type Kind int

const (
	KindRoot Kind = iota
	KindPrincipal
	KindCollection // plain collection, including home sets
	KindCalendar
	KindAddressbook
	KindScheduleInbox
	KindScheduleOutbox
	KindSubscription
	KindItem
)

var (
	ErrNotFound = errors.New("resource: not found")
	ErrConflict = errors.New("resource: parent does not accept this member")
)

// Resource is one node of the graph.
type Resource struct {
	// Path is the URI path; collections end in "/".
	Path string
	Kind Kind

	// Collection is set for collection kinds.
	Collection *store.Collection
	// Parent and Name are set for items.
	Parent *store.Collection
	Name   string
}

// IsCollection reports whether the resource can list members.
func (r *Resource) IsCollection() bool {
	return r.Kind != KindItem
}

// IsStore reports whether the resource is backed by a versioned
// collection store.
func (r *Resource) IsStore() bool {
	return r.Collection != nil
}

// AcceptsMembers reports whether items may be stored directly in this
// resource.
func (r *Resource) AcceptsMembers() bool {
	switch r.Kind {
	case KindCalendar, KindAddressbook, KindScheduleInbox, KindScheduleOutbox, KindCollection:
		return r.Collection != nil
	}
	return false
}

// PrincipalPath returns the principal owning the resource, derived
// from the leading path segment.
func (r *Resource) PrincipalPath() string {
	trimmed := strings.TrimPrefix(r.Path, "/")
	if trimmed == "" {
		return ""
	}
	seg := strings.SplitN(trimmed, "/", 2)[0]
	return "/" + seg + "/"
}

// CleanPath normalises a request path per RFC 3986: percent-decoding,
// fragment stripping and dot-segment removal. Collections keep their
// trailing slash.
func CleanPath(p string) (string, error) {
	if i := strings.IndexByte(p, '#'); i >= 0 {
		p = p[:i]
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", err
	}
	trailingSlash := strings.HasSuffix(decoded, "/")
	cleaned := path.Clean("/" + decoded)
	if trailingSlash && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned, nil
}

func kindOf(meta *store.Metadata) Kind {
	switch meta.Type {
	case store.KindCalendar:
		return KindCalendar
	case store.KindAddressbook:
		return KindAddressbook
	case store.KindScheduleInbox:
		return KindScheduleInbox
	case store.KindScheduleOutbox:
		return KindScheduleOutbox
	case store.KindSubscription:
		return KindSubscription
	default:
		return KindCollection
	}
}

func storeKindOf(kind Kind) store.Kind {
	switch kind {
	case KindCalendar:
		return store.KindCalendar
	case KindAddressbook:
		return store.KindAddressbook
	case KindScheduleInbox:
		return store.KindScheduleInbox
	case KindScheduleOutbox:
		return store.KindScheduleOutbox
	case KindSubscription:
		return store.KindSubscription
	default:
		return store.KindCollection
	}
}
