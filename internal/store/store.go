// Package store implements the per-collection versioned object store.
//
// Each collection is one object database. Member blobs are the
// resources, the current tree identifies the collection state (ctag)
// and the head commit identifies the point in history (sync token).
// A mutation is exactly one commit.
package store

import (
	"errors"
	"strings"
)

// Kind is the collection type.
type Kind string

const (
	KindCalendar       Kind = "calendar"
	KindAddressbook    Kind = "addressbook"
	KindPrincipal      Kind = "principal"
	KindScheduleInbox  Kind = "schedule-inbox"
	KindScheduleOutbox Kind = "schedule-outbox"
	KindSubscription   Kind = "subscription"
	KindCollection     Kind = "collection"
)

var (
	// ErrNotFound is returned for unknown member names.
	ErrNotFound = errors.New("store: no such item")
	// ErrInvalidETag is returned when a conditional does not match the
	// current state.
	ErrInvalidETag = errors.New("store: etag mismatch")
	// ErrDuplicateUID is returned when a write would duplicate a UID
	// already held by a different member.
	ErrDuplicateUID = errors.New("store: duplicate UID")
	// ErrInvalidFileContents is returned when a body fails to parse or
	// violates the UID invariants.
	ErrInvalidFileContents = errors.New("store: invalid file contents")
	// ErrReadOnly is returned for writes to read-only collections.
	ErrReadOnly = errors.New("store: collection is read-only")
	// ErrStaleToken is returned when a sync token no longer identifies
	// a reachable state.
	ErrStaleToken = errors.New("store: stale sync token")
	// ErrNotStore is returned when a path does not hold a collection
	// repository.
	ErrNotStore = errors.New("store: not a store")
)

// syncTokenScheme prefixes sync tokens so stale or foreign tokens can
// be recognised.
const syncTokenScheme = "davstore-v1:"

// metadataPrefix is the reserved member namespace. Anything under it is
// invisible to clients.
const metadataPrefix = "."

// hidden reports whether a member name belongs to the reserved
// metadata namespace.
func hidden(name string) bool {
	return name == "" || strings.HasPrefix(name, metadataPrefix)
}

// Member is a visible collection member.
type Member struct {
	Name string
	ETag string
}

// Object is a fetched resource.
type Object struct {
	Name        string
	Data        []byte
	ETag        string
	ContentType string
}

// ChangeKind describes a member transition between two sync states.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeDeleted
)

// Change is one member transition reported by Changes.
type Change struct {
	Name string
	Kind ChangeKind
	// ETag is set for additions and modifications.
	ETag string
}
