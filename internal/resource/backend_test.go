package resource

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davstore/davstore/internal/config"
	"github.com/davstore/davstore/internal/store"
)

func TestAutocreateDefaults(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreateDefaults)

	require.NoError(t, b.Autocreate("/alice/"))

	cal, err := b.Resolve(ctx, "/alice/calendars/calendar/")
	require.NoError(t, err)
	assert.Equal(t, KindCalendar, cal.Kind)
	assert.True(t, cal.AcceptsMembers())

	ab, err := b.Resolve(ctx, "/alice/contacts/addressbook/")
	require.NoError(t, err)
	assert.Equal(t, KindAddressbook, ab.Kind)

	// Idempotent.
	require.NoError(t, b.Autocreate("/alice/"))
}

func TestAutocreateNone(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreateNone)

	require.NoError(t, b.Autocreate("/alice/"))
	_, err := b.Resolve(ctx, "/alice/")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutocreatePrincipalOnly(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreatePrincipal)

	require.NoError(t, b.Autocreate("/alice/"))

	p, err := b.Resolve(ctx, "/alice/")
	require.NoError(t, err)
	assert.Equal(t, KindPrincipal, p.Kind)

	_, err = b.Resolve(ctx, "/alice/calendars/calendar/")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveKinds(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreateDefaults)
	require.NoError(t, b.Autocreate("/alice/"))

	root, err := b.Resolve(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, KindRoot, root.Kind)
	assert.False(t, root.AcceptsMembers())

	home, err := b.Resolve(ctx, "/alice/calendars/")
	require.NoError(t, err)
	assert.Equal(t, KindCollection, home.Kind)
	assert.False(t, home.AcceptsMembers(), "home sets hold collections, not items")

	_, err = b.Resolve(ctx, "/alice/missing/")
	assert.ErrorIs(t, err, ErrNotFound)

	// An item path resolves only once the member exists.
	_, err = b.Resolve(ctx, "/alice/calendars/calendar/new.ics")
	assert.ErrorIs(t, err, ErrNotFound)

	cal, err := b.Resolve(ctx, "/alice/calendars/calendar/")
	require.NoError(t, err)
	body := strings.Join([]string{
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
		"BEGIN:VEVENT", "UID:uid-new", "DTSTAMP:20260101T000000Z",
		"DTSTART:20260401T100000Z", "DTEND:20260401T110000Z",
		"END:VEVENT", "END:VCALENDAR", "",
	}, "\r\n")
	_, _, err = cal.Collection.Put(ctx, "new.ics", []byte(body), store.PutOptions{})
	require.NoError(t, err)

	item, err := b.Resolve(ctx, "/alice/calendars/calendar/new.ics")
	require.NoError(t, err)
	assert.Equal(t, KindItem, item.Kind)
	assert.Equal(t, "new.ics", item.Name)
	assert.Equal(t, "/alice/", item.PrincipalPath())
}

func TestResolveHidesMetadata(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreateDefaults)
	require.NoError(t, b.Autocreate("/alice/"))

	_, err := b.Resolve(ctx, "/alice/calendars/calendar/.davstore.ini")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChildren(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreateDefaults)
	require.NoError(t, b.Autocreate("/alice/"))

	principal, err := b.Resolve(ctx, "/alice/")
	require.NoError(t, err)
	children, err := b.Children(ctx, principal)
	require.NoError(t, err)
	var names []string
	for _, c := range children {
		names = append(names, c.Path)
	}
	assert.Equal(t, []string{"/alice/calendars/", "/alice/contacts/"}, names)

	cal, err := b.Resolve(ctx, "/alice/calendars/calendar/")
	require.NoError(t, err)
	body := strings.Join([]string{
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN",
		"BEGIN:VEVENT", "UID:uid-1", "DTSTAMP:20260101T000000Z",
		"DTSTART:20260401T100000Z", "DTEND:20260401T110000Z",
		"END:VEVENT", "END:VCALENDAR", "",
	}, "\r\n")
	_, _, err = cal.Collection.Put(ctx, "a.ics", []byte(body), store.PutOptions{})
	require.NoError(t, err)

	children, err = b.Children(ctx, cal)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "/alice/calendars/calendar/a.ics", children[0].Path)
	assert.Equal(t, KindItem, children[0].Kind)
}

func TestCreateCollection(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreatePrincipal)
	require.NoError(t, b.Autocreate("/alice/"))

	r, err := b.CreateCollection(ctx, "/alice/work/", KindCalendar)
	require.NoError(t, err)
	assert.Equal(t, KindCalendar, r.Kind)

	// Calendars never hold child collections.
	_, err = b.CreateCollection(ctx, "/alice/work/nested/", KindCalendar)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = b.CreateCollection(ctx, "/alice/work/", KindCalendar)
	assert.ErrorIs(t, err, os.ErrExist)

	_, err = b.CreateCollection(ctx, "/alice/missing/deep/", KindAddressbook)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCollection(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), config.AutocreateDefaults)
	require.NoError(t, b.Autocreate("/alice/"))

	cal, err := b.Resolve(ctx, "/alice/calendars/calendar/")
	require.NoError(t, err)
	require.NoError(t, b.DeleteCollection(cal))

	_, err = b.Resolve(ctx, "/alice/calendars/calendar/")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanPath(t *testing.T) {
	p, err := CleanPath("/alice/calendars/../calendars/calendar/")
	require.NoError(t, err)
	assert.Equal(t, "/alice/calendars/calendar/", p)

	p, err = CleanPath("/alice/My%20Events/a.ics")
	require.NoError(t, err)
	assert.Equal(t, "/alice/My Events/a.ics", p)

	p, err = CleanPath("/alice/cal/#frag")
	require.NoError(t, err)
	assert.Equal(t, "/alice/cal/", p)
}
