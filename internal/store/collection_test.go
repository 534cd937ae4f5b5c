package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(uid, summary string) []byte {
	return []byte(strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20260101T000000Z",
		"DTSTART:20260401T100000Z",
		"DTEND:20260401T110000Z",
		"SUMMARY:" + summary,
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n"))
}

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	body := event("uid-1", "Planning")
	etag, ctag, err := col.Put(ctx, "a.ics", body, PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, etag)
	assert.NotEmpty(t, ctag)

	obj, err := col.Get(ctx, "a.ics")
	require.NoError(t, err)
	assert.Equal(t, body, obj.Data)
	assert.Equal(t, etag, obj.ETag)
	assert.Equal(t, "text/calendar", obj.ContentType)

	members, err := col.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "a.ics", members[0].Name)
	assert.Equal(t, etag, members[0].ETag)
}

func TestIdenticalPutKeepsCTag(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	body := event("uid-1", "Planning")
	etag1, _, err := col.Put(ctx, "a.ics", body, PutOptions{})
	require.NoError(t, err)
	ctag1, err := col.CTag()
	require.NoError(t, err)

	etag2, _, err := col.Put(ctx, "a.ics", body, PutOptions{})
	require.NoError(t, err)
	ctag2, err := col.CTag()
	require.NoError(t, err)

	assert.Equal(t, etag1, etag2)
	assert.Equal(t, ctag1, ctag2, "re-putting identical bytes must not advance the ctag")
}

func TestCTagAdvancesOnChange(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	_, _, err := col.Put(ctx, "a.ics", event("uid-1", "Planning"), PutOptions{})
	require.NoError(t, err)
	ctag1, err := col.CTag()
	require.NoError(t, err)

	_, _, err = col.Put(ctx, "a.ics", event("uid-1", "Planning v2"), PutOptions{})
	require.NoError(t, err)
	ctag2, err := col.CTag()
	require.NoError(t, err)

	assert.NotEqual(t, ctag1, ctag2)
}

func TestUIDUniqueness(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	_, _, err := col.Put(ctx, "a.ics", event("uid-1", "Planning"), PutOptions{})
	require.NoError(t, err)

	_, _, err = col.Put(ctx, "b.ics", event("uid-1", "Copycat"), PutOptions{})
	assert.ErrorIs(t, err, ErrDuplicateUID)

	// Updating the holder itself stays allowed.
	_, _, err = col.Put(ctx, "a.ics", event("uid-1", "Planning v2"), PutOptions{})
	assert.NoError(t, err)
}

func TestConditionalPut(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	etag, _, err := col.Put(ctx, "a.ics", event("uid-1", "Planning"), PutOptions{})
	require.NoError(t, err)

	_, _, err = col.Put(ctx, "a.ics", event("uid-1", "v2"), PutOptions{IfNoneMatch: true})
	assert.ErrorIs(t, err, ErrInvalidETag, "If-None-Match on an existing member must fail")

	_, _, err = col.Put(ctx, "a.ics", event("uid-1", "v2"), PutOptions{IfMatch: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidETag)

	// If-Match with no current representation is a failed
	// precondition, not a missing resource.
	_, _, err = col.Put(ctx, "missing.ics", event("uid-2", "v2"), PutOptions{IfMatch: "*"})
	assert.ErrorIs(t, err, ErrInvalidETag)

	_, _, err = col.Put(ctx, "missing.ics", event("uid-2", "v2"), PutOptions{IfMatch: "deadbeef"})
	assert.ErrorIs(t, err, ErrInvalidETag)

	_, _, err = col.Put(ctx, "a.ics", event("uid-1", "v2"), PutOptions{IfMatch: etag})
	assert.NoError(t, err)
}

func TestMalformedBodyRejected(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	_, _, err := col.Put(ctx, "a.ics", []byte("not a calendar"), PutOptions{})
	assert.ErrorIs(t, err, ErrInvalidFileContents)

	_, err = col.Get(ctx, "a.ics")
	assert.ErrorIs(t, err, ErrNotFound, "rejected writes must leave no trace")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	_, _, err := col.Put(ctx, "a.ics", event("uid-1", "Planning"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, col.Delete(ctx, "a.ics", DeleteOptions{}))
	_, err = col.Get(ctx, "a.ics")
	assert.ErrorIs(t, err, ErrNotFound)

	err = col.Delete(ctx, "a.ics", DeleteOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionIsReadOnly(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindSubscription)

	_, _, err := col.Put(ctx, "a.ics", event("uid-1", "Planning"), PutOptions{})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestChanges(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	_, _, err := col.Put(ctx, "a.ics", event("uid-1", "Planning"), PutOptions{})
	require.NoError(t, err)
	_, _, err = col.Put(ctx, "b.ics", event("uid-2", "Standup"), PutOptions{})
	require.NoError(t, err)

	changes, token, err := col.Changes("")
	require.NoError(t, err)
	require.Len(t, changes, 2, "empty token reports the full collection as additions")
	for _, ch := range changes {
		assert.Equal(t, ChangeAdded, ch.Kind)
		assert.NotEmpty(t, ch.ETag)
	}
	assert.True(t, strings.HasPrefix(token, "davstore-v1:"))

	_, _, err = col.Put(ctx, "a.ics", event("uid-1", "Planning v2"), PutOptions{})
	require.NoError(t, err)
	require.NoError(t, col.Delete(ctx, "b.ics", DeleteOptions{}))

	changes, next, err := col.Changes(token)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	byName := map[string]Change{}
	for _, ch := range changes {
		byName[ch.Name] = ch
	}
	assert.Equal(t, ChangeModified, byName["a.ics"].Kind)
	assert.Equal(t, ChangeDeleted, byName["b.ics"].Kind)
	assert.NotEqual(t, token, next)

	changes, _, err = col.Changes(next)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestStaleSyncToken(t *testing.T) {
	col := OpenMemory(KindCalendar)

	_, _, err := col.Changes("davstore-v1:" + strings.Repeat("0", 39) + "1")
	assert.ErrorIs(t, err, ErrStaleToken)

	_, _, err = col.Changes("garbage")
	assert.ErrorIs(t, err, ErrStaleToken)
}

func TestMetadataPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "calendar")

	col, err := Create(dir, KindCalendar)
	require.NoError(t, err)
	require.NoError(t, col.SetMetadata(func(m *Metadata) {
		m.DisplayName = "Work"
		m.Color = "#FF0000"
	}))

	reopened, err := Open(dir)
	require.NoError(t, err)
	meta, err := reopened.Metadata()
	require.NoError(t, err)
	assert.Equal(t, KindCalendar, meta.Type)
	assert.Equal(t, "Work", meta.DisplayName)
	assert.Equal(t, "#FF0000", meta.Color)
}

func TestMetadataHiddenFromMembers(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "calendar")

	col, err := Create(dir, KindCalendar)
	require.NoError(t, err)
	_, _, err = col.Put(ctx, "a.ics", event("uid-1", "Planning"), PutOptions{})
	require.NoError(t, err)

	members, err := col.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)

	_, err = col.Get(ctx, ".davstore.ini")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = col.Put(ctx, ".hidden.ics", event("uid-9", "x"), PutOptions{})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestManyMembers(t *testing.T) {
	ctx := context.Background()
	col := OpenMemory(KindCalendar)

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("ev-%d.ics", i)
		_, _, err := col.Put(ctx, name, event(fmt.Sprintf("uid-%d", i), "Event"), PutOptions{})
		require.NoError(t, err)
	}
	members, err := col.Members(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 10)
}
