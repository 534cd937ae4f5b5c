package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/davstore/davstore/internal/ical"
	"github.com/davstore/davstore/internal/objstore"
	"github.com/davstore/davstore/internal/vcard"
)

// emptyTreeHash is the well-known hash of the empty tree, used as the
// ctag of a collection without commits.
const emptyTreeHash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Collection is a single versioned collection. Writers are serialised
// per collection; readers snapshot the current tree and proceed without
// blocking.
type Collection struct {
	db   *objstore.DB
	path string // filesystem root, empty for in-memory collections

	mu sync.Mutex // serialises commits

	metaMu sync.Mutex
	meta   *Metadata

	uidMu    sync.Mutex
	uidTree  objstore.Hash
	uidIndex map[string]string // uid -> member name
}

// Open opens the collection repository rooted at path.
func Open(path string) (*Collection, error) {
	db, err := objstore.Open(path)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, ErrNotStore
		}
		return nil, err
	}
	return &Collection{db: db, path: path}, nil
}

// Create initialises a collection repository at path with the given
// type recorded in the metadata sidecar.
func Create(path string, kind Kind) (*Collection, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store - Create: %w", err)
	}
	db, err := objstore.Create(path)
	if err != nil {
		return nil, err
	}
	c := &Collection{db: db, path: path}
	if err := c.SetMetadata(func(m *Metadata) { m.Type = kind }); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenMemory returns an in-memory collection, for tests.
func OpenMemory(kind Kind) *Collection {
	return &Collection{db: objstore.NewMemory(), meta: &Metadata{Type: kind}}
}

// Path returns the filesystem root of the collection.
func (c *Collection) Path() string { return c.path }

// Destroy removes the collection repository and everything in it.
func (c *Collection) Destroy() error {
	if c.path == "" {
		return nil
	}
	return os.RemoveAll(c.path)
}

func (c *Collection) headTree() (objstore.Hash, objstore.Hash, error) {
	head, err := c.db.Head()
	if err != nil {
		return objstore.ZeroHash, objstore.ZeroHash, err
	}
	if head == objstore.ZeroHash {
		return objstore.ZeroHash, objstore.ZeroHash, nil
	}
	info, err := c.db.Info(head)
	if err != nil {
		return objstore.ZeroHash, objstore.ZeroHash, err
	}
	return head, info.Tree, nil
}

// CTag returns the collection tag: the hash of the current content
// tree. It changes iff the member set or any member content changes.
func (c *Collection) CTag() (string, error) {
	_, tree, err := c.headTree()
	if err != nil {
		return "", err
	}
	if tree == objstore.ZeroHash {
		return emptyTreeHash, nil
	}
	return tree.String(), nil
}

// TreeHash returns the raw current tree hash, the key for index
// lookups.
func (c *Collection) TreeHash() (objstore.Hash, error) {
	_, tree, err := c.headTree()
	return tree, err
}

// SyncToken returns the opaque token identifying the current state.
func (c *Collection) SyncToken() (string, error) {
	head, _, err := c.headTree()
	if err != nil {
		return "", err
	}
	return syncTokenScheme + head.String(), nil
}

// Members lists the visible members with their ETags.
func (c *Collection) Members(ctx context.Context) ([]Member, error) {
	_, tree, err := c.headTree()
	if err != nil {
		return nil, err
	}
	entries, err := c.db.WalkTree(tree)
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(entries))
	for _, e := range entries {
		if hidden(e.Name) {
			continue
		}
		members = append(members, Member{Name: e.Name, ETag: e.Hash.String()})
	}
	return members, nil
}

// Get fetches one member.
func (c *Collection) Get(ctx context.Context, name string) (*Object, error) {
	if hidden(name) {
		return nil, ErrNotFound
	}
	_, tree, err := c.headTree()
	if err != nil {
		return nil, err
	}
	entries, err := c.db.WalkTree(tree)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		data, err := c.db.ReadBlob(e.Hash)
		if err != nil {
			return nil, err
		}
		return &Object{
			Name:        name,
			Data:        data,
			ETag:        e.Hash.String(),
			ContentType: ContentType(name),
		}, nil
	}
	return nil, ErrNotFound
}

// Has reports whether a visible member exists, without reading it.
func (c *Collection) Has(ctx context.Context, name string) (bool, error) {
	if hidden(name) {
		return false, nil
	}
	_, tree, err := c.headTree()
	if err != nil {
		return false, err
	}
	entries, err := c.db.WalkTree(tree)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// ContentType derives the content type of a member from its name.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ical.Extension):
		return ical.MIMEType
	case strings.HasSuffix(name, vcard.Extension):
		return vcard.MIMEType
	default:
		return "application/octet-stream"
	}
}

// PutOptions carries the conditional and attribution parameters of a
// write.
type PutOptions struct {
	// IfMatch, when non-empty, requires the member to exist with
	// exactly this ETag.
	IfMatch string
	// IfNoneMatch, when true, requires the member to not exist yet.
	IfNoneMatch bool
	// ReplacesName names a member being renamed away in the same
	// operation; its UID claim does not count as a conflict.
	ReplacesName string
	Author       string
	Message      string
}

// Put validates data, enforces conditionals and UID uniqueness, and
// commits the member. It returns the new ETag and ctag.
func (c *Collection) Put(ctx context.Context, name string, data []byte, opts PutOptions) (etag, ctag string, err error) {
	if hidden(name) {
		return "", "", ErrReadOnly
	}
	meta, err := c.Metadata()
	if err != nil {
		return "", "", err
	}
	if meta.Type == KindSubscription {
		return "", "", ErrReadOnly
	}

	uid, err := validate(name, data)
	if err != nil {
		return "", "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	head, tree, err := c.headTree()
	if err != nil {
		return "", "", err
	}
	entries, err := c.db.WalkTree(tree)
	if err != nil {
		return "", "", err
	}

	var existing objstore.Hash
	for _, e := range entries {
		if e.Name == name {
			existing = e.Hash
		}
	}

	if opts.IfNoneMatch && existing != objstore.ZeroHash {
		return "", "", ErrInvalidETag
	}
	if opts.IfMatch != "" {
		if existing == objstore.ZeroHash {
			// No current representation matches (RFC 7232 section 3.1).
			return "", "", ErrInvalidETag
		}
		if opts.IfMatch != "*" && opts.IfMatch != existing.String() {
			return "", "", ErrInvalidETag
		}
	}

	if uid != "" && (meta.Type == KindCalendar || meta.Type == KindAddressbook ||
		meta.Type == KindScheduleInbox || meta.Type == KindScheduleOutbox) {
		if other, err := c.uidHolder(tree, uid); err != nil {
			return "", "", err
		} else if other != "" && other != name && (opts.ReplacesName == "" || other != opts.ReplacesName) {
			return "", "", ErrDuplicateUID
		}
	}

	blob, err := c.db.PutBlob(data)
	if err != nil {
		return "", "", err
	}
	if blob == existing {
		// Identical content, nothing to commit.
		return blob.String(), tree.String(), nil
	}

	next := make([]objstore.TreeEntry, 0, len(entries)+1)
	for _, e := range entries {
		if e.Name != name {
			next = append(next, e)
		}
	}
	next = append(next, objstore.TreeEntry{Name: name, Hash: blob})

	message := opts.Message
	if message == "" {
		message = "Add/update " + name
	}
	newCTag, err := c.commitTree(head, next, opts.Author, message)
	if err != nil {
		return "", "", err
	}
	return blob.String(), newCTag, nil
}

// DeleteOptions carries the conditional and attribution parameters of
// a delete.
type DeleteOptions struct {
	IfMatch string
	Author  string
	Message string
}

// Delete removes a member, honouring If-Match.
func (c *Collection) Delete(ctx context.Context, name string, opts DeleteOptions) error {
	if hidden(name) {
		return ErrNotFound
	}
	meta, err := c.Metadata()
	if err != nil {
		return err
	}
	if meta.Type == KindSubscription {
		return ErrReadOnly
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	head, tree, err := c.headTree()
	if err != nil {
		return err
	}
	entries, err := c.db.WalkTree(tree)
	if err != nil {
		return err
	}

	var existing objstore.Hash
	next := make([]objstore.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == name {
			existing = e.Hash
			continue
		}
		next = append(next, e)
	}
	if existing == objstore.ZeroHash {
		return ErrNotFound
	}
	if opts.IfMatch != "" && opts.IfMatch != "*" && opts.IfMatch != existing.String() {
		return ErrInvalidETag
	}

	message := opts.Message
	if message == "" {
		message = "Delete " + name
	}
	_, err = c.commitTree(head, next, opts.Author, message)
	return err
}

func (c *Collection) commitTree(parent objstore.Hash, entries []objstore.TreeEntry, author, message string) (string, error) {
	tree, err := c.db.PutTree(entries)
	if err != nil {
		return "", err
	}
	if _, err := c.db.Commit(parent, tree, author, message); err != nil {
		return "", err
	}
	return tree.String(), nil
}

// validate checks the body against the invariants of its resource type
// and returns the UID when the type carries one.
func validate(name string, data []byte) (string, error) {
	switch {
	case strings.HasSuffix(name, ical.Extension):
		cal, err := ical.Parse(data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFileContents, err)
		}
		uid, err := ical.UID(cal)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFileContents, err)
		}
		return uid, nil
	case strings.HasSuffix(name, vcard.Extension):
		card, err := vcard.Parse(data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFileContents, err)
		}
		uid, err := vcard.UID(card)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFileContents, err)
		}
		return uid, nil
	default:
		return "", nil
	}
}

// uidHolder returns the member currently holding uid, scanning lazily
// and caching per tree.
func (c *Collection) uidHolder(tree objstore.Hash, uid string) (string, error) {
	c.uidMu.Lock()
	defer c.uidMu.Unlock()

	if c.uidIndex == nil || c.uidTree != tree {
		index := make(map[string]string)
		entries, err := c.db.WalkTree(tree)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if hidden(e.Name) {
				continue
			}
			data, err := c.db.ReadBlob(e.Hash)
			if err != nil {
				return "", err
			}
			memberUID, err := validate(e.Name, data)
			if err != nil {
				// Tolerate historical junk; it cannot claim a UID.
				continue
			}
			if memberUID != "" {
				index[memberUID] = e.Name
			}
		}
		c.uidIndex = index
		c.uidTree = tree
	}
	return c.uidIndex[uid], nil
}

// Times returns the creation and last-modification times of a member,
// derived from commit metadata.
func (c *Collection) Times(name string) (created, modified time.Time, err error) {
	head, _, err := c.headTree()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	var current objstore.Hash
	found := false
	unchanged := true
	walkErr := c.db.Log(head, func(info *objstore.CommitInfo) bool {
		entries, err2 := c.db.WalkTree(info.Tree)
		if err2 != nil {
			err = err2
			return false
		}
		var h objstore.Hash
		for _, e := range entries {
			if e.Name == name {
				h = e.Hash
			}
		}
		if h == objstore.ZeroHash {
			// Member absent this far back; the walk is done.
			return false
		}
		if !found {
			current = h
			modified = info.When
			found = true
		} else if unchanged && h == current {
			// Still the current content; the last modification was at
			// or before this commit.
			modified = info.When
		} else {
			unchanged = false
		}
		created = info.When
		return true
	})
	if walkErr != nil {
		return time.Time{}, time.Time{}, walkErr
	}
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !found {
		return time.Time{}, time.Time{}, ErrNotFound
	}
	return created, modified, nil
}
