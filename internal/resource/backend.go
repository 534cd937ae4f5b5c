package resource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/davstore/davstore/internal/config"
	"github.com/davstore/davstore/internal/store"
)

// Home set segment and default collection names.
const (
	CalendarHomeSegment    = "calendars"
	AddressbookHomeSegment = "contacts"
	DefaultCalendarName    = "calendar"
	DefaultAddressbookName = "addressbook"
)

// Backend resolves URI paths against the data root. Collections are
// discovered by scanning the directory tree; a directory holding a
// repository is a store-backed collection.
type Backend struct {
	root       string
	autocreate string

	mu   sync.Mutex
	open map[string]*store.Collection
}

// NewBackend creates a resolver rooted at dataRoot.
func NewBackend(dataRoot, autocreate string) *Backend {
	return &Backend{
		root:       dataRoot,
		autocreate: autocreate,
		open:       make(map[string]*store.Collection),
	}
}

func (b *Backend) fsPath(urlPath string) string {
	return filepath.Join(b.root, filepath.FromSlash(strings.Trim(urlPath, "/")))
}

// collection returns the open collection for a filesystem path,
// caching handles so per-collection write serialisation holds across
// requests.
func (b *Backend) collection(fsPath string) (*store.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if col, ok := b.open[fsPath]; ok {
		return col, nil
	}
	col, err := store.Open(fsPath)
	if err != nil {
		return nil, err
	}
	b.open[fsPath] = col
	return col, nil
}

func (b *Backend) forget(fsPath string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.open, fsPath)
}

// Autocreate provisions the principal directory, and with the
// "defaults" policy a default calendar and addressbook, for the given
// principal path. It is idempotent.
func (b *Backend) Autocreate(principalPath string) error {
	if b.autocreate == config.AutocreateNone {
		return nil
	}
	seg := strings.Trim(principalPath, "/")
	if seg == "" || strings.Contains(seg, "/") {
		return nil
	}

	principalDir := filepath.Join(b.root, seg)
	if err := os.MkdirAll(principalDir, 0o755); err != nil {
		return fmt.Errorf("resource - Autocreate: %w", err)
	}
	if b.autocreate != config.AutocreateDefaults {
		return nil
	}

	defaults := []struct {
		dir  string
		kind store.Kind
	}{
		{filepath.Join(principalDir, CalendarHomeSegment, DefaultCalendarName), store.KindCalendar},
		{filepath.Join(principalDir, AddressbookHomeSegment, DefaultAddressbookName), store.KindAddressbook},
	}
	for _, d := range defaults {
		if _, err := store.Open(d.dir); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotStore) {
			return err
		}
		if _, err := store.Create(d.dir, d.kind); err != nil {
			return fmt.Errorf("resource - Autocreate: %w", err)
		}
	}
	return nil
}

// Resolve maps a cleaned URI path to a resource.
func (b *Backend) Resolve(ctx context.Context, urlPath string) (*Resource, error) {
	urlPath, err := CleanPath(urlPath)
	if err != nil {
		return nil, ErrNotFound
	}
	if strings.Contains(urlPath, "/.") {
		// The metadata namespace is never addressable.
		return nil, ErrNotFound
	}

	if urlPath == "/" {
		return &Resource{Path: "/", Kind: KindRoot}, nil
	}

	fsPath := b.fsPath(urlPath)

	if col, err := b.collection(fsPath); err == nil {
		meta, err := col.Metadata()
		if err != nil {
			return nil, err
		}
		return &Resource{
			Path:       withTrailingSlash(urlPath),
			Kind:       kindOf(meta),
			Collection: col,
		}, nil
	} else if !errors.Is(err, store.ErrNotStore) {
		return nil, err
	}

	if info, err := os.Stat(fsPath); err == nil && info.IsDir() {
		kind := KindCollection
		if depth(urlPath) == 1 {
			kind = KindPrincipal
		}
		return &Resource{Path: withTrailingSlash(urlPath), Kind: kind}, nil
	}

	// Not a directory: an item inside the parent collection.
	dir, name := path.Split(strings.TrimSuffix(urlPath, "/"))
	col, err := b.collection(b.fsPath(dir))
	if err != nil {
		if errors.Is(err, store.ErrNotStore) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ok, err := col.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &Resource{
		Path:   urlPath,
		Kind:   KindItem,
		Parent: col,
		Name:   name,
	}, nil
}

func withTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func depth(urlPath string) int {
	return len(strings.Split(strings.Trim(urlPath, "/"), "/"))
}

// Children lists the member resources of a collection resource, one
// level deep.
func (b *Backend) Children(ctx context.Context, r *Resource) ([]*Resource, error) {
	if r.Kind == KindItem {
		return nil, nil
	}

	var children []*Resource

	if r.Collection != nil {
		members, err := r.Collection.Members(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			children = append(children, &Resource{
				Path:   r.Path + m.Name,
				Kind:   KindItem,
				Parent: r.Collection,
				Name:   m.Name,
			})
		}
		return children, nil
	}

	entries, err := os.ReadDir(b.fsPath(r.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		child, err := b.Resolve(ctx, r.Path+e.Name()+"/")
		if err != nil {
			continue
		}
		children = append(children, child)
	}
	return children, nil
}

// CreateCollection creates a store-backed collection at urlPath. The
// parent must exist and accept child collections; calendars contain
// only items, never subcollections.
func (b *Backend) CreateCollection(ctx context.Context, urlPath string, kind Kind) (*Resource, error) {
	urlPath, err := CleanPath(urlPath)
	if err != nil || urlPath == "/" {
		return nil, ErrConflict
	}

	parentPath := path.Dir(strings.TrimSuffix(urlPath, "/"))
	parent, err := b.Resolve(ctx, withTrailingSlash(parentPath))
	if err != nil {
		return nil, err
	}
	if parent.IsStore() {
		return nil, ErrConflict
	}

	fsPath := b.fsPath(urlPath)
	if _, err := os.Stat(fsPath); err == nil {
		return nil, os.ErrExist
	}

	col, err := store.Create(fsPath, storeKindOf(kind))
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.open[fsPath] = col
	b.mu.Unlock()

	return &Resource{Path: withTrailingSlash(urlPath), Kind: kind, Collection: col}, nil
}

// DeleteCollection destroys a store-backed collection and all of its
// members.
func (b *Backend) DeleteCollection(r *Resource) error {
	if r.Collection == nil {
		return ErrConflict
	}
	fsPath := b.fsPath(r.Path)
	b.forget(fsPath)
	return r.Collection.Destroy()
}
