// Package objstore wraps a git object database as a content-addressed
// store of blobs, trees and commits with a single linear branch.
//
// Identity is content identity: blob hashes are resource ETags, tree
// hashes are collection ctags and commit hashes are sync token payloads.
package objstore

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Hash is a content hash identifying a blob, tree or commit.
type Hash = plumbing.Hash

// ZeroHash is the absent hash.
var ZeroHash = plumbing.ZeroHash

// NewHash parses a hex content hash.
func NewHash(s string) Hash {
	return plumbing.NewHash(s)
}

var ErrNotFound = errors.New("objstore: object not found")

const branchRef = "refs/heads/master"

// TreeEntry is a named blob inside a tree.
type TreeEntry struct {
	Name string
	Hash Hash
}

// ChangeKind describes how a tree entry differs between two trees.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeDeleted
)

// Change is a single entry difference between two trees.
type Change struct {
	Name string
	Kind ChangeKind
	// Hash is the entry hash in the newer tree; zero for deletions.
	Hash Hash
}

// CommitInfo carries the commit metadata the store derives timestamps
// and history from.
type CommitInfo struct {
	Hash    Hash
	Tree    Hash
	Parent  Hash
	Author  string
	Message string
	When    time.Time
}

// DB is one object database. Mutations go through the owning
// store.Collection, which serialises them.
type DB struct {
	repo *git.Repository
}

// Open opens an existing repository rooted at path.
func Open(path string) (*DB, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore - Open: %w", err)
	}
	return &DB{repo: repo}, nil
}

// Create initialises a new repository at path.
func Create(path string) (*DB, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("objstore - Create: %w", err)
	}
	return &DB{repo: repo}, nil
}

// NewMemory returns a database backed by in-memory storage, for tests.
func NewMemory() *DB {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		panic(err)
	}
	return &DB{repo: repo}
}

// PutBlob writes data as a blob and returns its hash.
func (db *DB) PutBlob(data []byte) (Hash, error) {
	obj := db.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)

	w, err := obj.Writer()
	if err != nil {
		return ZeroHash, fmt.Errorf("objstore - PutBlob: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return ZeroHash, fmt.Errorf("objstore - PutBlob: %w", err)
	}
	if err := w.Close(); err != nil {
		return ZeroHash, fmt.Errorf("objstore - PutBlob: %w", err)
	}

	h, err := db.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return ZeroHash, fmt.Errorf("objstore - PutBlob: %w", err)
	}
	return h, nil
}

// ReadBlob returns the content of the blob identified by h.
func (db *DB) ReadBlob(h Hash) ([]byte, error) {
	blob, err := db.repo.BlobObject(h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore - ReadBlob: %w", err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("objstore - ReadBlob: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("objstore - ReadBlob: %w", err)
	}
	return data, nil
}

// PutTree writes a flat tree of the given entries and returns its hash.
func (db *DB) PutTree(entries []TreeEntry) (Hash, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	tree := &object.Tree{}
	for _, e := range sorted {
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: e.Name,
			Mode: filemode.Regular,
			Hash: e.Hash,
		})
	}

	obj := db.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return ZeroHash, fmt.Errorf("objstore - PutTree: %w", err)
	}
	h, err := db.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return ZeroHash, fmt.Errorf("objstore - PutTree: %w", err)
	}
	return h, nil
}

// WalkTree returns the blob entries of the tree identified by h.
func (db *DB) WalkTree(h Hash) ([]TreeEntry, error) {
	if h == ZeroHash {
		return nil, nil
	}
	tree, err := db.repo.TreeObject(h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore - WalkTree: %w", err)
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if !e.Mode.IsFile() {
			continue
		}
		entries = append(entries, TreeEntry{Name: e.Name, Hash: e.Hash})
	}
	return entries, nil
}

// Commit records tree under a new commit on the branch and returns the
// commit hash. parent may be ZeroHash for the initial commit.
func (db *DB) Commit(parent, tree Hash, author, message string) (Hash, error) {
	if author == "" {
		author = "davstore"
	}
	sig := object.Signature{
		Name:  author,
		Email: author + "@localhost",
		When:  time.Now(),
	}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  tree,
	}
	if parent != ZeroHash {
		commit.ParentHashes = []Hash{parent}
	}

	obj := db.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return ZeroHash, fmt.Errorf("objstore - Commit: %w", err)
	}
	h, err := db.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return ZeroHash, fmt.Errorf("objstore - Commit: %w", err)
	}

	ref := plumbing.NewHashReference(plumbing.ReferenceName(branchRef), h)
	if err := db.repo.Storer.SetReference(ref); err != nil {
		return ZeroHash, fmt.Errorf("objstore - Commit: %w", err)
	}
	return h, nil
}

// Head returns the branch head commit, or ZeroHash when no commit has
// been recorded yet.
func (db *DB) Head() (Hash, error) {
	ref, err := db.repo.Reference(plumbing.ReferenceName(branchRef), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return ZeroHash, nil
		}
		return ZeroHash, fmt.Errorf("objstore - Head: %w", err)
	}
	return ref.Hash(), nil
}

// Info returns the metadata of the commit identified by h.
func (db *DB) Info(h Hash) (*CommitInfo, error) {
	commit, err := db.repo.CommitObject(h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore - Info: %w", err)
	}
	info := &CommitInfo{
		Hash:    commit.Hash,
		Tree:    commit.TreeHash,
		Author:  commit.Author.Name,
		Message: commit.Message,
		When:    commit.Author.When,
	}
	if len(commit.ParentHashes) > 0 {
		info.Parent = commit.ParentHashes[0]
	}
	return info, nil
}

// Log walks the first-parent chain from head and calls fn for each
// commit, newest first. fn returning false stops the walk.
func (db *DB) Log(head Hash, fn func(*CommitInfo) bool) error {
	for h := head; h != ZeroHash; {
		info, err := db.Info(h)
		if err != nil {
			return err
		}
		if !fn(info) {
			return nil
		}
		h = info.Parent
	}
	return nil
}

// DiffTrees enumerates entry changes from the old tree to the new tree.
// Either hash may be ZeroHash, meaning an empty tree.
func (db *DB) DiffTrees(old, new Hash) ([]Change, error) {
	oldEntries, err := db.WalkTree(old)
	if err != nil {
		return nil, err
	}
	newEntries, err := db.WalkTree(new)
	if err != nil {
		return nil, err
	}

	oldByName := make(map[string]Hash, len(oldEntries))
	for _, e := range oldEntries {
		oldByName[e.Name] = e.Hash
	}

	var changes []Change
	for _, e := range newEntries {
		prev, ok := oldByName[e.Name]
		if !ok {
			changes = append(changes, Change{Name: e.Name, Kind: ChangeAdded, Hash: e.Hash})
		} else if prev != e.Hash {
			changes = append(changes, Change{Name: e.Name, Kind: ChangeModified, Hash: e.Hash})
		}
		delete(oldByName, e.Name)
	}
	for name := range oldByName {
		changes = append(changes, Change{Name: name, Kind: ChangeDeleted})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes, nil
}
