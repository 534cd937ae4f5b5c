package store

import (
	"strings"

	"github.com/davstore/davstore/internal/objstore"
)

// ParseSyncToken extracts the commit identity from an opaque sync
// token. Unknown schemes are stale by definition.
func ParseSyncToken(token string) (objstore.Hash, error) {
	if !strings.HasPrefix(token, syncTokenScheme) {
		return objstore.ZeroHash, ErrStaleToken
	}
	h := objstore.Hash{}
	hexPart := strings.TrimPrefix(token, syncTokenScheme)
	if len(hexPart) != len(h.String()) {
		return objstore.ZeroHash, ErrStaleToken
	}
	return objstore.NewHash(hexPart), nil
}

// Changes enumerates member transitions between the state identified
// by oldToken and the current state. An empty oldToken means "from the
// beginning": every current member is reported as added. The returned
// token identifies the current state.
//
// ErrStaleToken is returned when oldToken no longer identifies a state
// reachable from the current head.
func (c *Collection) Changes(oldToken string) ([]Change, string, error) {
	head, tree, err := c.headTree()
	if err != nil {
		return nil, "", err
	}
	newToken := syncTokenScheme + head.String()

	var oldTree objstore.Hash
	if oldToken != "" {
		oldCommit, err := ParseSyncToken(oldToken)
		if err != nil {
			return nil, "", err
		}
		if oldCommit != objstore.ZeroHash {
			found := false
			if err := c.db.Log(head, func(info *objstore.CommitInfo) bool {
				if info.Hash == oldCommit {
					oldTree = info.Tree
					found = true
					return false
				}
				return true
			}); err != nil {
				return nil, "", err
			}
			if !found {
				return nil, "", ErrStaleToken
			}
		}
	}

	diffs, err := c.db.DiffTrees(oldTree, tree)
	if err != nil {
		return nil, "", err
	}

	changes := make([]Change, 0, len(diffs))
	for _, d := range diffs {
		if hidden(d.Name) {
			continue
		}
		ch := Change{Name: d.Name}
		switch d.Kind {
		case objstore.ChangeAdded:
			ch.Kind = ChangeAdded
			ch.ETag = d.Hash.String()
		case objstore.ChangeModified:
			ch.Kind = ChangeModified
			ch.ETag = d.Hash.String()
		case objstore.ChangeDeleted:
			ch.Kind = ChangeDeleted
		}
		changes = append(changes, ch)
	}
	return changes, newToken, nil
}
