package filter

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/ical"
	"github.com/davstore/davstore/internal/store"
)

const defaultCacheSize = 128

// Manager evaluates calendar filters over collections, consulting a
// process-global index keyed by tree hash. Index entries are immutable
// once computed, so any collection whose tree is unchanged reuses them.
type Manager struct {
	cache     *lru.Cache[string, map[string]Values]
	group     singleflight.Group
	threshold int
}

// NewManager returns a manager that bypasses the index for collections
// smaller than threshold members.
func NewManager(threshold int) *Manager {
	cache, err := lru.New[string, map[string]Values](defaultCacheSize)
	if err != nil {
		panic(err)
	}
	return &Manager{cache: cache, threshold: threshold}
}

// MatchCalendar evaluates a calendar-query filter over col, using the
// index where it can decide and falling back to a full parse where it
// cannot.
func (m *Manager) MatchCalendar(ctx context.Context, col *store.Collection, f davxml.Filter) ([]store.Member, error) {
	members, err := col.Members(ctx)
	if err != nil {
		return nil, err
	}

	var indexed map[string]Values
	if m != nil && m.threshold > 0 && len(members) >= m.threshold {
		if idx, err := m.index(ctx, col, IndexKeys(f)); err == nil {
			indexed = idx
		}
		// Index trouble degrades to the full parse path.
	}

	var matched []store.Member
	for _, member := range members {
		if !strings.HasSuffix(member.Name, ical.Extension) {
			continue
		}

		if values, ok := indexed[member.Name]; ok {
			if decided, certain := CheckValues(values, f); certain {
				if decided {
					matched = append(matched, member)
				}
				continue
			}
		}

		obj, err := col.Get(ctx, member.Name)
		if err != nil {
			return nil, err
		}
		cal, err := ical.Parse(obj.Data)
		if err != nil {
			// Skip members that no longer parse rather than failing
			// the whole report.
			continue
		}
		ok, err := MatchCalendar(f, cal)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, member)
		}
	}
	return matched, nil
}

// index returns name → values for every calendar member, computing and
// caching per (tree, key set). Concurrent reports over the same tree
// share one computation.
func (m *Manager) index(ctx context.Context, col *store.Collection, keys []IndexKey) (map[string]Values, error) {
	tree, err := col.TreeHash()
	if err != nil {
		return nil, err
	}
	cacheKey := tree.String() + "|" + strings.Join(keys, ",")

	if cached, ok := m.cache.Get(cacheKey); ok {
		return cached, nil
	}

	v, err, _ := m.group.Do(cacheKey, func() (interface{}, error) {
		members, err := col.Members(ctx)
		if err != nil {
			return nil, err
		}
		index := make(map[string]Values, len(members))
		for _, member := range members {
			if !strings.HasSuffix(member.Name, ical.Extension) {
				continue
			}
			obj, err := col.Get(ctx, member.Name)
			if err != nil {
				return nil, err
			}
			cal, err := ical.Parse(obj.Data)
			if err != nil {
				continue
			}
			index[member.Name] = ComputeValues(cal, keys)
		}
		m.cache.Add(cacheKey, index)
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Values), nil
}
