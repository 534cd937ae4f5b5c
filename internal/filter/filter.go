// Package filter evaluates calendar-query and addressbook-query
// filters against parsed resources, with an index-assisted fast path
// keyed by collection tree identity.
package filter

import (
	"fmt"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"

	"github.com/davstore/davstore/internal/davxml"
	"github.com/davstore/davstore/internal/ical"
)

// Collations accepted by text-match (RFC 4790).
const (
	CollationASCIICasemap   = "i;ascii-casemap"
	CollationOctet          = "i;octet"
	CollationUnicodeCasemap = "i;unicode-casemap"
)

// matchText applies a text-match predicate to value.
func matchText(text, value, collation, matchType string, negate bool) (bool, error) {
	switch collation {
	case "", CollationASCIICasemap, CollationUnicodeCasemap:
		text = strings.ToLower(text)
		value = strings.ToLower(value)
	case CollationOctet:
	default:
		return false, fmt.Errorf("filter: unsupported collation %q", collation)
	}

	var ok bool
	switch matchType {
	case "", "contains":
		ok = strings.Contains(value, text)
	case "equals":
		ok = value == text
	case "starts-with":
		ok = strings.HasPrefix(value, text)
	case "ends-with":
		ok = strings.HasSuffix(value, text)
	default:
		return false, fmt.Errorf("filter: unsupported match-type %q", matchType)
	}
	if negate {
		ok = !ok
	}
	return ok, nil
}

// MatchCalendar reports whether cal matches the calendar-query filter.
func MatchCalendar(f davxml.Filter, cal *goical.Calendar) (bool, error) {
	return matchComp(f.CompFilter, cal.Component)
}

// matchComp evaluates a comp-filter against one component. Evaluation
// is conjunctive top-down; is-not-defined short-circuits.
func matchComp(f davxml.CompFilter, comp *goical.Component) (bool, error) {
	if comp.Name != f.Name {
		return f.IsNotDefined != nil, nil
	}
	if f.IsNotDefined != nil {
		return false, nil
	}

	if f.TimeRange != nil {
		ok, err := ical.Overlaps([]*goical.Component{comp},
			time.Time(f.TimeRange.Start), time.Time(f.TimeRange.End))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	for _, pf := range f.PropFilters {
		ok, err := matchProp(pf, comp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	for _, cf := range f.CompFilters {
		ok, err := matchChildComp(cf, comp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// matchChildComp evaluates a nested comp-filter against the children
// of comp sharing the filter name. A time range is evaluated against
// the whole component group so recurrence overrides are honoured.
func matchChildComp(f davxml.CompFilter, comp *goical.Component) (bool, error) {
	var named []*goical.Component
	for _, child := range comp.Children {
		if child.Name == f.Name {
			named = append(named, child)
		}
	}
	if len(named) == 0 {
		return f.IsNotDefined != nil, nil
	}
	if f.IsNotDefined != nil {
		return false, nil
	}

	if f.TimeRange != nil {
		ok, err := ical.Overlaps(named,
			time.Time(f.TimeRange.Start), time.Time(f.TimeRange.End))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	for _, child := range named {
		ok := true
		var err error
		for _, pf := range f.PropFilters {
			ok, err = matchProp(pf, child)
			if err != nil {
				return false, err
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}
		for _, cf := range f.CompFilters {
			ok, err = matchChildComp(cf, child)
			if err != nil {
				return false, err
			}
			if !ok {
				break
			}
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func matchProp(f davxml.PropFilter, comp *goical.Component) (bool, error) {
	props := comp.Props.Values(f.Name)
	if len(props) == 0 {
		return f.IsNotDefined != nil, nil
	}
	if f.IsNotDefined != nil {
		return false, nil
	}

	for i := range props {
		prop := &props[i]

		ok := true
		for _, pf := range f.ParamFilters {
			var err error
			ok, err = matchParam(pf, prop)
			if err != nil {
				return false, err
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}

		if f.TimeRange != nil {
			t, err := prop.DateTime(time.UTC)
			if err != nil {
				return false, err
			}
			start, end := time.Time(f.TimeRange.Start), time.Time(f.TimeRange.End)
			if !start.IsZero() && t.Before(start) {
				continue
			}
			if !end.IsZero() && !t.Before(end) {
				continue
			}
		}

		if f.TextMatch != nil {
			match, err := matchText(f.TextMatch.Text, prop.Value,
				f.TextMatch.Collation, f.TextMatch.MatchType, bool(f.TextMatch.NegateCondition))
			if err != nil {
				return false, err
			}
			if !match {
				continue
			}
		}
		return true, nil
	}
	return false, nil
}

func matchParam(f davxml.ParamFilter, prop *goical.Prop) (bool, error) {
	value := prop.Params.Get(f.Name)
	if value == "" {
		return f.IsNotDefined != nil, nil
	}
	if f.IsNotDefined != nil {
		return false, nil
	}
	if f.TextMatch != nil {
		return matchText(f.TextMatch.Text, value,
			f.TextMatch.Collation, f.TextMatch.MatchType, bool(f.TextMatch.NegateCondition))
	}
	return true, nil
}
