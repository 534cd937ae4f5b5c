package filter

import (
	"sort"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"

	"github.com/davstore/davstore/internal/davxml"
)

// An index key addresses a component, property or parameter position,
// e.g. "C=VCALENDAR/C=VEVENT/P=SUMMARY". Values are the raw property
// texts found at that position; a key present with no values records
// bare existence.
type IndexKey = string

// Values is the property-keyed value vector of one resource.
type Values map[IndexKey][]string

// timeRangeProps are the properties a component time-range decision
// may need.
var timeRangeProps = []string{
	goical.PropDateTimeStart, goical.PropDateTimeEnd, goical.PropDue,
	goical.PropDuration, goical.PropRecurrenceRule, goical.PropRecurrenceDates,
	goical.PropExceptionDates, goical.PropRecurrenceID,
}

// IndexKeys returns the keys sufficient to decide the filter without
// fetching resource bodies.
func IndexKeys(f davxml.Filter) []IndexKey {
	keys := compIndexKeys("", f.CompFilter)
	sort.Strings(keys)
	return keys
}

func compIndexKeys(prefix string, f davxml.CompFilter) []IndexKey {
	path := prefix + "C=" + f.Name
	keys := []IndexKey{path}
	if f.TimeRange != nil {
		for _, prop := range timeRangeProps {
			keys = append(keys, path+"/P="+prop)
		}
	}
	for _, pf := range f.PropFilters {
		keys = append(keys, propIndexKeys(path, pf)...)
	}
	for _, cf := range f.CompFilters {
		keys = append(keys, compIndexKeys(path+"/", cf)...)
	}
	return keys
}

func propIndexKeys(prefix string, f davxml.PropFilter) []IndexKey {
	path := prefix + "/P=" + f.Name
	keys := []IndexKey{path}
	for _, pf := range f.ParamFilters {
		keys = append(keys, path+"/A="+pf.Name)
	}
	return keys
}

// ComputeValues extracts the requested keys from a parsed calendar.
func ComputeValues(cal *goical.Calendar, keys []IndexKey) Values {
	values := make(Values)
	for _, key := range keys {
		collectKey(cal.Component, strings.Split(key, "/"), key, values)
	}
	return values
}

func collectKey(comp *goical.Component, segments []string, key IndexKey, values Values) {
	if len(segments) == 0 {
		return
	}
	seg := segments[0]
	switch {
	case strings.HasPrefix(seg, "C="):
		if comp.Name != strings.TrimPrefix(seg, "C=") {
			return
		}
		if len(segments) == 1 {
			if _, ok := values[key]; !ok {
				values[key] = nil
			}
			return
		}
		next := segments[1]
		if strings.HasPrefix(next, "C=") {
			for _, child := range comp.Children {
				collectKey(child, segments[1:], key, values)
			}
			return
		}
		collectKey(comp, segments[1:], key, values)
	case strings.HasPrefix(seg, "P="):
		props := comp.Props.Values(strings.TrimPrefix(seg, "P="))
		if len(props) == 0 {
			return
		}
		if len(segments) == 1 {
			for _, prop := range props {
				values[key] = append(values[key], prop.Value)
			}
			return
		}
		// Parameter segment.
		param := strings.TrimPrefix(segments[1], "A=")
		for _, prop := range props {
			if v := prop.Params.Get(param); v != "" {
				values[key] = append(values[key], v)
			}
		}
	}
}

// CheckValues decides the filter from indexed values alone. The third
// state, reported by ok=false, means the index is insufficient and the
// caller must fall back to a full parse.
func CheckValues(values Values, f davxml.Filter) (match bool, ok bool) {
	return checkComp(values, "", f.CompFilter)
}

func checkComp(values Values, prefix string, f davxml.CompFilter) (bool, bool) {
	path := prefix + "C=" + f.Name
	_, present := values[path]
	if !present {
		return f.IsNotDefined != nil, true
	}
	if f.IsNotDefined != nil {
		return false, true
	}

	if f.TimeRange != nil {
		match, ok := checkTimeRange(values, path, f)
		if !ok {
			return false, false
		}
		if !match {
			return false, true
		}
	}

	for _, pf := range f.PropFilters {
		match, ok := checkProp(values, path, pf)
		if !ok {
			return false, false
		}
		if !match {
			return false, true
		}
	}

	for _, cf := range f.CompFilters {
		match, ok := checkComp(values, path+"/", cf)
		if !ok {
			return false, false
		}
		if !match {
			return false, true
		}
	}
	return true, true
}

// checkTimeRange decides a VEVENT time range from indexed DTSTART and
// DTEND. Recurring components and other component kinds are left to
// the full parse.
func checkTimeRange(values Values, path string, f davxml.CompFilter) (bool, bool) {
	if f.Name != goical.CompEvent {
		return false, false
	}
	for _, prop := range []string{goical.PropRecurrenceRule, goical.PropRecurrenceDates, goical.PropRecurrenceID} {
		if _, recurring := values[path+"/P="+prop]; recurring {
			return false, false
		}
	}

	starts := values[path+"/P="+goical.PropDateTimeStart]
	if len(starts) == 0 {
		return false, false
	}
	start, ok := parseIndexedTime(starts[0])
	if !ok {
		return false, false
	}

	end := start
	if ends := values[path+"/P="+goical.PropDateTimeEnd]; len(ends) > 0 {
		e, ok := parseIndexedTime(ends[0])
		if !ok {
			return false, false
		}
		end = e
	} else if _, hasDuration := values[path+"/P="+goical.PropDuration]; hasDuration {
		// Durations carry no timezone context in the index.
		return false, false
	}

	rangeStart := time.Time(f.TimeRange.Start)
	rangeEnd := time.Time(f.TimeRange.End)
	if start.Equal(end) {
		in := (rangeStart.IsZero() || !start.Before(rangeStart)) &&
			(rangeEnd.IsZero() || start.Before(rangeEnd))
		return in, true
	}
	if !rangeStart.IsZero() && !end.After(rangeStart) {
		return false, true
	}
	if !rangeEnd.IsZero() && !start.Before(rangeEnd) {
		return false, true
	}
	return true, true
}

func parseIndexedTime(value string) (time.Time, bool) {
	for _, layout := range []string{"20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func checkProp(values Values, prefix string, f davxml.PropFilter) (bool, bool) {
	path := prefix + "/P=" + f.Name
	propValues, present := values[path]
	if !present {
		return f.IsNotDefined != nil, true
	}
	if f.IsNotDefined != nil {
		return false, true
	}

	if f.TimeRange != nil {
		// Property time ranges need full date semantics.
		return false, false
	}

	for _, pf := range f.ParamFilters {
		paramValues, paramPresent := values[path+"/A="+pf.Name]
		if !paramPresent {
			if pf.IsNotDefined == nil {
				return false, true
			}
			continue
		}
		if pf.IsNotDefined != nil {
			return false, true
		}
		if pf.TextMatch != nil {
			any := false
			for _, v := range paramValues {
				ok, err := matchText(pf.TextMatch.Text, v,
					pf.TextMatch.Collation, pf.TextMatch.MatchType, bool(pf.TextMatch.NegateCondition))
				if err != nil {
					return false, false
				}
				if ok {
					any = true
				}
			}
			if !any {
				return false, true
			}
		}
	}

	if f.TextMatch != nil {
		for _, v := range propValues {
			ok, err := matchText(f.TextMatch.Text, v,
				f.TextMatch.Collation, f.TextMatch.MatchType, bool(f.TextMatch.NegateCondition))
			if err != nil {
				return false, false
			}
			if ok {
				return true, true
			}
		}
		return false, true
	}
	return true, true
}
