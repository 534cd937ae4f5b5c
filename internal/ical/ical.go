// Package ical provides parsing, validation and recurrence expansion
// for iCalendar resources on top of emersion/go-ical.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

const (
	// MIMEType is the content type of calendar object resources.
	MIMEType = "text/calendar"
	// Extension is the member name suffix for calendar items.
	Extension = ".ics"
)

// FarFuture caps expansion of open-ended recurrence windows.
var FarFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	ErrNotCalendar = errors.New("ical: not a calendar")
	ErrNoUID       = errors.New("ical: missing UID property")
	ErrUIDMismatch = errors.New("ical: components have inconsistent UIDs")
)

// Parse decodes a single iCalendar object from data.
func Parse(data []byte) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("ical - Parse: %w", err)
	}
	return cal, nil
}

// Encode serialises cal back to wire format.
func Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("ical - Encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Components returns the object components of cal, skipping VTIMEZONE.
func Components(cal *ical.Calendar) []*ical.Component {
	var comps []*ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompTimezone {
			continue
		}
		comps = append(comps, child)
	}
	return comps
}

// UID returns the UID shared by all object components of cal.
// All components of one calendar object resource must carry the same
// UID; VTIMEZONE components are exempt.
func UID(cal *ical.Calendar) (string, error) {
	var uid string
	var found bool
	for _, comp := range Components(cal) {
		prop := comp.Props.Get(ical.PropUID)
		if prop == nil {
			return "", ErrNoUID
		}
		if found && prop.Value != uid {
			return "", ErrUIDMismatch
		}
		uid = prop.Value
		found = true
	}
	if !found {
		return "", ErrNoUID
	}
	return uid, nil
}

// ComponentNames returns the set of object component names in cal.
func ComponentNames(cal *ical.Calendar) []string {
	seen := make(map[string]bool)
	var names []string
	for _, comp := range Components(cal) {
		if !seen[comp.Name] {
			seen[comp.Name] = true
			names = append(names, comp.Name)
		}
	}
	return names
}

// Instance is one occurrence of a (possibly recurring) component.
type Instance struct {
	Start     time.Time
	End       time.Time
	Component *ical.Component
}

// timeRange returns the intrinsic [start, end) span of a non-recurring
// component per RFC 4791 section 9.9.
func timeRange(comp *ical.Component) (time.Time, time.Time, error) {
	switch comp.Name {
	case ical.CompEvent:
		event := ical.Event{Component: comp}
		start, err := event.DateTimeStart(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end, err := event.DateTimeEnd(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return start, end, nil
	case ical.CompToDo:
		return todoTimeRange(comp)
	case ical.CompJournal:
		prop := comp.Props.Get(ical.PropDateTimeStart)
		if prop == nil {
			return time.Time{}, time.Time{}, fmt.Errorf("ical: VJOURNAL without DTSTART")
		}
		start, err := prop.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		// DTSTART day only.
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		return day, day.AddDate(0, 0, 1), nil
	case ical.CompFreeBusy:
		return freeBusyTimeRange(comp)
	case "VAVAILABILITY", "AVAILABLE":
		return availableTimeRange(comp)
	}
	return time.Time{}, time.Time{}, fmt.Errorf("ical: component %v has no time range", comp.Name)
}

func todoTimeRange(comp *ical.Component) (time.Time, time.Time, error) {
	var start, due time.Time

	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if prop := comp.Props.Get(ical.PropDue); prop != nil {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		due = t
	}
	if !start.IsZero() {
		if prop := comp.Props.Get(ical.PropDuration); prop != nil {
			d, err := prop.Duration()
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			return start, start.Add(d), nil
		}
		if !due.IsZero() {
			return start, due, nil
		}
		return start, start, nil
	}
	if !due.IsZero() {
		return due, due, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("ical: VTODO without DTSTART or DUE")
}

func freeBusyTimeRange(comp *ical.Component) (time.Time, time.Time, error) {
	var start, end time.Time
	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("ical: VFREEBUSY without DTSTART/DTEND")
	}
	return start, end, nil
}

// availableTimeRange spans VAVAILABILITY and AVAILABLE components:
// DTSTART with DTEND or DURATION (RFC 7953 section 3.1).
func availableTimeRange(comp *ical.Component) (time.Time, time.Time, error) {
	prop := comp.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("ical: %v without DTSTART", comp.Name)
	}
	start, err := prop.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
		end, err := prop.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return start, end, nil
	}
	if prop := comp.Props.Get(ical.PropDuration); prop != nil {
		d, err := prop.Duration()
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return start, start.Add(d), nil
	}
	return start, start, nil
}

// ExpandGroup expands the component group of one calendar object over
// [start, end), honouring RRULE, RDATE, EXDATE and RECURRENCE-ID
// overrides. Components without a time dimension yield no instances.
func ExpandGroup(comps []*ical.Component, start, end time.Time) ([]Instance, error) {
	if end.IsZero() || end.After(FarFuture) {
		end = FarFuture
	}

	var master *ical.Component
	overrides := make(map[string]*ical.Component)
	for _, comp := range comps {
		if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil {
			overrides[prop.Value] = comp
			continue
		}
		master = comp
	}

	var instances []Instance
	if master != nil {
		expanded, err := expandComponent(master, start, end)
		if err != nil {
			return nil, err
		}
		for _, inst := range expanded {
			// An override replaces the master occurrence it names.
			if _, ok := overrideFor(overrides, master, inst.Start); ok {
				continue
			}
			instances = append(instances, inst)
		}
	}
	for _, comp := range overrides {
		s, e, err := timeRange(comp)
		if err != nil {
			return nil, err
		}
		if overlaps(s, e, start, end) {
			instances = append(instances, Instance{Start: s, End: e, Component: comp})
		}
	}
	return instances, nil
}

func overrideFor(overrides map[string]*ical.Component, master *ical.Component, occurrence time.Time) (*ical.Component, bool) {
	for value, comp := range overrides {
		prop := &ical.Prop{Name: ical.PropRecurrenceID, Value: value}
		if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
			prop = p
		}
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			continue
		}
		if t.Equal(occurrence) {
			return comp, true
		}
	}
	return nil, false
}

func expandComponent(comp *ical.Component, start, end time.Time) ([]Instance, error) {
	rset, err := comp.RecurrenceSet(time.UTC)
	if err != nil {
		return nil, err
	}

	compStart, compEnd, err := timeRange(comp)
	if err != nil {
		return nil, err
	}
	duration := compEnd.Sub(compStart)

	if rset == nil {
		if overlaps(compStart, compEnd, start, end) {
			return []Instance{{Start: compStart, End: compEnd, Component: comp}}, nil
		}
		return nil, nil
	}

	// Occurrences starting before the window can still intersect it;
	// widen the lower bound by the component duration.
	lower := start.Add(-duration)
	var instances []Instance
	for _, occ := range rset.Between(lower, end, true) {
		occEnd := occ.Add(duration)
		if overlaps(occ, occEnd, start, end) {
			instances = append(instances, Instance{Start: occ, End: occEnd, Component: comp})
		}
	}
	return instances, nil
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd).
// Zero bounds of b are open-ended. A zero-duration a matches when its
// start lies inside b.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aStart.Equal(aEnd) {
		return (bStart.IsZero() || !aStart.Before(bStart)) && (bEnd.IsZero() || aStart.Before(bEnd))
	}
	if !bStart.IsZero() && !aEnd.After(bStart) {
		return false
	}
	if !bEnd.IsZero() && !aStart.Before(bEnd) {
		return false
	}
	return true
}

// Overlaps reports whether any instance of the group intersects
// [start, end) per RFC 4791 section 9.9.
func Overlaps(comps []*ical.Component, start, end time.Time) (bool, error) {
	instances, err := ExpandGroup(comps, start, end)
	if err != nil {
		return false, err
	}
	return len(instances) > 0, nil
}
