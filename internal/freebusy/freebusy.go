// Package freebusy synthesises VFREEBUSY replies from calendar
// collections, applying RFC 7953 availability with priority
// resolution.
package freebusy

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/davstore/davstore/internal/ical"
	"github.com/davstore/davstore/internal/store"
)

// PeriodType is an FBTYPE value.
type PeriodType string

const (
	Busy            PeriodType = "BUSY"
	BusyUnavailable PeriodType = "BUSY-UNAVAILABLE"
	BusyTentative   PeriodType = "BUSY-TENTATIVE"
	Free            PeriodType = "FREE"
)

// precedence orders equal-priority busy types: BUSY wins over
// BUSY-UNAVAILABLE over BUSY-TENTATIVE over FREE.
func precedence(t PeriodType) int {
	switch t {
	case Busy:
		return 3
	case BusyUnavailable:
		return 2
	case BusyTentative:
		return 1
	default:
		return 0
	}
}

// Period is one half-open busy or free span.
type Period struct {
	Start time.Time
	End   time.Time
	Type  PeriodType
}

// Generate walks the collection and produces a VFREEBUSY calendar for
// the window [start, end).
func Generate(ctx context.Context, col *store.Collection, start, end time.Time) (*goical.Calendar, error) {
	members, err := col.Members(ctx)
	if err != nil {
		return nil, err
	}

	var periods []Period
	var availabilities []*goical.Component

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

		comps := ical.Components(cal)
		var events []*goical.Component
		for _, comp := range comps {
			switch comp.Name {
			case goical.CompEvent:
				events = append(events, comp)
			case goical.CompFreeBusy:
				periods = append(periods, freeBusyPeriods(comp, start, end)...)
			case "VAVAILABILITY":
				availabilities = append(availabilities, comp)
			}
		}
		if len(events) > 0 {
			evPeriods, err := eventPeriods(events, start, end)
			if err != nil {
				return nil, err
			}
			periods = append(periods, evPeriods...)
		}
	}

	periods = append(periods, resolveAvailability(availabilities, start, end)...)
	periods = merge(periods)

	return reply(periods, start, end), nil
}

// eventPeriods expands a VEVENT group and yields BUSY periods for
// opaque, non-cancelled instances.
func eventPeriods(events []*goical.Component, start, end time.Time) ([]Period, error) {
	instances, err := ical.ExpandGroup(events, start, end)
	if err != nil {
		return nil, err
	}

	var periods []Period
	for _, inst := range instances {
		if prop := inst.Component.Props.Get(goical.PropTransparency); prop != nil && prop.Value == "TRANSPARENT" {
			continue
		}
		fbType := Busy
		if prop := inst.Component.Props.Get(goical.PropStatus); prop != nil {
			switch prop.Value {
			case "CANCELLED":
				continue
			case "TENTATIVE":
				fbType = BusyTentative
			}
		}
		if p, ok := clip(inst.Start, inst.End, start, end); ok {
			p.Type = fbType
			periods = append(periods, p)
		}
	}
	return periods, nil
}

// freeBusyPeriods extracts FREEBUSY spans from a VFREEBUSY component.
func freeBusyPeriods(comp *goical.Component, start, end time.Time) []Period {
	var periods []Period
	for _, prop := range comp.Props.Values(goical.PropFreeBusy) {
		fbType := Busy
		if v := prop.Params.Get(goical.ParamFreeBusyType); v != "" {
			fbType = PeriodType(v)
		}
		if fbType == Free {
			continue
		}
		for _, value := range strings.Split(prop.Value, ",") {
			s, e, ok := parsePeriod(value)
			if !ok {
				continue
			}
			if p, okc := clip(s, e, start, end); okc {
				p.Type = fbType
				periods = append(periods, p)
			}
		}
	}
	return periods
}

// parsePeriod parses an iCalendar PERIOD value: start "/" (end |
// duration).
func parsePeriod(value string) (time.Time, time.Time, bool) {
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	s, err := time.ParseInLocation("20060102T150405Z", parts[0], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if e, err := time.ParseInLocation("20060102T150405Z", parts[1], time.UTC); err == nil {
		return s, e, true
	}
	d, err := parseDuration(parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return s, s.Add(d), true
}

// parseDuration parses the subset of RFC 5545 durations found in
// PERIOD values.
func parseDuration(value string) (time.Duration, error) {
	v := strings.TrimPrefix(value, "+")
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimPrefix(v, "-")
	v = strings.TrimPrefix(v, "P")

	var d time.Duration
	num := ""
	inTime := false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, err
			}
			num = ""
			switch r {
			case 'W':
				d += time.Duration(n) * 7 * 24 * time.Hour
			case 'D':
				d += time.Duration(n) * 24 * time.Hour
			case 'H':
				d += time.Duration(n) * time.Hour
			case 'M':
				if inTime {
					d += time.Duration(n) * time.Minute
				}
			case 'S':
				d += time.Duration(n) * time.Second
			}
		}
	}
	if neg {
		d = -d
	}
	return d, nil
}

func clip(s, e, start, end time.Time) (Period, bool) {
	if !start.IsZero() && s.Before(start) {
		s = start
	}
	if !end.IsZero() && e.After(end) {
		e = end
	}
	if !s.Before(e) {
		return Period{}, false
	}
	return Period{Start: s, End: e}, true
}

// availabilitySpan is one elementary segment contributed by a
// VAVAILABILITY component. rank is the PRIORITY doubled, minus one for
// AVAILABLE holes so they beat their parent's busy span.
type availabilitySpan struct {
	Period
	rank int
}

// resolveAvailability applies VAVAILABILITY components per RFC 7953
// section 4.4: lower PRIORITY wins (1 highest, 9 lowest, 0 none =
// lowest); AVAILABLE subcomponents punch free holes in their parent's
// busy span; equal priorities resolve by busy-type precedence.
func resolveAvailability(comps []*goical.Component, start, end time.Time) []Period {
	if len(comps) == 0 {
		return nil
	}

	var spans []availabilitySpan
	for _, comp := range comps {
		span, ok := componentSpan(comp, start, end)
		if !ok {
			continue
		}
		prio := 10 // 0 or absent: no priority, lowest
		if prop := comp.Props.Get("PRIORITY"); prop != nil {
			if n, err := strconv.Atoi(prop.Value); err == nil && n >= 1 && n <= 9 {
				prio = n
			}
		}
		busyType := BusyUnavailable
		if prop := comp.Props.Get("BUSYTYPE"); prop != nil {
			busyType = PeriodType(prop.Value)
		}

		spans = append(spans, availabilitySpan{Period{span.Start, span.End, busyType}, 2 * prio})
		for _, child := range comp.Children {
			if child.Name != "AVAILABLE" {
				continue
			}
			instances, err := ical.ExpandGroup([]*goical.Component{child}, span.Start, span.End)
			if err != nil {
				continue
			}
			for _, inst := range instances {
				if p, ok := clip(inst.Start, inst.End, span.Start, span.End); ok {
					spans = append(spans, availabilitySpan{Period{p.Start, p.End, Free}, 2*prio - 1})
				}
			}
		}
	}
	if len(spans) == 0 {
		return nil
	}

	// Resolve elementary intervals between all boundary points.
	boundSet := make(map[time.Time]struct{})
	for _, s := range spans {
		boundSet[s.Start] = struct{}{}
		boundSet[s.End] = struct{}{}
	}
	bounds := make([]time.Time, 0, len(boundSet))
	for t := range boundSet {
		bounds = append(bounds, t)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Before(bounds[j]) })

	var periods []Period
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]
		winner := Free
		winnerRank := 1 << 30
		for _, s := range spans {
			if !s.Start.After(lo) && !s.End.Before(hi) {
				switch {
				case s.rank < winnerRank:
					winner, winnerRank = s.Type, s.rank
				case s.rank == winnerRank && precedence(s.Type) > precedence(winner):
					winner = s.Type
				}
			}
		}
		if winnerRank < 1<<30 && winner != Free {
			periods = append(periods, Period{Start: lo, End: hi, Type: winner})
		}
	}
	return periods
}

func componentSpan(comp *goical.Component, start, end time.Time) (Period, bool) {
	var s, e time.Time
	if prop := comp.Props.Get(goical.PropDateTimeStart); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			s = t
		}
	}
	if prop := comp.Props.Get(goical.PropDateTimeEnd); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			e = t
		}
	}
	if s.IsZero() {
		s = start
	}
	if e.IsZero() {
		e = end
	}
	return clip(s, e, start, end)
}

// merge coalesces overlapping and adjacent periods of the same type.
func merge(periods []Period) []Period {
	if len(periods) == 0 {
		return nil
	}
	sort.Slice(periods, func(i, j int) bool {
		if !periods[i].Start.Equal(periods[j].Start) {
			return periods[i].Start.Before(periods[j].Start)
		}
		return periods[i].End.Before(periods[j].End)
	})

	var out []Period
	for _, p := range periods {
		merged := false
		for i := range out {
			if out[i].Type == p.Type && !p.Start.After(out[i].End) {
				if p.End.After(out[i].End) {
					out[i].End = p.End
				}
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, p)
		}
	}
	return out
}

// reply builds the synthetic VFREEBUSY calendar.
func reply(periods []Period, start, end time.Time) *goical.Calendar {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropProductID, "-//davstore//freebusy//EN")
	cal.Props.SetText(goical.PropVersion, "2.0")

	fb := goical.NewComponent(goical.CompFreeBusy)
	fb.Props.SetText(goical.PropUID, uuid.NewString())
	fb.Props.SetDateTime(goical.PropDateTimeStamp, time.Now().UTC())
	if !start.IsZero() {
		fb.Props.SetDateTime(goical.PropDateTimeStart, start)
	}
	if !end.IsZero() {
		fb.Props.SetDateTime(goical.PropDateTimeEnd, end)
	}

	for _, p := range periods {
		prop := goical.NewProp(goical.PropFreeBusy)
		prop.Value = p.Start.UTC().Format("20060102T150405Z") + "/" + p.End.UTC().Format("20060102T150405Z")
		if p.Type != Busy {
			prop.Params.Set(goical.ParamFreeBusyType, string(p.Type))
		}
		fb.Props.Add(prop)
	}

	cal.Children = append(cal.Children, fb)
	return cal
}
