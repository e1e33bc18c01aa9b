package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Event is the normalized representation of a single VEVENT. Recurrence is
// kept unexpanded here; expansion happens in expand.go.
type Event struct {
	UID         string
	Summary     string
	Description string
	Status      string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
}

// Calendar is a parsed ICS document reduced to its VEVENT components.
// Non-event components (VTODO, VJOURNAL and friends) are dropped at parse
// time; they never produce notifications.
type Calendar struct {
	Events []Event
}

// Parse decodes raw ICS text into a Calendar. A document that is not valid
// iCalendar fails as a whole; individual broken VEVENTs are skipped.
func Parse(raw string) (*Calendar, error) {
	dec := ical.NewDecoder(strings.NewReader(raw))

	cal := &Calendar{}
	decoded := 0

	for {
		c, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}
		decoded++

		for _, comp := range c.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, err := parseEvent(comp)
			if err != nil {
				continue
			}
			cal.Events = append(cal.Events, ev)
		}
	}

	if decoded == 0 {
		return nil, fmt.Errorf("no calendar data found")
	}
	return cal, nil
}

func parseEvent(comp *ical.Component) (Event, error) {
	var ev Event

	if p := comp.Props.Get(ical.PropUID); p != nil {
		ev.UID = p.Value
	}
	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropStatus); p != nil {
		ev.Status = p.Value
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		ev.Location = p.Value
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return ev, fmt.Errorf("event %q has no DTSTART", ev.UID)
	}
	start, err := startProp.DateTime(time.UTC)
	if err != nil {
		return ev, fmt.Errorf("event %q: parse DTSTART: %w", ev.UID, err)
	}
	ev.Start = start
	if vt := startProp.Params.Get(ical.ParamValue); vt == string(ical.ValueDate) {
		ev.AllDay = true
	}

	if endProp := comp.Props.Get(ical.PropDateTimeEnd); endProp != nil {
		if end, err := endProp.DateTime(time.UTC); err == nil {
			ev.End = end
		}
	}
	if ev.End.IsZero() {
		if ev.AllDay {
			ev.End = ev.Start.Add(24 * time.Hour)
		} else {
			ev.End = ev.Start
		}
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		ev.RawRRule = p.Value
	}

	// EXDATE may repeat and each value may hold a comma-separated list.
	// Raw name is used here: the list form is not covered by the typed
	// property helpers.
	for _, p := range comp.Props["EXDATE"] {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}

	return ev, nil
}

// parseICSTime parses bare ICS date/date-time strings as used by EXDATE.
func parseICSTime(v string) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	default:
		return time.ParseInLocation("20060102", v, time.UTC)
	}
}
