package ics

import (
	"log"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/calnotify/calnotify/internal/domain"
)

// maxOccurrencesPerEvent caps expansion of a single recurring event so a
// pathological RRULE cannot blow up a pass.
const maxOccurrencesPerEvent = 1000

// Expand turns the calendar's events into concrete occurrences whose start
// time falls inside [from, to] inclusive. Recurring events are expanded via
// their RRULE with EXDATEs removed; single events are window-checked directly.
func Expand(cal *Calendar, from, to time.Time) []*domain.Occurrence {
	var out []*domain.Occurrence

	for i := range cal.Events {
		ev := &cal.Events[i]
		if ev.RawRRule == "" {
			if occ := expandSingle(ev, from, to); occ != nil {
				out = append(out, occ)
			}
			continue
		}
		out = append(out, expandRecurring(ev, from, to)...)
	}

	return out
}

func expandSingle(ev *Event, from, to time.Time) *domain.Occurrence {
	if ev.Start.Before(from) || ev.Start.After(to) {
		return nil
	}
	return domain.NewOccurrence(ev.Summary, ev.Description, ev.Status, ev.Location, ev.Start, ev.End)
}

func expandRecurring(ev *Event, from, to time.Time) []*domain.Occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		log.Printf("Skipping event %q: invalid RRULE %q: %v", ev.UID, ev.RawRRule, err)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)
	if len(starts) > maxOccurrencesPerEvent {
		log.Printf("Truncating event %q to %d occurrences", ev.UID, maxOccurrencesPerEvent)
		starts = starts[:maxOccurrencesPerEvent]
	}

	duration := ev.End.Sub(ev.Start)
	out := make([]*domain.Occurrence, 0, len(starts))
	for _, start := range starts {
		out = append(out, domain.NewOccurrence(
			ev.Summary, ev.Description, ev.Status, ev.Location,
			start, start.Add(duration),
		))
	}
	return out
}
