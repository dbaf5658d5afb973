// Package schedule turns availability rules into concrete bookable start instants.
// Everything here is a pure computation: no I/O, no shared state.
package schedule

import (
	"sort"
	"time"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

// Generate returns the ordered start instants (UTC) of every lesson of durationMinutes
// that fits the tutor's effective ranges and starts inside [from, to).
//
// Days are walked as calendar dates in the tutor's timezone, so an exception for
// 2024-03-10 applies to that local date whatever UTC day it spans.
func Generate(rules *model.AvailabilityRules, from, to time.Time, durationMinutes int) []time.Time {
	if rules == nil || !from.Before(to) || durationMinutes <= 0 || rules.SlotIntervalMinutes <= 0 {
		return nil
	}

	loc, err := rules.Location()
	if err != nil {
		return nil
	}

	duration := time.Duration(durationMinutes) * time.Minute
	interval := rules.SlotIntervalMinutes

	// Курсор по календарным датам; зона UTC только для арифметики дат
	fromLocal := from.In(loc)
	toLocal := to.In(loc)
	day := time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day()-1, 0, 0, 0, 0, time.UTC)
	last := time.Date(toLocal.Year(), toLocal.Month(), toLocal.Day()+1, 0, 0, 0, 0, time.UTC)

	var slots []time.Time
	seen := make(map[int64]struct{})

	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		date := day.Format(model.DateLayout)

		for _, rng := range rules.RangesFor(date, day.Weekday()) {
			startMin, err := model.ParseClock(rng.Start)
			if err != nil {
				continue
			}
			endMin, err := model.ParseClock(rng.End)
			if err != nil || startMin >= endMin {
				continue
			}

			rangeEnd := wallClock(day, endMin, loc)

			first := startMin
			if rules.SlotStartPolicy == model.SlotStartAligned {
				if rem := first % interval; rem != 0 {
					first += interval - rem
				}
			}

			for m := first; m < endMin; m += interval {
				at, ok := exactWallClock(day, m, loc)
				if !ok {
					// не существует в этой зоне (переход на летнее время)
					continue
				}
				if at.Add(duration).After(rangeEnd) {
					continue
				}
				if at.Before(from) || !at.Before(to) {
					continue
				}

				key := at.UnixNano()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				slots = append(slots, at.UTC())
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

// IsBookable reports whether start is one of the instants Generate produces for a
// lesson of durationMinutes.
func IsBookable(rules *model.AvailabilityRules, start time.Time, durationMinutes int) bool {
	for _, at := range Generate(rules, start, start.Add(time.Minute), durationMinutes) {
		if at.Equal(start) {
			return true
		}
	}
	return false
}

// wallClock returns the instant of minutes after local midnight of day in loc.
// minutes may be 1440 for the end of the day.
func wallClock(day time.Time, minutes int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, minutes, 0, 0, loc)
}

// exactWallClock is wallClock that rejects wall times skipped by a DST jump.
func exactWallClock(day time.Time, minutes int, loc *time.Location) (time.Time, bool) {
	t := wallClock(day, minutes, loc)
	if t.Day() != day.Day() || t.Hour()*60+t.Minute() != minutes {
		return time.Time{}, false
	}
	return t, true
}
