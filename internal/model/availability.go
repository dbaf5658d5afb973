package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SlotStartPolicy определяет, как выбирается первый старт внутри окна доступности
type SlotStartPolicy string

const (
	SlotStartFree    SlotStartPolicy = "free"    // старт ровно с начала окна
	SlotStartAligned SlotStartPolicy = "aligned" // старт выравнивается по интервалу от полуночи
)

const (
	MinSlotIntervalMinutes = 5
	MaxSlotIntervalMinutes = 480

	DefaultSlotIntervalMinutes = 30
	DefaultTimezone            = "UTC"

	// DateLayout is the calendar date format used by exceptions.
	DateLayout = "2006-01-02"
)

// TimeRange is a wall-clock range within a single day, "HH:MM"-"HH:MM".
// End may be "24:00" to close the range at midnight.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DateException overrides the weekly rule for one calendar date in the tutor's timezone.
type DateException struct {
	Date   string      `json:"date"` // YYYY-MM-DD
	Closed bool        `json:"closed"`
	Slots  []TimeRange `json:"slots,omitempty"`
}

// AvailabilityRules описывает доступность учителя: недельный шаблон + исключения по датам
type AvailabilityRules struct {
	TutorID             int64               `json:"tutor_id"`
	Timezone            string              `json:"timezone"`
	SlotIntervalMinutes int                 `json:"slot_interval_minutes"`
	SlotStartPolicy     SlotStartPolicy     `json:"slot_start_policy"`
	Weekly              map[int][]TimeRange `json:"weekly"` // 0 = Sunday, 6 = Saturday
	Exceptions          []DateException     `json:"exceptions"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// DefaultAvailabilityRules returns the rules used for a tutor who never saved any:
// UTC, 30 minute interval, aligned starts and no availability at all.
func DefaultAvailabilityRules(tutorID int64) *AvailabilityRules {
	return &AvailabilityRules{
		TutorID:             tutorID,
		Timezone:            DefaultTimezone,
		SlotIntervalMinutes: DefaultSlotIntervalMinutes,
		SlotStartPolicy:     SlotStartAligned,
		Weekly:              map[int][]TimeRange{},
		Exceptions:          []DateException{},
	}
}

// Location loads the tutor's timezone.
func (r *AvailabilityRules) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

// Exception returns the exception for the given local date, if any.
func (r *AvailabilityRules) Exception(date string) (DateException, bool) {
	for _, ex := range r.Exceptions {
		if ex.Date == date {
			return ex, true
		}
	}
	return DateException{}, false
}

// RangesFor resolves the effective ranges for a local calendar date.
// An exception replaces the weekly ranges for its date.
func (r *AvailabilityRules) RangesFor(date string, weekday time.Weekday) []TimeRange {
	if ex, ok := r.Exception(date); ok {
		if ex.Closed {
			return nil
		}
		return ex.Slots
	}
	return r.Weekly[int(weekday)]
}

// Clone returns a deep copy so callers can modify rules without touching stored state.
func (r *AvailabilityRules) Clone() *AvailabilityRules {
	out := *r
	out.Weekly = make(map[int][]TimeRange, len(r.Weekly))
	for d, ranges := range r.Weekly {
		out.Weekly[d] = append([]TimeRange(nil), ranges...)
	}
	out.Exceptions = make([]DateException, 0, len(r.Exceptions))
	for _, ex := range r.Exceptions {
		ex.Slots = append([]TimeRange(nil), ex.Slots...)
		out.Exceptions = append(out.Exceptions, ex)
	}
	return &out
}

// Validate checks all rule invariants. Input is never corrected: the first pass collects
// every violation and returns them together as a *ValidationError.
func (r *AvailabilityRules) Validate() error {
	var fields []FieldError

	if _, err := time.LoadLocation(r.Timezone); err != nil || r.Timezone == "" {
		fields = append(fields, FieldError{Field: "timezone", Error: "unknown timezone"})
	}

	if r.SlotIntervalMinutes < MinSlotIntervalMinutes || r.SlotIntervalMinutes > MaxSlotIntervalMinutes {
		fields = append(fields, FieldError{
			Field: "slot_interval_minutes",
			Error: fmt.Sprintf("must be between %d and %d", MinSlotIntervalMinutes, MaxSlotIntervalMinutes),
		})
	}

	switch r.SlotStartPolicy {
	case SlotStartFree, SlotStartAligned:
	default:
		fields = append(fields, FieldError{Field: "slot_start_policy", Error: "must be free or aligned"})
	}

	weekdays := make([]int, 0, len(r.Weekly))
	for d := range r.Weekly {
		weekdays = append(weekdays, d)
	}
	sort.Ints(weekdays)
	for _, d := range weekdays {
		field := fmt.Sprintf("weekly[%d]", d)
		if d < 0 || d > 6 {
			fields = append(fields, FieldError{Field: field, Error: "weekday must be between 0 and 6"})
			continue
		}
		fields = append(fields, validateRanges(field, r.Weekly[d])...)
	}

	seen := make(map[string]bool, len(r.Exceptions))
	for i, ex := range r.Exceptions {
		field := fmt.Sprintf("exceptions[%d]", i)
		if _, err := time.Parse(DateLayout, ex.Date); err != nil {
			fields = append(fields, FieldError{Field: field + ".date", Error: "must be YYYY-MM-DD"})
		} else if seen[ex.Date] {
			fields = append(fields, FieldError{Field: field + ".date", Error: "duplicate exception date"})
		}
		seen[ex.Date] = true

		if ex.Closed && len(ex.Slots) > 0 {
			fields = append(fields, FieldError{Field: field + ".slots", Error: "closed exception cannot carry slots"})
			continue
		}
		fields = append(fields, validateRanges(field+".slots", ex.Slots)...)
	}

	if len(fields) > 0 {
		return NewValidationError(errors.New("invalid availability rules"), fields...)
	}
	return nil
}

func validateRanges(field string, ranges []TimeRange) []FieldError {
	var fields []FieldError
	prevEnd := -1
	for i, rng := range ranges {
		f := fmt.Sprintf("%s[%d]", field, i)
		start, err := ParseClock(rng.Start)
		if err != nil {
			fields = append(fields, FieldError{Field: f + ".start", Error: err.Error()})
			continue
		}
		end, err := ParseClock(rng.End)
		if err != nil {
			fields = append(fields, FieldError{Field: f + ".end", Error: err.Error()})
			continue
		}
		if start >= end {
			fields = append(fields, FieldError{Field: f, Error: "start must be before end"})
			continue
		}
		if start < prevEnd {
			fields = append(fields, FieldError{Field: f, Error: "ranges must be sorted and non-overlapping"})
		}
		prevEnd = end
	}
	return fields
}

// ParseClock parses "HH:MM" into minutes after midnight. "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	if h == 24 && m == 0 {
		return 24 * 60, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q is out of range", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
