package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

func rulesFor(tz string, interval int, policy model.SlotStartPolicy, weekly map[int][]model.TimeRange, exceptions ...model.DateException) *model.AvailabilityRules {
	return &model.AvailabilityRules{
		TutorID:             1,
		Timezone:            tz,
		SlotIntervalMinutes: interval,
		SlotStartPolicy:     policy,
		Weekly:              weekly,
		Exceptions:          exceptions,
	}
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGenerate_AlignedMondayWindow(t *testing.T) {
	// 2024-01-15 is a Monday.
	rules := rulesFor("UTC", 30, model.SlotStartAligned, map[int][]model.TimeRange{
		1: {{Start: "09:00", End: "12:00"}},
	})

	got := Generate(rules, utc("2024-01-15T10:15:00Z"), utc("2024-01-15T11:00:00Z"), 30)

	assert.Equal(t, []time.Time{utc("2024-01-15T10:30:00Z")}, got)
}

func TestGenerate_WholeRange(t *testing.T) {
	rules := rulesFor("UTC", 30, model.SlotStartAligned, map[int][]model.TimeRange{
		1: {{Start: "09:00", End: "12:00"}},
	})

	got := Generate(rules, utc("2024-01-15T00:00:00Z"), utc("2024-01-16T00:00:00Z"), 60)

	assert.Equal(t, []time.Time{
		utc("2024-01-15T09:00:00Z"),
		utc("2024-01-15T09:30:00Z"),
		utc("2024-01-15T10:00:00Z"),
		utc("2024-01-15T10:30:00Z"),
		utc("2024-01-15T11:00:00Z"),
	}, got)
}

func TestGenerate_StartPolicy(t *testing.T) {
	weekly := map[int][]model.TimeRange{1: {{Start: "09:10", End: "10:30"}}}
	from, to := utc("2024-01-15T00:00:00Z"), utc("2024-01-16T00:00:00Z")

	tests := []struct {
		name   string
		policy model.SlotStartPolicy
		want   []time.Time
	}{
		{
			name:   "free starts at range start",
			policy: model.SlotStartFree,
			want:   []time.Time{utc("2024-01-15T09:10:00Z"), utc("2024-01-15T09:40:00Z")},
		},
		{
			name:   "aligned snaps to the next interval boundary",
			policy: model.SlotStartAligned,
			want:   []time.Time{utc("2024-01-15T09:30:00Z"), utc("2024-01-15T10:00:00Z")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(rulesFor("UTC", 30, tt.policy, weekly), from, to, 30)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerate_EdgeCases(t *testing.T) {
	rules := rulesFor("UTC", 30, model.SlotStartAligned, map[int][]model.TimeRange{
		1: {{Start: "09:00", End: "10:00"}},
	})
	at := utc("2024-01-15T09:00:00Z")

	assert.Empty(t, Generate(rules, at, at, 30), "zero-length window")
	assert.Empty(t, Generate(rules, at.Add(time.Hour), at, 30), "inverted window")
	assert.Empty(t, Generate(rules, at, at.Add(24*time.Hour), 90), "duration longer than every range")
	assert.Empty(t, Generate(rules, at, at.Add(24*time.Hour), 0), "zero duration")
	assert.Empty(t, Generate(model.DefaultAvailabilityRules(1), at, at.Add(7*24*time.Hour), 30), "default rules have no availability")
}

func TestGenerate_Exceptions(t *testing.T) {
	weekly := map[int][]model.TimeRange{1: {{Start: "09:00", End: "11:00"}}}
	from, to := utc("2024-01-15T00:00:00Z"), utc("2024-01-16T00:00:00Z")

	t.Run("closed date has no slots", func(t *testing.T) {
		rules := rulesFor("UTC", 60, model.SlotStartAligned, weekly, model.DateException{Date: "2024-01-15", Closed: true})
		assert.Empty(t, Generate(rules, from, to, 60))
	})

	t.Run("custom slots replace weekly ranges", func(t *testing.T) {
		rules := rulesFor("UTC", 60, model.SlotStartAligned, weekly, model.DateException{
			Date:  "2024-01-15",
			Slots: []model.TimeRange{{Start: "14:00", End: "16:00"}},
		})
		assert.Equal(t, []time.Time{
			utc("2024-01-15T14:00:00Z"),
			utc("2024-01-15T15:00:00Z"),
		}, Generate(rules, from, to, 60))
	})

	t.Run("exception on a weekday without weekly ranges opens it", func(t *testing.T) {
		rules := rulesFor("UTC", 60, model.SlotStartAligned, weekly, model.DateException{
			Date:  "2024-01-16",
			Slots: []model.TimeRange{{Start: "08:00", End: "09:00"}},
		})
		got := Generate(rules, from, to.Add(24*time.Hour), 60)
		assert.Contains(t, got, utc("2024-01-16T08:00:00Z"))
	})
}

func TestGenerate_ExceptionMatchedByTutorLocalDate(t *testing.T) {
	// 08:00 on Monday 2024-01-15 in Tokyo is 23:00 UTC on Sunday 2024-01-14.
	weekly := map[int][]model.TimeRange{1: {{Start: "08:00", End: "09:00"}}}
	from, to := utc("2024-01-14T00:00:00Z"), utc("2024-01-16T00:00:00Z")

	open := rulesFor("Asia/Tokyo", 60, model.SlotStartAligned, weekly)
	assert.Equal(t, []time.Time{utc("2024-01-14T23:00:00Z")}, Generate(open, from, to, 60))

	closed := rulesFor("Asia/Tokyo", 60, model.SlotStartAligned, weekly, model.DateException{Date: "2024-01-15", Closed: true})
	assert.Empty(t, Generate(closed, from, to, 60))

	wrongDay := rulesFor("Asia/Tokyo", 60, model.SlotStartAligned, weekly, model.DateException{Date: "2024-01-14", Closed: true})
	assert.Equal(t, []time.Time{utc("2024-01-14T23:00:00Z")}, Generate(wrongDay, from, to, 60))
}

func TestGenerate_AcrossDSTBoundary(t *testing.T) {
	// US clocks spring forward on Sunday 2024-03-10. 20:00 local is 01:00Z (EST)
	// before the change and 00:00Z (EDT) after it, on the next UTC day.
	weekly := map[int][]model.TimeRange{0: {{Start: "20:00", End: "22:00"}}}
	from, to := utc("2024-03-03T00:00:00Z"), utc("2024-03-18T12:00:00Z")

	t.Run("offsets follow the zone", func(t *testing.T) {
		rules := rulesFor("America/New_York", 60, model.SlotStartAligned, weekly)
		assert.Equal(t, []time.Time{
			utc("2024-03-04T01:00:00Z"),
			utc("2024-03-04T02:00:00Z"),
			utc("2024-03-11T00:00:00Z"),
			utc("2024-03-11T01:00:00Z"),
			utc("2024-03-18T00:00:00Z"),
			utc("2024-03-18T01:00:00Z"),
		}, Generate(rules, from, to, 60))
	})

	t.Run("exception on the transition date", func(t *testing.T) {
		rules := rulesFor("America/New_York", 60, model.SlotStartAligned, weekly,
			model.DateException{Date: "2024-03-10", Closed: true})
		assert.Equal(t, []time.Time{
			utc("2024-03-04T01:00:00Z"),
			utc("2024-03-04T02:00:00Z"),
			utc("2024-03-18T00:00:00Z"),
			utc("2024-03-18T01:00:00Z"),
		}, Generate(rules, from, to, 60))
	})

	t.Run("exception dated by the UTC day does not apply", func(t *testing.T) {
		rules := rulesFor("America/New_York", 60, model.SlotStartAligned, weekly,
			model.DateException{Date: "2024-03-11", Closed: true})
		assert.Len(t, Generate(rules, from, to, 60), 6)
	})
}

func TestGenerate_SkipsWallTimesInsideDSTGap(t *testing.T) {
	// Berlin jumps from 02:00 CET to 03:00 CEST on Sunday 2024-03-31.
	rules := rulesFor("Europe/Berlin", 30, model.SlotStartAligned, map[int][]model.TimeRange{
		0: {{Start: "01:00", End: "04:00"}},
	})

	got := Generate(rules, utc("2024-03-30T00:00:00Z"), utc("2024-04-01T00:00:00Z"), 30)

	assert.Equal(t, []time.Time{
		utc("2024-03-31T00:00:00Z"),
		utc("2024-03-31T00:30:00Z"),
		utc("2024-03-31T01:00:00Z"),
		utc("2024-03-31T01:30:00Z"),
	}, got)
}

func TestGenerate_EverySlotFitsItsRange(t *testing.T) {
	ruleSets := []*model.AvailabilityRules{
		rulesFor("UTC", 25, model.SlotStartFree, map[int][]model.TimeRange{
			1: {{Start: "07:05", End: "09:00"}, {Start: "13:00", End: "18:40"}},
			3: {{Start: "00:00", End: "24:00"}},
		}),
		rulesFor("America/Sao_Paulo", 45, model.SlotStartAligned, map[int][]model.TimeRange{
			2: {{Start: "06:00", End: "08:15"}},
			5: {{Start: "18:20", End: "23:50"}},
		}, model.DateException{Date: "2024-01-19", Slots: []model.TimeRange{{Start: "10:00", End: "12:00"}}}),
		rulesFor("Australia/Adelaide", 15, model.SlotStartAligned, map[int][]model.TimeRange{
			0: {{Start: "09:00", End: "10:00"}},
			6: {{Start: "22:30", End: "24:00"}},
		}),
	}
	from, to := utc("2024-01-14T05:17:00Z"), utc("2024-01-28T19:43:00Z")

	for i, rules := range ruleSets {
		loc, err := rules.Location()
		require.NoError(t, err)

		for _, duration := range []int{15, 30, 60, 90} {
			slots := Generate(rules, from, to, duration)
			for j, at := range slots {
				if j > 0 {
					require.True(t, slots[j-1].Before(at), "rules %d: output must be strictly ascending", i)
				}
				require.False(t, at.Before(from), "rules %d: %s before window", i, at)
				require.True(t, at.Before(to), "rules %d: %s after window", i, at)

				local := at.In(loc)
				day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
				fits := false
				for _, rng := range rules.RangesFor(day.Format(model.DateLayout), day.Weekday()) {
					startMin, _ := model.ParseClock(rng.Start)
					endMin, _ := model.ParseClock(rng.End)
					rangeStart := wallClock(day, startMin, loc)
					rangeEnd := wallClock(day, endMin, loc)
					if !at.Before(rangeStart) && !at.Add(time.Duration(duration)*time.Minute).After(rangeEnd) {
						fits = true
						break
					}
				}
				require.True(t, fits, "rules %d: %s (duration %d) outside every effective range", i, at, duration)
			}
		}
	}
}

func TestIsBookable(t *testing.T) {
	rules := rulesFor("UTC", 30, model.SlotStartAligned, map[int][]model.TimeRange{
		1: {{Start: "09:00", End: "12:00"}},
	})

	assert.True(t, IsBookable(rules, utc("2024-01-15T10:30:00Z"), 60))
	assert.False(t, IsBookable(rules, utc("2024-01-15T10:15:00Z"), 60), "not aligned")
	assert.False(t, IsBookable(rules, utc("2024-01-15T11:30:00Z"), 60), "runs past range end")
	assert.False(t, IsBookable(rules, utc("2024-01-16T10:30:00Z"), 60), "no availability on Tuesday")
}
