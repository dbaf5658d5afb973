package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRules() *AvailabilityRules {
	rules := DefaultAvailabilityRules(1)
	rules.Timezone = "Europe/Berlin"
	rules.Weekly[1] = []TimeRange{{Start: "09:00", End: "12:00"}, {Start: "14:00", End: "24:00"}}
	rules.Exceptions = []DateException{
		{Date: "2024-01-10", Closed: true},
		{Date: "2024-01-11", Slots: []TimeRange{{Start: "10:00", End: "11:00"}}},
	}
	return rules
}

func TestAvailabilityRules_ValidateAccepts(t *testing.T) {
	require.NoError(t, validRules().Validate())
	require.NoError(t, DefaultAvailabilityRules(2).Validate())
}

func TestAvailabilityRules_ValidateCollectsEveryField(t *testing.T) {
	rules := validRules()
	rules.Timezone = "Mars/Olympus"
	rules.SlotIntervalMinutes = 1
	rules.SlotStartPolicy = "random"
	rules.Weekly[7] = []TimeRange{{Start: "09:00", End: "10:00"}}
	rules.Weekly[2] = []TimeRange{{Start: "11:00", End: "10:00"}}
	rules.Exceptions = append(rules.Exceptions,
		DateException{Date: "2024-01-10"},
		DateException{Date: "2024-02-01", Closed: true, Slots: []TimeRange{{Start: "09:00", End: "10:00"}}},
	)

	err := rules.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	fields := make(map[string]bool)
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{
		"timezone",
		"slot_interval_minutes",
		"slot_start_policy",
		"weekly[2][0]",
		"weekly[7]",
		"exceptions[2].date",
		"exceptions[3].slots",
	} {
		assert.True(t, fields[want], "missing field error %s in %v", want, verr.Fields)
	}
}

func TestAvailabilityRules_ValidateRejectsOverlap(t *testing.T) {
	rules := validRules()
	rules.Weekly[3] = []TimeRange{{Start: "09:00", End: "11:00"}, {Start: "10:30", End: "12:00"}}
	assert.Error(t, rules.Validate())
}

func TestAvailabilityRules_RangesFor(t *testing.T) {
	rules := validRules()

	assert.Nil(t, rules.RangesFor("2024-01-10", 3), "closed exception")
	assert.Equal(t, []TimeRange{{Start: "10:00", End: "11:00"}}, rules.RangesFor("2024-01-11", 4))
	assert.Len(t, rules.RangesFor("2024-01-15", 1), 2)
	assert.Empty(t, rules.RangesFor("2024-01-16", 2))
}

func TestAvailabilityRules_CloneIsDeep(t *testing.T) {
	rules := validRules()
	clone := rules.Clone()
	clone.Weekly[1][0].Start = "08:00"
	clone.Exceptions[1].Slots[0].End = "12:00"

	assert.Equal(t, "09:00", rules.Weekly[1][0].Start)
	assert.Equal(t, "11:00", rules.Exceptions[1].Slots[0].End)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"9:30", 0, true},
		{"12:60", 0, true},
		{"ab:cd", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, FormatClock(got))
	}
}
