package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pondcontrol/internal/device"
)

// localTime builds a local-time instant on a known weekday.
// 2024-01-01 is a Monday (weekday 1).
func localTime(day int, hour, minute, second int) time.Time {
	return time.Date(2024, 1, day, hour, minute, second, 0, time.Local)
}

func aeratorSchedule(id string, start, end int, weekdays []int) Schedule {
	return Schedule{
		ID:          id,
		DeviceType:  device.TypeAerator,
		StartMinute: start,
		EndMinute:   end,
		Weekdays:    weekdays,
		Enabled:     true,
		Repeat:      RepeatRecurring,
	}
}

func TestDueInsideFiringWindow(t *testing.T) {
	evaluator := NewEvaluator()
	// 08:00 - 08:05, active Monday
	s := aeratorSchedule("s1", 480, 485, []int{1})

	// Exactly at the start minute
	due := evaluator.Due(localTime(1, 8, 0, 0), []Schedule{s})
	require.Len(t, due, 1)
	assert.Equal(t, KindOn, due[0].Kind)
	assert.Equal(t, 480, due[0].Minute)

	// Thirty seconds later, still minute 480
	due = evaluator.Due(localTime(1, 8, 0, 30), []Schedule{s})
	require.Len(t, due, 1)
	assert.Equal(t, KindOn, due[0].Kind)

	// One minute in, still inside the window
	due = evaluator.Due(localTime(1, 8, 1, 0), []Schedule{s})
	require.Len(t, due, 1)

	// Two minutes in, window closed
	due = evaluator.Due(localTime(1, 8, 2, 0), []Schedule{s})
	assert.Empty(t, due)
}

func TestDueOffTransition(t *testing.T) {
	evaluator := NewEvaluator()
	s := aeratorSchedule("s1", 480, 485, []int{1})

	due := evaluator.Due(localTime(1, 8, 5, 0), []Schedule{s})
	require.Len(t, due, 1)
	assert.Equal(t, KindOff, due[0].Kind)
	assert.Equal(t, 485, due[0].Minute)
}

func TestDueBothTransitionsAdjacentWindow(t *testing.T) {
	evaluator := NewEvaluator()
	// End one minute after start: at the end minute both windows overlap
	s := aeratorSchedule("s1", 480, 481, []int{1})

	due := evaluator.Due(localTime(1, 8, 1, 0), []Schedule{s})
	require.Len(t, due, 2)
	assert.Equal(t, KindOn, due[0].Kind)
	assert.Equal(t, KindOff, due[1].Kind)
}

func TestDueSkipsDisabledAndWrongWeekday(t *testing.T) {
	evaluator := NewEvaluator()

	disabled := aeratorSchedule("s1", 480, 485, []int{1})
	disabled.Enabled = false

	// Active Tuesday only, evaluated on a Monday
	wrongDay := aeratorSchedule("s2", 480, 485, []int{2})

	due := evaluator.Due(localTime(1, 8, 0, 0), []Schedule{disabled, wrongDay})
	assert.Empty(t, due)
}

func TestDueDateIsEvaluationDate(t *testing.T) {
	evaluator := NewEvaluator()
	s := aeratorSchedule("s1", 480, 485, []int{1})

	due := evaluator.Due(localTime(1, 8, 0, 0), []Schedule{s})
	require.Len(t, due, 1)
	assert.Equal(t, DateOf(localTime(1, 8, 0, 0)), due[0].Date)
}

func TestNextFindsUpcomingStartToday(t *testing.T) {
	evaluator := NewEvaluator()
	s := aeratorSchedule("s1", 480, 485, []int{1})

	// Monday 07:30: start is 30 minutes away
	next, ok := evaluator.Next(localTime(1, 7, 30, 0), []Schedule{s})
	require.True(t, ok)
	assert.Equal(t, "s1", next.Schedule.ID)
	assert.Equal(t, KindOn, next.Kind)
	assert.Equal(t, 30, next.MinutesUntil)
}

func TestNextPrefersEndWhenInsideWindow(t *testing.T) {
	evaluator := NewEvaluator()
	s := aeratorSchedule("s1", 480, 485, []int{1})

	// Monday 08:02: start has passed, end is 3 minutes away
	next, ok := evaluator.Next(localTime(1, 8, 2, 0), []Schedule{s})
	require.True(t, ok)
	assert.Equal(t, KindOff, next.Kind)
	assert.Equal(t, 3, next.MinutesUntil)
}

func TestNextWrapsToNextWeek(t *testing.T) {
	evaluator := NewEvaluator()
	// Monday-only schedule, evaluated Monday after it has fully passed
	s := aeratorSchedule("s1", 480, 485, []int{1})

	next, ok := evaluator.Next(localTime(1, 9, 0, 0), []Schedule{s})
	require.True(t, ok)
	assert.Equal(t, KindOn, next.Kind)
	// Next Monday 08:00 from Monday 09:00 is 7 days minus 1 hour
	assert.Equal(t, 7*24*60-60, next.MinutesUntil)
}

func TestNextScansLaterWeekdays(t *testing.T) {
	evaluator := NewEvaluator()
	// Thursday-only (weekday 4), evaluated Monday
	s := aeratorSchedule("s1", 600, 660, []int{4})

	next, ok := evaluator.Next(localTime(1, 9, 0, 0), []Schedule{s})
	require.True(t, ok)
	assert.Equal(t, KindOn, next.Kind)
	// Three days ahead at 10:00 from Monday 09:00
	assert.Equal(t, 3*24*60+60, next.MinutesUntil)
}

func TestNextIgnoresDisabled(t *testing.T) {
	evaluator := NewEvaluator()
	s := aeratorSchedule("s1", 480, 485, []int{1})
	s.Enabled = false

	_, ok := evaluator.Next(localTime(1, 7, 0, 0), []Schedule{s})
	assert.False(t, ok)
}

func TestNextPicksMinimumAcrossSchedules(t *testing.T) {
	evaluator := NewEvaluator()
	far := aeratorSchedule("far", 600, 660, []int{1})
	near := aeratorSchedule("near", 490, 495, []int{1})

	next, ok := evaluator.Next(localTime(1, 8, 0, 0), []Schedule{far, near})
	require.True(t, ok)
	assert.Equal(t, "near", next.Schedule.ID)
	assert.Equal(t, 10, next.MinutesUntil)
}

func TestDecodeListSkipsMalformedRecords(t *testing.T) {
	raw := json.RawMessage(`[
		{"id":"good","deviceType":"aerator","startMinute":480,"endMinute":485,"weekdays":[1],"enabled":true,"repeat":"recurring"},
		{"id":"","deviceType":"aerator","startMinute":480,"endMinute":485,"weekdays":[1],"enabled":true,"repeat":"recurring"},
		{"id":"badminute","deviceType":"aerator","startMinute":9999,"endMinute":485,"weekdays":[1],"enabled":true,"repeat":"recurring"},
		{"id":"badrepeat","deviceType":"aerator","startMinute":480,"endMinute":485,"weekdays":[1],"enabled":true,"repeat":"sometimes"},
		"not an object"
	]`)

	schedules, skipped, err := DecodeList(raw)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "good", schedules[0].ID)
	assert.Equal(t, 4, skipped)
}

func TestDecodeListAcceptsIDKeyedObject(t *testing.T) {
	raw := json.RawMessage(`{
		"s1": {"id":"s1","deviceType":"light","startMinute":1080,"endMinute":1260,"weekdays":[0,6],"enabled":true,"repeat":"recurring"},
		"s2": true
	}`)

	schedules, skipped, err := DecodeList(raw)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "s1", schedules[0].ID)
	assert.Equal(t, 1, skipped)
}

func TestDecodeListRejectsNonCollection(t *testing.T) {
	_, _, err := DecodeList(json.RawMessage(`42`))
	assert.Error(t, err)
}

func TestMinuteOfDayAndDateOf(t *testing.T) {
	at := localTime(1, 8, 30, 45)
	assert.Equal(t, 510, MinuteOfDay(at))
	assert.Equal(t, localTime(1, 0, 0, 0), DateOf(at))
}
