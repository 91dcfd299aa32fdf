// Package schedule defines time-window schedules for device types and the
// pure evaluator that decides which transitions are due at an instant.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"pondcontrol/internal/device"
)

// Repeat controls whether a schedule keeps firing after its first full run.
type Repeat string

const (
	RepeatOnce      Repeat = "once"
	RepeatRecurring Repeat = "recurring"
)

// Schedule is a time-of-day/day-of-week window owned by the remote store.
// The core only writes back LastExecuted and, for a once schedule, Enabled.
type Schedule struct {
	ID          string      `json:"id"`
	DeviceType  device.Type `json:"deviceType"`
	StartMinute int         `json:"startMinute"`
	EndMinute   int         `json:"endMinute"`
	Weekdays    []int       `json:"weekdays"`
	Enabled     bool        `json:"enabled"`
	Repeat      Repeat      `json:"repeat"`
	// LastExecuted is a unix timestamp in seconds, zero if never fired.
	LastExecuted int64 `json:"lastExecuted,omitempty"`
}

// Validate reports whether a decoded schedule record is usable.
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schedule missing id")
	}
	if s.StartMinute < 0 || s.StartMinute >= minutesPerDay {
		return fmt.Errorf("schedule %s start minute %d out of range", s.ID, s.StartMinute)
	}
	if s.EndMinute < 0 || s.EndMinute >= minutesPerDay {
		return fmt.Errorf("schedule %s end minute %d out of range", s.ID, s.EndMinute)
	}
	if len(s.Weekdays) == 0 {
		return fmt.Errorf("schedule %s has no weekdays", s.ID)
	}
	for _, wd := range s.Weekdays {
		if wd < 0 || wd > 6 {
			return fmt.Errorf("schedule %s has invalid weekday %d", s.ID, wd)
		}
	}
	switch s.Repeat {
	case RepeatOnce, RepeatRecurring:
	default:
		return fmt.Errorf("schedule %s has unknown repeat policy %q", s.ID, s.Repeat)
	}
	return nil
}

// ActiveOn reports whether the schedule applies to the given weekday (0-6,
// Sunday first, matching time.Weekday).
func (s *Schedule) ActiveOn(weekday int) bool {
	for _, wd := range s.Weekdays {
		if wd == weekday {
			return true
		}
	}
	return false
}

// DecodeList parses a remote schedule collection, returning the valid records
// and the number of malformed ones that were skipped. The store returns
// collections either as an id-keyed object or as an array.
func DecodeList(raw json.RawMessage) ([]Schedule, int, error) {
	records, err := collectionRecords(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("decode schedule list: %w", err)
	}

	schedules := make([]Schedule, 0, len(records))
	skipped := 0
	for _, record := range records {
		var s Schedule
		if err := json.Unmarshal(record, &s); err != nil {
			skipped++
			continue
		}
		if err := s.Validate(); err != nil {
			skipped++
			continue
		}
		schedules = append(schedules, s)
	}
	return schedules, skipped, nil
}

// collectionRecords flattens an id-keyed object or an array into its
// member documents.
func collectionRecords(raw json.RawMessage) ([]json.RawMessage, error) {
	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err == nil {
		records := make([]json.RawMessage, 0, len(byID))
		for _, record := range byID {
			records = append(records, record)
		}
		return records, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// MinuteOfDay returns minutes since local midnight for t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateOf returns the calendar date of t in local time, truncated to midnight.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
