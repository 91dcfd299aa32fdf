// Package execlog tracks which schedule transitions have already fired on a
// calendar day, so a polling loop whose firing window spans several ticks
// never applies the same transition twice.
package execlog

import (
	"sync"
	"time"

	"pondcontrol/internal/schedule"
)

type key struct {
	scheduleID string
	kind       schedule.Kind
	date       string
}

// Log is an in-memory record of fired transitions, keyed by
// (schedule, transition kind, calendar date). Records live at most one day;
// PurgeExcept drops everything from other dates. A Log is scoped to a single
// session and is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	records map[key]int
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{records: make(map[key]int)}
}

func makeKey(scheduleID string, kind schedule.Kind, date time.Time) key {
	return key{
		scheduleID: scheduleID,
		kind:       kind,
		date:       schedule.DateOf(date).Format("2006-01-02"),
	}
}

// HasFired reports whether the transition already fired on the given date.
func (l *Log) HasFired(scheduleID string, kind schedule.Kind, date time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[makeKey(scheduleID, kind, date)]
	return ok
}

// RecordFired stores the minute-of-day at which the transition fired.
// Callers must check HasFired first; a duplicate record is ignored so the
// first firing's minute is preserved.
func (l *Log) RecordFired(scheduleID string, kind schedule.Kind, date time.Time, minute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := makeKey(scheduleID, kind, date)
	if _, ok := l.records[k]; ok {
		return
	}
	l.records[k] = minute
}

// FiredMinute returns the minute-of-day a transition fired at, if recorded.
func (l *Log) FiredMinute(scheduleID string, kind schedule.Kind, date time.Time) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	minute, ok := l.records[makeKey(scheduleID, kind, date)]
	return minute, ok
}

// PurgeExcept removes every record whose date differs from the given one and
// returns how many were dropped. It runs on every evaluation cycle and at
// local midnight, so schedules due to repeat tomorrow are not blocked by
// today's records.
func (l *Log) PurgeExcept(date time.Time) int {
	keep := schedule.DateOf(date).Format("2006-01-02")

	l.mu.Lock()
	defer l.mu.Unlock()
	purged := 0
	for k := range l.records {
		if k.date != keep {
			delete(l.records, k)
			purged++
		}
	}
	return purged
}

// Len returns the number of live records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
