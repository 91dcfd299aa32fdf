package schedule

import (
	"time"
)

const minutesPerDay = 24 * 60

// firingWindowMinutes is the tolerance after a transition's target minute
// during which a polling loop may still treat it as due. One minute absorbs
// polling jitter without risking a miss; the execution log prevents a second
// fire inside the window.
const firingWindowMinutes = 1

// Kind distinguishes the two transitions a schedule drives.
type Kind string

const (
	KindOn  Kind = "on"
	KindOff Kind = "off"
)

// Transition is a schedule-driven state change that is due now.
type Transition struct {
	Schedule Schedule
	Kind     Kind
	// Date is the local calendar date of the evaluation instant.
	Date time.Time
	// Minute is the transition's target minute-of-day.
	Minute int
}

// Upcoming describes the nearest future transition across all schedules,
// for display and prediction.
type Upcoming struct {
	Schedule     Schedule
	Kind         Kind
	MinutesUntil int
	At           time.Time
}

// Evaluator decides which transitions are due at an instant. It is pure:
// no side effects, no retained state.
type Evaluator struct{}

// NewEvaluator returns an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Due returns the transitions whose target minute falls within the firing
// window at now. Disabled schedules and schedules not active on today's
// weekday never appear.
func (e *Evaluator) Due(now time.Time, schedules []Schedule) []Transition {
	nowMinute := MinuteOfDay(now)
	weekday := int(now.Weekday())
	date := DateOf(now)

	var due []Transition
	for _, s := range schedules {
		if !s.Enabled || !s.ActiveOn(weekday) {
			continue
		}
		if inWindow(nowMinute, s.StartMinute) {
			due = append(due, Transition{Schedule: s, Kind: KindOn, Date: date, Minute: s.StartMinute})
		}
		if inWindow(nowMinute, s.EndMinute) {
			due = append(due, Transition{Schedule: s, Kind: KindOff, Date: date, Minute: s.EndMinute})
		}
	}
	return due
}

// Next returns the nearest future transition, scanning today and the
// following six days. Ties keep whichever candidate was computed first;
// start and end differ within one schedule so ties are not expected.
func (e *Evaluator) Next(now time.Time, schedules []Schedule) (Upcoming, bool) {
	nowMinute := MinuteOfDay(now)
	weekday := int(now.Weekday())

	best := Upcoming{MinutesUntil: -1}
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		for offset := 0; offset < 7; offset++ {
			if !s.ActiveOn((weekday + offset) % 7) {
				continue
			}
			for _, candidate := range []struct {
				minute int
				kind   Kind
			}{
				{s.StartMinute, KindOn},
				{s.EndMinute, KindOff},
			} {
				until := offset*minutesPerDay + candidate.minute - nowMinute
				if until <= 0 {
					// Already passed today; wraps to the same weekday next week.
					until += 7 * minutesPerDay
				}
				if best.MinutesUntil < 0 || until < best.MinutesUntil {
					best = Upcoming{
						Schedule:     s,
						Kind:         candidate.kind,
						MinutesUntil: until,
						At:           DateOf(now).Add(time.Duration(nowMinute+until) * time.Minute),
					}
				}
			}
		}
	}
	if best.MinutesUntil < 0 {
		return Upcoming{}, false
	}
	return best, true
}

// inWindow reports whether nowMinute falls in [target, target+window].
func inWindow(nowMinute, target int) bool {
	return nowMinute >= target && nowMinute <= target+firingWindowMinutes
}
