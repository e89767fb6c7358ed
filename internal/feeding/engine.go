package feeding

import (
	"math"
	"time"
)

// Interval represents supported recurrence intervals for a feeding schedule.
type Interval string

const (
	// IntervalDaily fires on every calendar day.
	IntervalDaily Interval = "daily"
	// IntervalWeekly fires on the selected weekdays of every week.
	IntervalWeekly Interval = "weekly"
	// IntervalBiweekly fires on the selected weekdays of every second week counted from the start date.
	IntervalBiweekly Interval = "biweekly"
	// IntervalFourWeekly fires on the selected weekdays of every fourth week counted from the start date.
	IntervalFourWeekly Interval = "four-weekly"
)

// ScanWindowDays bounds the forward search performed by NextOccurrence. Schedules
// with no qualifying feeding inside the window report no next occurrence.
const ScanWindowDays = 365

// MinFeedAmount is the smallest quantity, in kilograms, a single session may dispense.
const MinFeedAmount = 0.1

// Session is a single daily feeding event within a schedule.
type Session struct {
	ID         string
	Time       string // "HH:MM", 24-hour, in the schedule location
	FeedAmount float64
}

// Schedule describes when and how much a feeder dispenses.
type Schedule struct {
	ID         string
	FeederID   string
	StartDate  time.Time
	EndDate    *time.Time
	Interval   Interval
	DaysOfWeek []time.Weekday
	Sessions   []Session
	// Location is the feeder timezone used to read session times. When nil the
	// engine default applies.
	Location *time.Location
}

// Occurrence is a concrete instant at which a session is due.
type Occurrence struct {
	ScheduleID string
	At         time.Time
	Session    Session
}

// Engine computes schedule state relative to a caller supplied instant.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	location   *time.Location
	windowDays int
}

// NewEngine constructs an Engine that reads session times in loc unless a
// schedule carries its own location. If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc, windowDays: ScanWindowDays}
}

// Location reports the engine default location.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// IsActive reports whether the schedule is currently firing: it has started and
// has not reached its end. The end instant itself is no longer active.
func IsActive(schedule Schedule, now time.Time) bool {
	if now.Before(schedule.StartDate) {
		return false
	}
	if schedule.EndDate != nil && !now.Before(*schedule.EndDate) {
		return false
	}
	return true
}

// TotalDailyAmount sums the session quantities of a schedule in kilograms.
// Amounts are accumulated at gram precision so the total does not depend on
// session order.
func TotalDailyAmount(schedule Schedule) float64 {
	var grams int64
	for _, session := range schedule.Sessions {
		grams += int64(math.Round(session.FeedAmount * 1000))
	}
	return float64(grams) / 1000
}

// IsActive is a convenience wrapper around the package level IsActive.
func (e *Engine) IsActive(schedule Schedule, now time.Time) bool {
	return IsActive(schedule, now)
}

// TotalDailyAmount is a convenience wrapper around the package level TotalDailyAmount.
func (e *Engine) TotalDailyAmount(schedule Schedule) float64 {
	return TotalDailyAmount(schedule)
}

// NextOccurrence finds the earliest session instant strictly after now.
//
// The search walks forward one calendar day at a time from local midnight of
// max(now, StartDate) and gives up after ScanWindowDays days. The window is a
// hard bound: a schedule whose next feeding lies further out reports none.
// Occurrences at or after EndDate are never returned.
//
// An invalid schedule yields an error matching ErrInvalidSchedule before any
// date arithmetic happens. Finding no occurrence is not an error.
func (e *Engine) NextOccurrence(schedule Schedule, now time.Time) (Occurrence, bool, error) {
	clocks, err := validate(schedule)
	if err != nil {
		return Occurrence{}, false, err
	}

	if schedule.EndDate != nil && !schedule.EndDate.After(now) {
		return Occurrence{}, false, nil
	}

	loc := e.locationFor(schedule)

	weekdays := weekdaySet(schedule.DaysOfWeek)
	startDay := midnight(schedule.StartDate, loc)

	from := now
	if now.Before(schedule.StartDate) {
		from = schedule.StartDate
	}
	cursor := midnight(from, loc)
	y, m, d := cursor.Date()

	window := e.windowDays
	if window <= 0 {
		window = ScanWindowDays
	}

	for offset := 0; offset < window; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
		if schedule.EndDate != nil && !day.Before(*schedule.EndDate) {
			break
		}
		if !matchesDay(schedule.Interval, weekdays, startDay, day) {
			continue
		}

		best := -1
		var bestAt time.Time
		for i, c := range clocks {
			at := time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, loc)
			if !at.After(now) {
				continue
			}
			if schedule.EndDate != nil && !at.Before(*schedule.EndDate) {
				continue
			}
			if best < 0 || at.Before(bestAt) {
				best = i
				bestAt = at
			}
		}

		if best >= 0 {
			return Occurrence{
				ScheduleID: schedule.ID,
				At:         bestAt,
				Session:    schedule.Sessions[best],
			}, true, nil
		}
	}

	return Occurrence{}, false, nil
}

func (e *Engine) locationFor(schedule Schedule) *time.Location {
	if schedule.Location != nil {
		return schedule.Location
	}
	return e.Location()
}

func matchesDay(interval Interval, weekdays map[time.Weekday]struct{}, startDay, day time.Time) bool {
	if day.Before(startDay) {
		return false
	}

	if interval == IntervalDaily {
		return true
	}

	if _, ok := weekdays[day.Weekday()]; !ok {
		return false
	}

	weeks := daysBetween(startDay, day) / 7
	switch interval {
	case IntervalWeekly:
		return true
	case IntervalBiweekly:
		return weeks%2 == 0
	case IntervalFourWeekly:
		return weeks%4 == 0
	default:
		return false
	}
}

func weekdaySet(days []time.Weekday) map[time.Weekday]struct{} {
	set := make(map[time.Weekday]struct{}, len(days))
	for _, day := range days {
		set[day] = struct{}{}
	}
	return set
}

// midnight returns the start of the calendar day containing t in loc.
func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// daysBetween counts whole calendar days from one date to another, ignoring
// DST shifts in either location.
func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
