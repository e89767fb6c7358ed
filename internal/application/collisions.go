package application

import (
	"time"

	"github.com/example/smartfeeder/internal/feeding"
	"github.com/example/smartfeeder/internal/persistence"
)

// detectCollisions reports other schedules on the same feeder that dispense at
// one of the candidate's session times on a weekday both schedules use while
// both are in effect. Ended schedules are ignored.
func detectCollisions(candidate persistence.Schedule, others []persistence.Schedule, now time.Time) []CollisionWarning {
	candidateDays := scheduleWeekdays(candidate)

	var warnings []CollisionWarning
	for _, other := range others {
		if other.ID == candidate.ID || hasEnded(other, now) || !periodsOverlap(candidate, other) {
			continue
		}

		otherDays := scheduleWeekdays(other)
		otherTimes := make(map[string]struct{}, len(other.Sessions))
		for _, session := range other.Sessions {
			otherTimes[session.Time] = struct{}{}
		}

		for day := time.Sunday; day <= time.Saturday; day++ {
			if !candidateDays[day] || !otherDays[day] {
				continue
			}
			reported := make(map[string]struct{})
			for _, session := range candidate.Sessions {
				if _, clash := otherTimes[session.Time]; !clash {
					continue
				}
				if _, done := reported[session.Time]; done {
					continue
				}
				reported[session.Time] = struct{}{}
				warnings = append(warnings, CollisionWarning{
					ScheduleID: other.ID,
					Weekday:    day,
					Time:       session.Time,
				})
			}
		}
	}
	return warnings
}

func scheduleWeekdays(schedule persistence.Schedule) [7]bool {
	var days [7]bool
	if feeding.Interval(schedule.Interval) == feeding.IntervalDaily {
		for i := range days {
			days[i] = true
		}
		return days
	}
	for _, day := range schedule.DaysOfWeek {
		if day >= 0 && day < len(days) {
			days[day] = true
		}
	}
	return days
}

// periodsOverlap compares the half-open [StartDate, EndDate) ranges of two schedules.
func periodsOverlap(a, b persistence.Schedule) bool {
	if a.EndDate != nil && !a.EndDate.After(b.StartDate) {
		return false
	}
	if b.EndDate != nil && !b.EndDate.After(a.StartDate) {
		return false
	}
	return true
}
