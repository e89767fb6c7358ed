package feeding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidSchedule indicates a schedule violates its structural invariants.
var ErrInvalidSchedule = errors.New("feeding: invalid schedule")

// InvalidScheduleError lists the problems found while validating a schedule,
// keyed by field path (for example "sessions[1].time").
type InvalidScheduleError struct {
	Problems map[string]string
}

// Error implements the error interface.
func (e *InvalidScheduleError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrInvalidSchedule.Error()
	}
	fields := make([]string, 0, len(e.Problems))
	for field := range e.Problems {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e.Problems[field])
	}
	return ErrInvalidSchedule.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is match the ErrInvalidSchedule sentinel.
func (e *InvalidScheduleError) Is(target error) bool {
	return target == ErrInvalidSchedule
}

func (e *InvalidScheduleError) add(field, message string) {
	if e.Problems == nil {
		e.Problems = make(map[string]string)
	}
	e.Problems[field] = message
}

// ParseInterval converts a wire value into an Interval.
func ParseInterval(value string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(value))) {
	case IntervalDaily:
		return IntervalDaily, nil
	case IntervalWeekly:
		return IntervalWeekly, nil
	case IntervalBiweekly:
		return IntervalBiweekly, nil
	case IntervalFourWeekly:
		return IntervalFourWeekly, nil
	}
	return "", fmt.Errorf("%w: unknown interval %q", ErrInvalidSchedule, value)
}

// Validate checks the invariants every schedule must satisfy before the
// engine computes over it. An end date before the start date is accepted; such
// a schedule is simply never active.
func Validate(schedule Schedule) error {
	_, err := validate(schedule)
	return err
}

// validate returns the parsed session times, in session order, alongside any
// problems found.
func validate(schedule Schedule) ([]clock, error) {
	vErr := &InvalidScheduleError{}

	switch schedule.Interval {
	case IntervalDaily, IntervalWeekly, IntervalBiweekly, IntervalFourWeekly:
	default:
		vErr.add("interval", "interval must be one of daily, weekly, biweekly, four-weekly")
	}

	if schedule.StartDate.IsZero() {
		vErr.add("start_date", "start date is required")
	}

	if schedule.Interval != IntervalDaily && len(schedule.DaysOfWeek) == 0 {
		vErr.add("days_of_week", "at least one day of week is required")
	}
	for _, day := range schedule.DaysOfWeek {
		if day < time.Sunday || day > time.Saturday {
			vErr.add("days_of_week", "days of week must be between 0 and 6")
			break
		}
	}

	if len(schedule.Sessions) == 0 {
		vErr.add("sessions", "at least one feeding session is required")
	}
	clocks := make([]clock, len(schedule.Sessions))
	for i, session := range schedule.Sessions {
		parsed, err := parseClock(session.Time)
		if err != nil {
			vErr.add(fmt.Sprintf("sessions[%d].time", i), "time must be HH:MM in 24-hour format")
		}
		clocks[i] = parsed
		// Written as a negation so NaN is rejected too.
		if !(session.FeedAmount >= MinFeedAmount) {
			vErr.add(fmt.Sprintf("sessions[%d].feed_amount", i), "feed amount must be at least 0.1")
		}
	}

	if len(vErr.Problems) > 0 {
		return nil, vErr
	}
	return clocks, nil
}

type clock struct {
	hour   int
	minute int
}

// parseClock accepts zero padded 24-hour "HH:MM" values only.
func parseClock(value string) (clock, error) {
	if len(value) != 5 || value[2] != ':' {
		return clock{}, fmt.Errorf("feeding: malformed time %q", value)
	}
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return clock{}, fmt.Errorf("feeding: malformed time %q: %w", value, err)
	}
	return clock{hour: parsed.Hour(), minute: parsed.Minute()}, nil
}
