package feeding

import (
	"testing"
	"time"
)

func BenchmarkEngineNextOccurrence(b *testing.B) {
	engine := NewEngine(nil)
	start := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	schedule := Schedule{
		ID:         "schedule-1",
		FeederID:   "feeder-1",
		StartDate:  start,
		Interval:   IntervalFourWeekly,
		DaysOfWeek: []time.Weekday{time.Monday},
		Sessions: []Session{
			{Time: "06:00", FeedAmount: 1.5},
			{Time: "18:00", FeedAmount: 1.5},
		},
	}
	// Worst case: just past a firing, so the scan walks almost four weeks.
	now := start.Add(19 * time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, ok, err := engine.NextOccurrence(schedule, now)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			b.Fatal("expected an occurrence")
		}
	}
}
