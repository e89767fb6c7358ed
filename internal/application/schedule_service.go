package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/access"
	"github.com/example/smartfeeder/internal/devicelink"
	"github.com/example/smartfeeder/internal/feeding"
	"github.com/example/smartfeeder/internal/persistence"
)

// ScheduleService orchestrates validation, persistence and device delivery
// for feeding schedules.
type ScheduleService struct {
	feeders     persistence.FeederRepository
	schedules   persistence.ScheduleRepository
	access      feederAccess
	engine      *feeding.Engine
	publisher   devicelink.Publisher
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewScheduleService wires dependencies for schedule operations.
func NewScheduleService(feeders persistence.FeederRepository, grants persistence.GrantRepository, schedules persistence.ScheduleRepository, engine *feeding.Engine, publisher devicelink.Publisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ScheduleService {
	if engine == nil {
		engine = feeding.NewEngine(nil)
	}
	if publisher == nil {
		publisher = devicelink.NopPublisher{}
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ScheduleService{
		feeders:     feeders,
		schedules:   schedules,
		access:      feederAccess{feeders: feeders, grants: grants},
		engine:      engine,
		publisher:   publisher,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *ScheduleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ScheduleService", operation, attrs...)
}

// CreateSchedule validates the input, stores it and pushes the feeder's
// schedule set to the device. Time collisions with other schedules are
// returned as warnings.
func (s *ScheduleService) CreateSchedule(ctx context.Context, params CreateScheduleParams) (schedule Schedule, warnings []CollisionWarning, err error) {
	if s == nil {
		return Schedule{}, nil, fmt.Errorf("ScheduleService is nil")
	}

	logger := s.loggerWith(ctx, "CreateSchedule", "principal_id", params.Principal.UserID, "feeder_id", params.FeederID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "schedule creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "schedule created", "schedule_id", schedule.ID, "warnings", len(warnings))
	}()

	feeder, _, err := s.access.authorize(ctx, params.Principal, params.FeederID, access.PermissionWriteSchedule)
	if err != nil {
		return Schedule{}, nil, err
	}

	createdAt := s.now()
	id := s.idGenerator()
	loc := s.locationFor(feeder)
	record := s.buildRecord(params.Input, loc)
	record.ID = id
	record.FeederID = feeder.ID
	record.CreatedAt = createdAt
	record.UpdatedAt = createdAt

	if err := s.validate(record, feeder); err != nil {
		return Schedule{}, nil, err
	}

	existing, err := s.schedules.ListSchedulesForFeeder(ctx, feeder.ID)
	if err != nil {
		return Schedule{}, nil, mapRepoError(err)
	}
	warnings = detectCollisions(record, existing, createdAt)

	if err := s.schedules.CreateSchedule(ctx, record); err != nil {
		return Schedule{}, nil, mapRepoError(err)
	}

	s.pushFeeder(ctx, feeder, append(existing, record), logger)
	return toSchedule(record, loc), warnings, nil
}

// UpdateSchedule replaces every field of a schedule, sessions included.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, params UpdateScheduleParams) (schedule Schedule, warnings []CollisionWarning, err error) {
	if s == nil {
		return Schedule{}, nil, fmt.Errorf("ScheduleService is nil")
	}

	logger := s.loggerWith(ctx, "UpdateSchedule", "principal_id", params.Principal.UserID, "schedule_id", params.ScheduleID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "schedule update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "schedule updated", "warnings", len(warnings))
	}()

	current, err := s.schedules.GetSchedule(ctx, params.ScheduleID)
	if err != nil {
		return Schedule{}, nil, mapRepoError(err)
	}
	feeder, _, err := s.access.authorize(ctx, params.Principal, current.FeederID, access.PermissionWriteSchedule)
	if err != nil {
		return Schedule{}, nil, err
	}

	loc := s.locationFor(feeder)
	record := s.buildRecord(params.Input, loc)
	record.ID = current.ID
	record.FeederID = current.FeederID
	record.CreatedAt = current.CreatedAt
	record.UpdatedAt = s.now()

	if err := s.validate(record, feeder); err != nil {
		return Schedule{}, nil, err
	}

	existing, err := s.schedules.ListSchedulesForFeeder(ctx, feeder.ID)
	if err != nil {
		return Schedule{}, nil, mapRepoError(err)
	}
	warnings = detectCollisions(record, existing, record.UpdatedAt)

	if err := s.schedules.UpdateSchedule(ctx, record); err != nil {
		return Schedule{}, nil, mapRepoError(err)
	}

	s.pushFeeder(ctx, feeder, replaceSchedule(existing, record), logger)
	return toSchedule(record, loc), warnings, nil
}

// DeleteSchedule removes a schedule and pushes the remaining set to the device.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, principal Principal, scheduleID string) (err error) {
	if s == nil {
		return fmt.Errorf("ScheduleService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteSchedule", "principal_id", principal.UserID, "schedule_id", scheduleID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "schedule deletion failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "schedule deleted")
	}()

	current, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return mapRepoError(err)
	}
	feeder, _, err := s.access.authorize(ctx, principal, current.FeederID, access.PermissionWriteSchedule)
	if err != nil {
		return err
	}

	if err := s.schedules.DeleteSchedule(ctx, scheduleID); err != nil {
		return mapRepoError(err)
	}

	remaining, err := s.schedules.ListSchedulesForFeeder(ctx, feeder.ID)
	if err != nil {
		logger.WarnContext(ctx, "failed to reload schedules for device push", "error", err)
		return nil
	}
	s.pushFeeder(ctx, feeder, remaining, logger)
	return nil
}

// GetSchedule returns one schedule evaluated at the current time.
func (s *ScheduleService) GetSchedule(ctx context.Context, principal Principal, scheduleID string) (ScheduleStatus, error) {
	if s == nil {
		return ScheduleStatus{}, fmt.Errorf("ScheduleService is nil")
	}

	record, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return ScheduleStatus{}, mapRepoError(err)
	}
	feeder, _, err := s.access.authorize(ctx, principal, record.FeederID, access.PermissionView)
	if err != nil {
		return ScheduleStatus{}, err
	}
	return s.evaluate(ctx, record, s.locationFor(feeder), s.now()), nil
}

// ListSchedules returns a feeder's schedules evaluated at the current time,
// ordered by next occurrence. Schedules with no upcoming feeding sort last,
// then by id.
func (s *ScheduleService) ListSchedules(ctx context.Context, principal Principal, feederID string) ([]ScheduleStatus, error) {
	if s == nil {
		return nil, fmt.Errorf("ScheduleService is nil")
	}

	feeder, _, err := s.access.authorize(ctx, principal, feederID, access.PermissionView)
	if err != nil {
		return nil, err
	}

	records, err := s.schedules.ListSchedulesForFeeder(ctx, feeder.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	now := s.now()
	loc := s.locationFor(feeder)
	statuses := make([]ScheduleStatus, 0, len(records))
	for _, record := range records {
		statuses = append(statuses, s.evaluate(ctx, record, loc, now))
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		a, b := statuses[i].NextOccurrence, statuses[j].NextOccurrence
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return statuses[i].Schedule.ID < statuses[j].Schedule.ID
	})
	return statuses, nil
}

// SyncFeeder publishes the current schedule set of one feeder and reports
// publication errors to the caller.
func (s *ScheduleService) SyncFeeder(ctx context.Context, feederID string) error {
	feeder, err := s.feeders.GetFeeder(ctx, feederID)
	if err != nil {
		return mapRepoError(err)
	}
	records, err := s.schedules.ListSchedulesForFeeder(ctx, feederID)
	if err != nil {
		return mapRepoError(err)
	}
	return s.publisher.PublishSchedules(ctx, s.scheduleSet(feeder, records, s.now()))
}

// SyncAll republishes every feeder's schedule set. It keeps going after a
// failure and returns the number of feeders synced with the joined errors.
func (s *ScheduleService) SyncAll(ctx context.Context) (int, error) {
	feeders, err := s.feeders.ListFeeders(ctx)
	if err != nil {
		return 0, mapRepoError(err)
	}

	var (
		synced int
		errs   []error
	)
	for _, feeder := range feeders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.SyncFeeder(ctx, feeder.ID); err != nil {
			errs = append(errs, fmt.Errorf("feeder %s: %w", feeder.ID, err))
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

// buildRecord normalizes caller input into a storable schedule. Calendar
// dates are pinned to midnight in loc.
func (s *ScheduleService) buildRecord(input ScheduleInput, loc *time.Location) persistence.Schedule {
	sessions := make([]persistence.FeedingSession, len(input.Sessions))
	for i, session := range input.Sessions {
		sessions[i] = persistence.FeedingSession{
			ID:         s.idGenerator(),
			Position:   i,
			Time:       strings.TrimSpace(session.Time),
			FeedAmount: session.FeedAmount,
		}
	}

	startDate := input.StartDate
	if input.StartDateOnly {
		startDate = localMidnight(startDate, loc)
	}
	var endDate *time.Time
	if input.EndDate != nil {
		end := *input.EndDate
		if input.EndDateOnly {
			end = localMidnight(end, loc)
		}
		endDate = &end
	}

	return persistence.Schedule{
		StartDate:  startDate,
		EndDate:    endDate,
		Interval:   strings.ToLower(strings.TrimSpace(input.Interval)),
		DaysOfWeek: normalizeDays(input.DaysOfWeek),
		Sessions:   sessions,
	}
}

// validate runs the engine invariants and reports them as field errors.
func (s *ScheduleService) validate(record persistence.Schedule, feeder persistence.Feeder) error {
	err := feeding.Validate(toEngineSchedule(record, s.locationFor(feeder)))
	if err == nil {
		return nil
	}

	var invalid *feeding.InvalidScheduleError
	if !errors.As(err, &invalid) {
		return err
	}
	vErr := &ValidationError{}
	for field, message := range invalid.Problems {
		vErr.add(field, message)
	}
	return vErr
}

func (s *ScheduleService) evaluate(ctx context.Context, record persistence.Schedule, loc *time.Location, now time.Time) ScheduleStatus {
	engineSchedule := toEngineSchedule(record, loc)
	status := ScheduleStatus{
		Schedule:         toSchedule(record, loc),
		Active:           s.engine.IsActive(engineSchedule, now),
		TotalDailyAmount: s.engine.TotalDailyAmount(engineSchedule),
	}

	occurrence, ok, err := s.engine.NextOccurrence(engineSchedule, now)
	if err != nil {
		s.loggerWith(ctx, "evaluate", "schedule_id", record.ID).
			WarnContext(ctx, "stored schedule failed validation", "error", err)
		return status
	}
	if ok {
		at := occurrence.At
		status.NextOccurrence = &at
		status.NextFeedAmount = occurrence.Session.FeedAmount
	}
	return status
}

func (s *ScheduleService) pushFeeder(ctx context.Context, feeder persistence.Feeder, records []persistence.Schedule, logger *slog.Logger) {
	pubCtx, cancel := detachedContext(ctx)
	defer cancel()

	if err := s.publisher.PublishSchedules(pubCtx, s.scheduleSet(feeder, records, s.now())); err != nil {
		logger.WarnContext(ctx, "failed to push schedules to device", "error", err, "device_id", feeder.DeviceID)
	}
}

// scheduleSet builds the device payload from schedules that have not ended.
// Schedules that start in the future are included so the device can switch
// over without a round trip.
func (s *ScheduleService) scheduleSet(feeder persistence.Feeder, records []persistence.Schedule, now time.Time) devicelink.ScheduleSet {
	set := devicelink.ScheduleSet{
		DeviceID:  feeder.DeviceID,
		SentAt:    now.UTC(),
		Schedules: []devicelink.ScheduleMessage{},
	}
	for _, record := range records {
		if hasEnded(record, now) {
			continue
		}
		sessions := make([]devicelink.SessionMessage, len(record.Sessions))
		for i, session := range record.Sessions {
			sessions[i] = devicelink.SessionMessage{Time: session.Time, FeedAmount: session.FeedAmount}
		}
		set.Schedules = append(set.Schedules, devicelink.ScheduleMessage{
			ID:         record.ID,
			Interval:   record.Interval,
			DaysOfWeek: append([]int{}, record.DaysOfWeek...),
			StartDate:  record.StartDate.UTC(),
			EndDate:    record.EndDate,
			Timezone:   feeder.Timezone,
			Sessions:   sessions,
		})
	}
	return set
}

func (s *ScheduleService) locationFor(feeder persistence.Feeder) *time.Location {
	if feeder.Timezone != "" {
		if loc, err := time.LoadLocation(feeder.Timezone); err == nil {
			return loc
		}
	}
	return s.engine.Location()
}

// localMidnight keeps the calendar day of t and places it at 00:00 in loc.
func localMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func hasEnded(record persistence.Schedule, now time.Time) bool {
	return record.EndDate != nil && !record.EndDate.After(now)
}

func replaceSchedule(records []persistence.Schedule, updated persistence.Schedule) []persistence.Schedule {
	out := make([]persistence.Schedule, 0, len(records))
	for _, record := range records {
		if record.ID == updated.ID {
			out = append(out, updated)
			continue
		}
		out = append(out, record)
	}
	return out
}

// normalizeDays removes duplicates and sorts weekdays ascending.
func normalizeDays(days []int) []int {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, day := range days {
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	sort.Ints(out)
	return out
}

func toEngineSchedule(record persistence.Schedule, loc *time.Location) feeding.Schedule {
	days := make([]time.Weekday, len(record.DaysOfWeek))
	for i, day := range record.DaysOfWeek {
		days[i] = time.Weekday(day)
	}
	sessions := make([]feeding.Session, len(record.Sessions))
	for i, session := range record.Sessions {
		sessions[i] = feeding.Session{ID: session.ID, Time: session.Time, FeedAmount: session.FeedAmount}
	}
	return feeding.Schedule{
		ID:         record.ID,
		FeederID:   record.FeederID,
		StartDate:  record.StartDate,
		EndDate:    record.EndDate,
		Interval:   feeding.Interval(record.Interval),
		DaysOfWeek: days,
		Sessions:   sessions,
		Location:   loc,
	}
}

// toSchedule expresses the date range in the feeder's timezone so calendar
// formatting shows the days the caller picked.
func toSchedule(record persistence.Schedule, loc *time.Location) Schedule {
	sessions := make([]FeedingSession, len(record.Sessions))
	for i, session := range record.Sessions {
		sessions[i] = FeedingSession{ID: session.ID, Time: session.Time, FeedAmount: session.FeedAmount}
	}
	var endDate *time.Time
	if record.EndDate != nil {
		end := record.EndDate.In(loc)
		endDate = &end
	}
	return Schedule{
		ID:         record.ID,
		FeederID:   record.FeederID,
		StartDate:  record.StartDate.In(loc),
		EndDate:    endDate,
		Interval:   feeding.Interval(record.Interval),
		DaysOfWeek: append([]int(nil), record.DaysOfWeek...),
		Sessions:   sessions,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}
