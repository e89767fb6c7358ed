package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/persistence"
)

// ScheduleRepository implements persistence.ScheduleRepository using SQLite.
type ScheduleRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewScheduleRepository creates a new SQLite schedule repository.
func NewScheduleRepository(pool *ConnectionPool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool, mapper: NewErrorMapper()}
}

const scheduleColumns = `id, feeder_id, start_date, end_date, recurrence, days_of_week, created_at, updated_at`

// CreateSchedule inserts a schedule and its sessions in order.
func (r *ScheduleRepository) CreateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if schedule.ID == "" || schedule.FeederID == "" {
		return persistence.ErrConstraintViolation
	}
	stampCreated(&schedule.CreatedAt, &schedule.UpdatedAt)

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedules (`+scheduleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			schedule.ID,
			schedule.FeederID,
			formatTime(schedule.StartDate),
			nullTime(schedule.EndDate),
			schedule.Interval,
			encodeDays(schedule.DaysOfWeek),
			formatTime(schedule.CreatedAt),
			formatTime(schedule.UpdatedAt),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		return r.insertSessions(ctx, tx, schedule.ID, schedule.Sessions)
	})
}

// UpdateSchedule rewrites a schedule row and replaces its full session set.
// The owning feeder and creation time never change.
func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if schedule.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = time.Now().UTC()
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE schedules
			SET start_date = ?, end_date = ?, recurrence = ?, days_of_week = ?, updated_at = ?
			WHERE id = ?`,
			formatTime(schedule.StartDate),
			nullTime(schedule.EndDate),
			schedule.Interval,
			encodeDays(schedule.DaysOfWeek),
			formatTime(schedule.UpdatedAt),
			schedule.ID,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM feeding_sessions WHERE schedule_id = ?`, schedule.ID); err != nil {
			return r.mapper.MapError(err)
		}
		return r.insertSessions(ctx, tx, schedule.ID, schedule.Sessions)
	})
}

// GetSchedule retrieves a schedule with its sessions.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := r.scanSchedule(row)
	if err != nil {
		return persistence.Schedule{}, err
	}

	sessions, err := r.loadSessions(ctx, []string{schedule.ID})
	if err != nil {
		return persistence.Schedule{}, err
	}
	schedule.Sessions = sessions[schedule.ID]
	return schedule, nil
}

// ListSchedulesForFeeder returns every schedule of a feeder ordered by start date.
func (r *ScheduleRepository) ListSchedulesForFeeder(ctx context.Context, feederID string) ([]persistence.Schedule, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules WHERE feeder_id = ?
		ORDER BY start_date, id`, feederID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	schedules := []persistence.Schedule{}
	for rows.Next() {
		schedule, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	if len(schedules) == 0 {
		return schedules, nil
	}

	ids := make([]string, len(schedules))
	for i, s := range schedules {
		ids[i] = s.ID
	}
	sessions, err := r.loadSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range schedules {
		schedules[i].Sessions = sessions[schedules[i].ID]
	}
	return schedules, nil
}

// DeleteSchedule removes a schedule. Its sessions cascade.
func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

func (r *ScheduleRepository) insertSessions(ctx context.Context, tx *sql.Tx, scheduleID string, sessions []persistence.FeedingSession) error {
	if len(sessions) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feeding_sessions (id, schedule_id, position, time_of_day, feed_amount)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return r.mapper.MapError(err)
	}
	defer stmt.Close()

	for i, session := range sessions {
		id := session.ID
		if id == "" {
			id = scheduleID + "-" + strconv.Itoa(i)
		}
		if _, err := stmt.ExecContext(ctx, id, scheduleID, i, session.Time, session.FeedAmount); err != nil {
			return r.mapper.MapError(err)
		}
	}
	return nil
}

func (r *ScheduleRepository) loadSessions(ctx context.Context, scheduleIDs []string) (map[string][]persistence.FeedingSession, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(scheduleIDs)), ",")
	args := make([]any, len(scheduleIDs))
	for i, id := range scheduleIDs {
		args[i] = id
	}

	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, schedule_id, position, time_of_day, feed_amount
		FROM feeding_sessions
		WHERE schedule_id IN (`+placeholders+`)
		ORDER BY schedule_id, position`, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	sessions := make(map[string][]persistence.FeedingSession, len(scheduleIDs))
	for rows.Next() {
		var s persistence.FeedingSession
		if err := rows.Scan(&s.ID, &s.ScheduleID, &s.Position, &s.Time, &s.FeedAmount); err != nil {
			return nil, r.mapper.MapError(err)
		}
		sessions[s.ScheduleID] = append(sessions[s.ScheduleID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return sessions, nil
}

func (r *ScheduleRepository) scanSchedule(row rowScanner) (persistence.Schedule, error) {
	var (
		schedule                              persistence.Schedule
		startDate, days, createdAt, updatedAt string
		endDate                               sql.NullString
	)
	err := row.Scan(&schedule.ID, &schedule.FeederID, &startDate, &endDate, &schedule.Interval, &days, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Schedule{}, r.mapper.MapError(err)
	}

	if schedule.StartDate, err = parseTime(startDate); err != nil {
		return persistence.Schedule{}, fmt.Errorf("failed to parse start_date: %w", err)
	}
	if schedule.EndDate, err = parseNullTime(endDate); err != nil {
		return persistence.Schedule{}, fmt.Errorf("failed to parse end_date: %w", err)
	}
	if schedule.DaysOfWeek, err = decodeDays(days); err != nil {
		return persistence.Schedule{}, fmt.Errorf("failed to parse days_of_week: %w", err)
	}
	if schedule.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Schedule{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if schedule.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Schedule{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return schedule, nil
}

// encodeDays stores weekdays as a comma separated list, e.g. "1,3,5".
func encodeDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func decodeDays(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	days := make([]int, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		days[i] = d
	}
	return days, nil
}
