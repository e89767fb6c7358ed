package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/smartfeeder/internal/persistence"
)

// FeederRepository implements persistence.FeederRepository and
// persistence.GrantRepository using SQLite.
type FeederRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewFeederRepository creates a new SQLite feeder repository.
func NewFeederRepository(pool *ConnectionPool) *FeederRepository {
	return &FeederRepository{pool: pool, mapper: NewErrorMapper()}
}

const feederColumns = `f.id, f.device_id, f.name, f.timezone, f.owner_id, f.created_at, f.updated_at`

// CreateFeeder inserts a feeder and the owner grant in one transaction.
func (r *FeederRepository) CreateFeeder(ctx context.Context, feeder persistence.Feeder) error {
	if feeder.ID == "" || feeder.OwnerID == "" || strings.TrimSpace(feeder.DeviceID) == "" {
		return persistence.ErrConstraintViolation
	}
	stampCreated(&feeder.CreatedAt, &feeder.UpdatedAt)

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feeders (id, device_id, name, timezone, owner_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			feeder.ID,
			strings.TrimSpace(feeder.DeviceID),
			feeder.Name,
			feeder.Timezone,
			feeder.OwnerID,
			formatTime(feeder.CreatedAt),
			formatTime(feeder.UpdatedAt),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO feeder_grants (feeder_id, user_id, role, created_at, updated_at)
			VALUES (?, ?, 'owner', ?, ?)`,
			feeder.ID,
			feeder.OwnerID,
			formatTime(feeder.CreatedAt),
			formatTime(feeder.UpdatedAt),
		)
		return r.mapper.MapError(err)
	})
}

// GetFeeder retrieves a feeder by id.
func (r *FeederRepository) GetFeeder(ctx context.Context, id string) (persistence.Feeder, error) {
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+feederColumns+` FROM feeders f WHERE f.id = ?`, id)
	return r.scanFeeder(row)
}

// ListFeedersForUser returns feeders the user owns or holds a grant on, ordered by name.
func (r *FeederRepository) ListFeedersForUser(ctx context.Context, userID string) ([]persistence.Feeder, error) {
	query := `
		SELECT ` + feederColumns + `
		FROM feeders f
		WHERE f.owner_id = ?
		   OR EXISTS (SELECT 1 FROM feeder_grants g WHERE g.feeder_id = f.id AND g.user_id = ?)
		ORDER BY f.name, f.id`
	rows, err := r.pool.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	return r.collectFeeders(rows)
}

// ListFeeders returns every registered feeder.
func (r *FeederRepository) ListFeeders(ctx context.Context) ([]persistence.Feeder, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT `+feederColumns+` FROM feeders f ORDER BY f.id`)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	return r.collectFeeders(rows)
}

// DeleteFeeder removes a feeder. Schedules, sessions, grants and invitations cascade.
func (r *FeederRepository) DeleteFeeder(ctx context.Context, id string) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM feeders WHERE id = ?`, id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

func (r *FeederRepository) collectFeeders(rows *sql.Rows) ([]persistence.Feeder, error) {
	defer rows.Close()

	feeders := []persistence.Feeder{}
	for rows.Next() {
		feeder, err := r.scanFeeder(rows)
		if err != nil {
			return nil, err
		}
		feeders = append(feeders, feeder)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return feeders, nil
}

func (r *FeederRepository) scanFeeder(row rowScanner) (persistence.Feeder, error) {
	var (
		feeder               persistence.Feeder
		createdAt, updatedAt string
	)
	err := row.Scan(&feeder.ID, &feeder.DeviceID, &feeder.Name, &feeder.Timezone, &feeder.OwnerID, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Feeder{}, r.mapper.MapError(err)
	}
	if feeder.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Feeder{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if feeder.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Feeder{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return feeder, nil
}

const upsertGrantSQL = `
	INSERT INTO feeder_grants (feeder_id, user_id, role, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (feeder_id, user_id) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at`

// UpsertGrant creates or replaces the role a user holds on a feeder.
func (r *FeederRepository) UpsertGrant(ctx context.Context, grant persistence.Grant) error {
	if grant.FeederID == "" || grant.UserID == "" || grant.Role == "" {
		return persistence.ErrConstraintViolation
	}
	stampCreated(&grant.CreatedAt, &grant.UpdatedAt)

	_, err := r.pool.db.ExecContext(ctx, upsertGrantSQL,
		grant.FeederID,
		grant.UserID,
		grant.Role,
		formatTime(grant.CreatedAt),
		formatTime(grant.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetGrant returns the grant a user holds on a feeder.
func (r *FeederRepository) GetGrant(ctx context.Context, feederID, userID string) (persistence.Grant, error) {
	row := r.pool.db.QueryRowContext(ctx, `
		SELECT feeder_id, user_id, role, created_at, updated_at
		FROM feeder_grants WHERE feeder_id = ? AND user_id = ?`, feederID, userID)
	return r.scanGrant(row)
}

// ListGrants returns every grant on a feeder ordered by user id.
func (r *FeederRepository) ListGrants(ctx context.Context, feederID string) ([]persistence.Grant, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT feeder_id, user_id, role, created_at, updated_at
		FROM feeder_grants WHERE feeder_id = ? ORDER BY user_id`, feederID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	grants := []persistence.Grant{}
	for rows.Next() {
		grant, err := r.scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return grants, nil
}

// DeleteGrant removes a user's grant on a feeder.
func (r *FeederRepository) DeleteGrant(ctx context.Context, feederID, userID string) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM feeder_grants WHERE feeder_id = ? AND user_id = ?`, feederID, userID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

func (r *FeederRepository) scanGrant(row rowScanner) (persistence.Grant, error) {
	var (
		grant                persistence.Grant
		createdAt, updatedAt string
	)
	err := row.Scan(&grant.FeederID, &grant.UserID, &grant.Role, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Grant{}, r.mapper.MapError(err)
	}
	if grant.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Grant{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if grant.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Grant{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return grant, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
