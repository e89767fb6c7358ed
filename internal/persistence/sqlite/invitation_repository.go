package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/persistence"
)

// InvitationRepository implements persistence.InvitationRepository using SQLite.
type InvitationRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewInvitationRepository creates a new SQLite invitation repository.
func NewInvitationRepository(pool *ConnectionPool) *InvitationRepository {
	return &InvitationRepository{pool: pool, mapper: NewErrorMapper()}
}

const invitationColumns = `id, feeder_id, email, role, token, invited_by, expires_at, created_at, accepted_at, accepted_by`

// CreateInvitation stores a pending invitation.
func (r *InvitationRepository) CreateInvitation(ctx context.Context, invitation persistence.Invitation) error {
	if invitation.ID == "" || invitation.FeederID == "" || strings.TrimSpace(invitation.Token) == "" {
		return persistence.ErrConstraintViolation
	}
	if invitation.CreatedAt.IsZero() {
		invitation.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		invitation.ID,
		invitation.FeederID,
		strings.TrimSpace(invitation.Email),
		invitation.Role,
		invitation.Token,
		invitation.InvitedBy,
		formatTime(invitation.ExpiresAt),
		formatTime(invitation.CreatedAt),
	)
	return r.mapper.MapError(err)
}

// GetInvitationByToken retrieves an invitation by its secret token.
func (r *InvitationRepository) GetInvitationByToken(ctx context.Context, token string) (persistence.Invitation, error) {
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token = ?`, strings.TrimSpace(token))
	return r.scanInvitation(row)
}

// ListInvitations returns the invitations of a feeder, newest first.
func (r *InvitationRepository) ListInvitations(ctx context.Context, feederID string) ([]persistence.Invitation, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations WHERE feeder_id = ?
		ORDER BY created_at DESC, id`, feederID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	invitations := []persistence.Invitation{}
	for rows.Next() {
		invitation, err := r.scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, invitation)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return invitations, nil
}

// AcceptInvitation records acceptance and, when grant is non-nil, writes the
// grant in the same transaction. Already accepted invitations are reported as
// not found so a token cannot be redeemed twice.
func (r *InvitationRepository) AcceptInvitation(ctx context.Context, id, userID string, acceptedAt time.Time, grant *persistence.Grant) error {
	if grant != nil && (grant.FeederID == "" || grant.UserID == "" || grant.Role == "") {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE invitations
			SET accepted_at = ?, accepted_by = ?
			WHERE id = ? AND accepted_at IS NULL`,
			formatTime(acceptedAt), userID, id)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		if grant == nil {
			return nil
		}

		record := *grant
		stampCreated(&record.CreatedAt, &record.UpdatedAt)
		_, err = tx.ExecContext(ctx, upsertGrantSQL,
			record.FeederID,
			record.UserID,
			record.Role,
			formatTime(record.CreatedAt),
			formatTime(record.UpdatedAt),
		)
		return r.mapper.MapError(err)
	})
}

func (r *InvitationRepository) scanInvitation(row rowScanner) (persistence.Invitation, error) {
	var (
		invitation           persistence.Invitation
		expiresAt, createdAt string
		acceptedAt           sql.NullString
		acceptedBy           sql.NullString
	)
	err := row.Scan(
		&invitation.ID,
		&invitation.FeederID,
		&invitation.Email,
		&invitation.Role,
		&invitation.Token,
		&invitation.InvitedBy,
		&expiresAt,
		&createdAt,
		&acceptedAt,
		&acceptedBy,
	)
	if err != nil {
		return persistence.Invitation{}, r.mapper.MapError(err)
	}

	if invitation.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return persistence.Invitation{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	if invitation.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Invitation{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if invitation.AcceptedAt, err = parseNullTime(acceptedAt); err != nil {
		return persistence.Invitation{}, fmt.Errorf("failed to parse accepted_at: %w", err)
	}
	if acceptedBy.Valid {
		by := acceptedBy.String
		invitation.AcceptedBy = &by
	}
	return invitation, nil
}
