package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/access"
	"github.com/example/smartfeeder/internal/persistence"
)

// DefaultInvitationTTL is how long an invitation token stays redeemable.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// InvitationService hands out and redeems role invitations on feeders.
type InvitationService struct {
	grants         persistence.GrantRepository
	invitations    persistence.InvitationRepository
	access         feederAccess
	idGenerator    func() string
	tokenGenerator func() string
	now            func() time.Time
	ttl            time.Duration
	logger         *slog.Logger
}

// NewInvitationService wires dependencies for invitations. A non-positive ttl
// uses DefaultInvitationTTL.
func NewInvitationService(feeders persistence.FeederRepository, grants persistence.GrantRepository, invitations persistence.InvitationRepository, idGenerator, tokenGenerator func() string, now func() time.Time, ttl time.Duration, logger *slog.Logger) *InvitationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if tokenGenerator == nil {
		tokenGenerator = idGenerator
	}
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &InvitationService{
		grants:         grants,
		invitations:    invitations,
		access:         feederAccess{feeders: feeders, grants: grants},
		idGenerator:    idGenerator,
		tokenGenerator: tokenGenerator,
		now:            now,
		ttl:            ttl,
		logger:         defaultLogger(logger),
	}
}

func (s *InvitationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "InvitationService", operation, attrs...)
}

// Invite issues an invitation for email to join a feeder with role. The
// inviter must hold a role strictly above the one offered.
func (s *InvitationService) Invite(ctx context.Context, params InviteParams) (invitation Invitation, err error) {
	if s == nil {
		return Invitation{}, fmt.Errorf("InvitationService is nil")
	}

	logger := s.loggerWith(ctx, "Invite", "principal_id", params.Principal.UserID, "feeder_id", params.FeederID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "invitation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "invitation issued", "invitation_id", invitation.ID, "role", invitation.Role)
	}()

	feeder, actorRole, err := s.access.authorize(ctx, params.Principal, params.FeederID, access.PermissionInvite)
	if err != nil {
		return Invitation{}, err
	}

	email := strings.ToLower(strings.TrimSpace(params.Email))
	vErr := &ValidationError{}
	if email == "" {
		vErr.add("email", "email is required")
	} else if _, parseErr := mail.ParseAddress(email); parseErr != nil {
		vErr.add("email", "email is invalid")
	}
	role, roleErr := access.ParseRole(params.Role)
	if roleErr != nil {
		vErr.add("role", "role must be one of manager, scheduler, viewer")
	}
	if vErr.HasErrors() {
		return Invitation{}, vErr
	}
	if !access.CanGrant(actorRole, role) {
		return Invitation{}, ErrUnauthorized
	}

	now := s.now()
	record := persistence.Invitation{
		ID:        s.idGenerator(),
		FeederID:  feeder.ID,
		Email:     email,
		Role:      string(role),
		Token:     s.tokenGenerator(),
		InvitedBy: params.Principal.UserID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.invitations.CreateInvitation(ctx, record); err != nil {
		return Invitation{}, mapRepoError(err)
	}
	return toInvitation(record), nil
}

// Accept redeems an invitation token for the calling principal. The grant is
// created, or raised when the principal already holds a lower role; an
// existing higher role is kept. Acceptance and the grant write commit together.
func (s *InvitationService) Accept(ctx context.Context, principal Principal, token string) (grant Grant, err error) {
	if s == nil {
		return Grant{}, fmt.Errorf("InvitationService is nil")
	}

	logger := s.loggerWith(ctx, "Accept", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "invitation acceptance failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "invitation accepted", "feeder_id", grant.FeederID, "role", grant.Role)
	}()

	if principal.UserID == "" {
		return Grant{}, ErrUnauthorized
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Grant{}, ErrNotFound
	}

	invitation, err := s.invitations.GetInvitationByToken(ctx, token)
	if err != nil {
		return Grant{}, mapRepoError(err)
	}
	if invitation.AcceptedAt != nil {
		return Grant{}, ErrAlreadyExists
	}
	now := s.now()
	if !invitation.ExpiresAt.After(now) {
		return Grant{}, ErrInvitationExpired
	}

	offered, err := access.ParseRole(invitation.Role)
	if err != nil {
		return Grant{}, fmt.Errorf("invitation %s: %w", invitation.ID, err)
	}

	result := Grant{FeederID: invitation.FeederID, UserID: principal.UserID, Role: offered}
	current, err := s.grants.GetGrant(ctx, invitation.FeederID, principal.UserID)
	switch {
	case err == nil:
		held, parseErr := access.ParseRole(current.Role)
		if parseErr == nil && !access.Outranks(offered, held) {
			result.Role = held
		}
	case !errors.Is(err, persistence.ErrNotFound):
		return Grant{}, mapRepoError(err)
	}

	var write *persistence.Grant
	if result.Role == offered && (err != nil || current.Role != string(offered)) {
		write = &persistence.Grant{
			FeederID:  invitation.FeederID,
			UserID:    principal.UserID,
			Role:      string(offered),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if err := s.invitations.AcceptInvitation(ctx, invitation.ID, principal.UserID, now, write); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Grant{}, ErrAlreadyExists
		}
		return Grant{}, mapRepoError(err)
	}
	return result, nil
}

// ListInvitations returns every invitation issued on a feeder.
func (s *InvitationService) ListInvitations(ctx context.Context, principal Principal, feederID string) ([]Invitation, error) {
	if s == nil {
		return nil, fmt.Errorf("InvitationService is nil")
	}

	feeder, _, err := s.access.authorize(ctx, principal, feederID, access.PermissionInvite)
	if err != nil {
		return nil, err
	}
	records, err := s.invitations.ListInvitations(ctx, feeder.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	out := make([]Invitation, 0, len(records))
	for _, record := range records {
		out = append(out, toInvitation(record))
	}
	return out, nil
}

// ListGrants returns the collaborators of a feeder, owner included. It
// requires the invite permission.
func (s *InvitationService) ListGrants(ctx context.Context, principal Principal, feederID string) ([]Grant, error) {
	if s == nil {
		return nil, fmt.Errorf("InvitationService is nil")
	}

	feeder, _, err := s.access.authorize(ctx, principal, feederID, access.PermissionInvite)
	if err != nil {
		return nil, err
	}
	records, err := s.grants.ListGrants(ctx, feeder.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	out := make([]Grant, 0, len(records))
	for _, record := range records {
		out = append(out, Grant{FeederID: record.FeederID, UserID: record.UserID, Role: access.Role(record.Role)})
	}
	return out, nil
}

// RevokeGrant removes a collaborator from a feeder. Callers may only revoke
// roles strictly below their own, so the owner grant cannot be removed.
func (s *InvitationService) RevokeGrant(ctx context.Context, principal Principal, feederID, userID string) (err error) {
	if s == nil {
		return fmt.Errorf("InvitationService is nil")
	}

	logger := s.loggerWith(ctx, "RevokeGrant", "principal_id", principal.UserID, "feeder_id", feederID, "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "grant revocation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "grant revoked")
	}()

	feeder, actorRole, err := s.access.authorize(ctx, principal, feederID, access.PermissionInvite)
	if err != nil {
		return err
	}
	target, err := s.grants.GetGrant(ctx, feeder.ID, strings.TrimSpace(userID))
	if err != nil {
		return mapRepoError(err)
	}
	if !access.Outranks(actorRole, access.Role(target.Role)) {
		return ErrUnauthorized
	}
	if err := s.grants.DeleteGrant(ctx, target.FeederID, target.UserID); err != nil {
		return mapRepoError(err)
	}
	return nil
}

func toInvitation(record persistence.Invitation) Invitation {
	return Invitation{
		ID:        record.ID,
		FeederID:  record.FeederID,
		Email:     record.Email,
		Role:      access.Role(record.Role),
		Token:     record.Token,
		InvitedBy: record.InvitedBy,
		ExpiresAt: record.ExpiresAt,
		CreatedAt: record.CreatedAt,
	}
}
