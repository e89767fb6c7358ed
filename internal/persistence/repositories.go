package persistence

import (
	"context"
	"time"
)

// UserRepository exposes account storage.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// SessionRepository stores authentication session state.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) (Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// FeederRepository exposes CRUD operations for feeders.
type FeederRepository interface {
	CreateFeeder(ctx context.Context, feeder Feeder) error
	GetFeeder(ctx context.Context, id string) (Feeder, error)
	ListFeedersForUser(ctx context.Context, userID string) ([]Feeder, error)
	ListFeeders(ctx context.Context) ([]Feeder, error)
	DeleteFeeder(ctx context.Context, id string) error
}

// ScheduleRepository stores schedules and their sessions. Updates replace the
// full session set.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule Schedule) error
	UpdateSchedule(ctx context.Context, schedule Schedule) error
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedulesForFeeder(ctx context.Context, feederID string) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// GrantRepository stores feeder access grants.
type GrantRepository interface {
	UpsertGrant(ctx context.Context, grant Grant) error
	GetGrant(ctx context.Context, feederID, userID string) (Grant, error)
	ListGrants(ctx context.Context, feederID string) ([]Grant, error)
	DeleteGrant(ctx context.Context, feederID, userID string) error
}

// InvitationRepository stores pending role invitations.
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, invitation Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (Invitation, error)
	ListInvitations(ctx context.Context, feederID string) ([]Invitation, error)
	// AcceptInvitation marks the invitation accepted and writes grant, when
	// non-nil, atomically.
	AcceptInvitation(ctx context.Context, id, userID string, acceptedAt time.Time, grant *Grant) error
}
