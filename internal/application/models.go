package application

import (
	"time"

	"github.com/example/smartfeeder/internal/access"
	"github.com/example/smartfeeder/internal/feeding"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
}

// User represents an account exposed by the application services.
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// Session represents an authenticated session issued to a user.
type Session struct {
	ID          string
	UserID      string
	Token       string
	Fingerprint string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// RegisterParams captures the data required to create an account.
type RegisterParams struct {
	Email       string
	Password    string
	DisplayName string
}

// AuthenticateParams captures the data required to authenticate a user.
type AuthenticateParams struct {
	Email       string
	Password    string
	Fingerprint string
}

// AuthenticateResult captures the outcome of a successful authentication attempt.
type AuthenticateResult struct {
	User    User
	Session Session
}

// FeederInput captures caller provided feeder fields.
type FeederInput struct {
	DeviceID string
	Name     string
	Timezone string
}

// Feeder is a registered feeding device together with the caller's role on it.
type Feeder struct {
	ID        string
	DeviceID  string
	Name      string
	Timezone  string
	OwnerID   string
	Role      access.Role
	CreatedAt time.Time
}

// SessionInput captures one caller provided feeding session.
type SessionInput struct {
	Time       string
	FeedAmount float64
}

// ScheduleInput captures caller provided schedule fields. Updates replace
// every field, sessions included.
//
// StartDateOnly and EndDateOnly mark bare calendar days. Only the year, month
// and day of such values are read; they resolve to local midnight in the
// feeder's timezone.
type ScheduleInput struct {
	StartDate     time.Time
	StartDateOnly bool
	EndDate       *time.Time
	EndDateOnly   bool
	Interval      string
	DaysOfWeek    []int
	Sessions      []SessionInput
}

// FeedingSession is a persisted time-of-day and quantity pair.
type FeedingSession struct {
	ID         string
	Time       string
	FeedAmount float64
}

// Schedule is a persisted recurring feeding schedule.
type Schedule struct {
	ID         string
	FeederID   string
	StartDate  time.Time
	EndDate    *time.Time
	Interval   feeding.Interval
	DaysOfWeek []int
	Sessions   []FeedingSession
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ScheduleStatus is a schedule evaluated against a reference instant.
type ScheduleStatus struct {
	Schedule         Schedule
	Active           bool
	NextOccurrence   *time.Time
	NextFeedAmount   float64
	TotalDailyAmount float64
}

// CollisionWarning reports that two schedules on one feeder dispense at the
// same time of day on a shared weekday.
type CollisionWarning struct {
	ScheduleID string
	Weekday    time.Weekday
	Time       string
}

// CreateScheduleParams wraps the data required to create a schedule.
type CreateScheduleParams struct {
	Principal Principal
	FeederID  string
	Input     ScheduleInput
}

// UpdateScheduleParams wraps the data required to replace an existing schedule.
type UpdateScheduleParams struct {
	Principal  Principal
	ScheduleID string
	Input      ScheduleInput
}

// ReleaseParams wraps a manual feed release request.
type ReleaseParams struct {
	Principal  Principal
	FeederID   string
	FeedAmount float64
}

// ReleaseResult describes a release command handed to the device.
type ReleaseResult struct {
	FeederID    string
	DeviceID    string
	FeedAmount  float64
	RequestedAt time.Time
}

// InviteParams wraps the data required to invite a user onto a feeder.
type InviteParams struct {
	Principal Principal
	FeederID  string
	Email     string
	Role      string
}

// Invitation is a pending offer of a role on a feeder.
type Invitation struct {
	ID        string
	FeederID  string
	Email     string
	Role      access.Role
	Token     string
	InvitedBy string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Grant is the role a user holds on a feeder.
type Grant struct {
	FeederID string
	UserID   string
	Role     access.Role
}
