package persistence

import "time"

// User represents an account that can sign in and manage feeders.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session represents an authentication session persisted for a user.
type Session struct {
	ID          string
	UserID      string
	Token       string
	Fingerprint string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RevokedAt   *time.Time
}

// Feeder represents a physical feeding device registered by its owner.
type Feeder struct {
	ID        string
	DeviceID  string
	Name      string
	Timezone  string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FeedingSession is a time-of-day and quantity row owned by a schedule.
type FeedingSession struct {
	ID         string
	ScheduleID string
	Position   int
	Time       string
	FeedAmount float64
}

// Schedule is a recurring feeding schedule stored with its sessions.
type Schedule struct {
	ID         string
	FeederID   string
	StartDate  time.Time
	EndDate    *time.Time
	Interval   string
	DaysOfWeek []int
	Sessions   []FeedingSession
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Grant records the role a user holds on a feeder.
type Grant struct {
	FeederID  string
	UserID    string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Invitation is a pending offer of a role on a feeder.
type Invitation struct {
	ID         string
	FeederID   string
	Email      string
	Role       string
	Token      string
	InvitedBy  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	AcceptedAt *time.Time
	AcceptedBy *string
}
