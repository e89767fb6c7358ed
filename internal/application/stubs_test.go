package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/smartfeeder/internal/devicelink"
	"github.com/example/smartfeeder/internal/persistence"
)

// feederStoreStub implements FeederRepository and GrantRepository over maps,
// inserting the owner grant on create like the SQLite store does.
type feederStoreStub struct {
	feeders     map[string]persistence.Feeder
	grants      map[string]persistence.Grant
	createErr   error
	getGrantErr error
	upserts     []persistence.Grant
}

func newFeederStoreStub() *feederStoreStub {
	return &feederStoreStub{
		feeders: make(map[string]persistence.Feeder),
		grants:  make(map[string]persistence.Grant),
	}
}

func grantKey(feederID, userID string) string { return feederID + "|" + userID }

// addFeeder seeds a feeder owned by ownerID.
func (s *feederStoreStub) addFeeder(id, deviceID, ownerID, timezone string) persistence.Feeder {
	feeder := persistence.Feeder{ID: id, DeviceID: deviceID, Name: id, Timezone: timezone, OwnerID: ownerID}
	s.feeders[id] = feeder
	s.grants[grantKey(id, ownerID)] = persistence.Grant{FeederID: id, UserID: ownerID, Role: "owner"}
	return feeder
}

func (s *feederStoreStub) grant(feederID, userID, role string) {
	s.grants[grantKey(feederID, userID)] = persistence.Grant{FeederID: feederID, UserID: userID, Role: role}
}

func (s *feederStoreStub) CreateFeeder(ctx context.Context, feeder persistence.Feeder) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.feeders {
		if existing.DeviceID == feeder.DeviceID {
			return persistence.ErrDuplicate
		}
	}
	s.feeders[feeder.ID] = feeder
	s.grant(feeder.ID, feeder.OwnerID, "owner")
	return nil
}

func (s *feederStoreStub) GetFeeder(ctx context.Context, id string) (persistence.Feeder, error) {
	feeder, ok := s.feeders[id]
	if !ok {
		return persistence.Feeder{}, persistence.ErrNotFound
	}
	return feeder, nil
}

func (s *feederStoreStub) ListFeedersForUser(ctx context.Context, userID string) ([]persistence.Feeder, error) {
	var out []persistence.Feeder
	for _, feeder := range s.sorted() {
		if _, ok := s.grants[grantKey(feeder.ID, userID)]; ok || feeder.OwnerID == userID {
			out = append(out, feeder)
		}
	}
	return out, nil
}

func (s *feederStoreStub) ListFeeders(ctx context.Context) ([]persistence.Feeder, error) {
	return s.sorted(), nil
}

func (s *feederStoreStub) sorted() []persistence.Feeder {
	out := make([]persistence.Feeder, 0, len(s.feeders))
	for _, feeder := range s.feeders {
		out = append(out, feeder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *feederStoreStub) DeleteFeeder(ctx context.Context, id string) error {
	if _, ok := s.feeders[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.feeders, id)
	return nil
}

func (s *feederStoreStub) UpsertGrant(ctx context.Context, grant persistence.Grant) error {
	s.upserts = append(s.upserts, grant)
	s.grants[grantKey(grant.FeederID, grant.UserID)] = grant
	return nil
}

func (s *feederStoreStub) GetGrant(ctx context.Context, feederID, userID string) (persistence.Grant, error) {
	if s.getGrantErr != nil {
		return persistence.Grant{}, s.getGrantErr
	}
	grant, ok := s.grants[grantKey(feederID, userID)]
	if !ok {
		return persistence.Grant{}, persistence.ErrNotFound
	}
	return grant, nil
}

func (s *feederStoreStub) ListGrants(ctx context.Context, feederID string) ([]persistence.Grant, error) {
	var out []persistence.Grant
	for _, grant := range s.grants {
		if grant.FeederID == feederID {
			out = append(out, grant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *feederStoreStub) DeleteGrant(ctx context.Context, feederID, userID string) error {
	key := grantKey(feederID, userID)
	if _, ok := s.grants[key]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.grants, key)
	return nil
}

type scheduleRepoStub struct {
	schedules map[string]persistence.Schedule
	order     []string
	listErr   error
	createErr error
}

func newScheduleRepoStub(seed ...persistence.Schedule) *scheduleRepoStub {
	repo := &scheduleRepoStub{schedules: make(map[string]persistence.Schedule)}
	for _, schedule := range seed {
		repo.schedules[schedule.ID] = schedule
		repo.order = append(repo.order, schedule.ID)
	}
	return repo
}

func (s *scheduleRepoStub) CreateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.schedules[schedule.ID] = schedule
	s.order = append(s.order, schedule.ID)
	return nil
}

func (s *scheduleRepoStub) UpdateSchedule(ctx context.Context, schedule persistence.Schedule) error {
	if _, ok := s.schedules[schedule.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *scheduleRepoStub) GetSchedule(ctx context.Context, id string) (persistence.Schedule, error) {
	schedule, ok := s.schedules[id]
	if !ok {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	return schedule, nil
}

func (s *scheduleRepoStub) ListSchedulesForFeeder(ctx context.Context, feederID string) ([]persistence.Schedule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []persistence.Schedule
	for _, id := range s.order {
		schedule, ok := s.schedules[id]
		if ok && schedule.FeederID == feederID {
			out = append(out, schedule)
		}
	}
	return out, nil
}

func (s *scheduleRepoStub) DeleteSchedule(ctx context.Context, id string) error {
	if _, ok := s.schedules[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

// invitationRepoStub writes accepted grants through to grants, failing
// before any change when acceptErr is set.
type invitationRepoStub struct {
	invitations map[string]persistence.Invitation
	created     []persistence.Invitation
	grants      *feederStoreStub
	acceptErr   error
}

func newInvitationRepoStub(seed ...persistence.Invitation) *invitationRepoStub {
	repo := &invitationRepoStub{invitations: make(map[string]persistence.Invitation)}
	for _, invitation := range seed {
		repo.invitations[invitation.ID] = invitation
	}
	return repo
}

func (s *invitationRepoStub) CreateInvitation(ctx context.Context, invitation persistence.Invitation) error {
	s.created = append(s.created, invitation)
	s.invitations[invitation.ID] = invitation
	return nil
}

func (s *invitationRepoStub) GetInvitationByToken(ctx context.Context, token string) (persistence.Invitation, error) {
	for _, invitation := range s.invitations {
		if invitation.Token == token {
			return invitation, nil
		}
	}
	return persistence.Invitation{}, persistence.ErrNotFound
}

func (s *invitationRepoStub) ListInvitations(ctx context.Context, feederID string) ([]persistence.Invitation, error) {
	var out []persistence.Invitation
	for _, invitation := range s.invitations {
		if invitation.FeederID == feederID {
			out = append(out, invitation)
		}
	}
	return out, nil
}

func (s *invitationRepoStub) AcceptInvitation(ctx context.Context, id, userID string, acceptedAt time.Time, grant *persistence.Grant) error {
	if s.acceptErr != nil {
		return s.acceptErr
	}
	invitation, ok := s.invitations[id]
	if !ok || invitation.AcceptedAt != nil {
		return persistence.ErrNotFound
	}
	if grant != nil && s.grants != nil {
		if err := s.grants.UpsertGrant(ctx, *grant); err != nil {
			return err
		}
	}
	invitation.AcceptedAt = &acceptedAt
	invitation.AcceptedBy = &userID
	s.invitations[id] = invitation
	return nil
}

type userRepoStub struct {
	users     map[string]persistence.User
	createErr error
}

func newUserRepoStub(seed ...persistence.User) *userRepoStub {
	repo := &userRepoStub{users: make(map[string]persistence.User)}
	for _, user := range seed {
		repo.users[user.ID] = user
	}
	return repo
}

func (s *userRepoStub) CreateUser(ctx context.Context, user persistence.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return persistence.ErrDuplicate
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *userRepoStub) GetUser(ctx context.Context, id string) (persistence.User, error) {
	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

func (s *userRepoStub) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

type sessionRepoStub struct {
	sessions    map[string]persistence.Session
	deleteCalls []time.Time
	deleteErr   error
}

func newSessionRepoStub() *sessionRepoStub {
	return &sessionRepoStub{sessions: make(map[string]persistence.Session)}
}

func (s *sessionRepoStub) CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, error) {
	s.sessions[session.Token] = session
	return session, nil
}

func (s *sessionRepoStub) GetSession(ctx context.Context, token string) (persistence.Session, error) {
	session, ok := s.sessions[token]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (s *sessionRepoStub) RevokeSession(ctx context.Context, token string, revokedAt time.Time) (persistence.Session, error) {
	session, ok := s.sessions[token]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &revokedAt
	}
	s.sessions[token] = session
	return session, nil
}

func (s *sessionRepoStub) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	s.deleteCalls = append(s.deleteCalls, reference)
	return s.deleteErr
}

// publisherStub records device publications.
type publisherStub struct {
	mu         sync.Mutex
	sets       []devicelink.ScheduleSet
	releases   []devicelink.ReleaseCommand
	cleared    []string
	err        error
	releaseErr error
}

func (p *publisherStub) PublishSchedules(ctx context.Context, set devicelink.ScheduleSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sets = append(p.sets, set)
	return nil
}

func (p *publisherStub) PublishRelease(ctx context.Context, cmd devicelink.ReleaseCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.releaseErr != nil {
		return p.releaseErr
	}
	p.releases = append(p.releases, cmd)
	return nil
}

func (p *publisherStub) ClearSchedules(ctx context.Context, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.cleared = append(p.cleared, deviceID)
	return nil
}

func sequence(values ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		i++
		if i > len(values) {
			return fmt.Sprintf("generated-%d", i)
		}
		return values[i-1]
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}
