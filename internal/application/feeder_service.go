package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/access"
	"github.com/example/smartfeeder/internal/devicelink"
	"github.com/example/smartfeeder/internal/persistence"
)

// FeederService manages feeder registration and visibility.
type FeederService struct {
	feeders         persistence.FeederRepository
	grants          persistence.GrantRepository
	access          feederAccess
	publisher       devicelink.Publisher
	idGenerator     func() string
	now             func() time.Time
	defaultTimezone string
	logger          *slog.Logger
}

// NewFeederService wires dependencies for feeder operations. An empty
// defaultTimezone falls back to UTC.
func NewFeederService(feeders persistence.FeederRepository, grants persistence.GrantRepository, publisher devicelink.Publisher, idGenerator func() string, now func() time.Time, defaultTimezone string, logger *slog.Logger) *FeederService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if publisher == nil {
		publisher = devicelink.NopPublisher{}
	}
	if strings.TrimSpace(defaultTimezone) == "" {
		defaultTimezone = "UTC"
	}
	return &FeederService{
		feeders:         feeders,
		grants:          grants,
		access:          feederAccess{feeders: feeders, grants: grants},
		publisher:       publisher,
		idGenerator:     idGenerator,
		now:             now,
		defaultTimezone: defaultTimezone,
		logger:          defaultLogger(logger),
	}
}

func (s *FeederService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "FeederService", operation, attrs...)
}

// CreateFeeder registers a device. The creator becomes its owner.
func (s *FeederService) CreateFeeder(ctx context.Context, principal Principal, input FeederInput) (feeder Feeder, err error) {
	if s == nil {
		return Feeder{}, fmt.Errorf("FeederService is nil")
	}

	logger := s.loggerWith(ctx, "CreateFeeder", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "feeder creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "feeder created", "feeder_id", feeder.ID, "device_id", feeder.DeviceID)
	}()

	if principal.UserID == "" {
		return Feeder{}, ErrUnauthorized
	}

	normalized := FeederInput{
		DeviceID: strings.TrimSpace(input.DeviceID),
		Name:     strings.TrimSpace(input.Name),
		Timezone: strings.TrimSpace(input.Timezone),
	}
	if normalized.Timezone == "" {
		normalized.Timezone = s.defaultTimezone
	}

	vErr := &ValidationError{}
	if normalized.DeviceID == "" {
		vErr.add("device_id", "device id is required")
	} else if devicelink.ValidateDeviceID(normalized.DeviceID) != nil {
		vErr.add("device_id", "device id must not contain spaces, '/', '+' or '#'")
	}
	if normalized.Name == "" {
		vErr.add("name", "name is required")
	}
	if _, locErr := time.LoadLocation(normalized.Timezone); locErr != nil {
		vErr.add("timezone", "timezone must be a valid IANA zone name")
	}
	if vErr.HasErrors() {
		return Feeder{}, vErr
	}

	createdAt := s.now()
	record := persistence.Feeder{
		ID:        s.idGenerator(),
		DeviceID:  normalized.DeviceID,
		Name:      normalized.Name,
		Timezone:  normalized.Timezone,
		OwnerID:   principal.UserID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := s.feeders.CreateFeeder(ctx, record); err != nil {
		err = mapRepoError(err)
		if errors.Is(err, ErrAlreadyExists) {
			dup := &ValidationError{}
			dup.add("device_id", "device is already registered")
			return Feeder{}, dup
		}
		return Feeder{}, err
	}

	return toFeeder(record, access.RoleOwner), nil
}

// ListFeeders returns every feeder the principal owns or was granted access to.
func (s *FeederService) ListFeeders(ctx context.Context, principal Principal) ([]Feeder, error) {
	if s == nil {
		return nil, fmt.Errorf("FeederService is nil")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	records, err := s.feeders.ListFeedersForUser(ctx, principal.UserID)
	if err != nil {
		return nil, mapRepoError(err)
	}

	feeders := make([]Feeder, 0, len(records))
	for _, record := range records {
		role := access.RoleOwner
		if record.OwnerID != principal.UserID {
			grant, err := s.grants.GetGrant(ctx, record.ID, principal.UserID)
			if err != nil {
				return nil, mapRepoError(err)
			}
			role = access.Role(grant.Role)
		}
		feeders = append(feeders, toFeeder(record, role))
	}
	return feeders, nil
}

// GetFeeder returns a feeder the principal can view.
func (s *FeederService) GetFeeder(ctx context.Context, principal Principal, feederID string) (Feeder, error) {
	if s == nil {
		return Feeder{}, fmt.Errorf("FeederService is nil")
	}
	record, role, err := s.access.authorize(ctx, principal, feederID, access.PermissionView)
	if err != nil {
		return Feeder{}, err
	}
	return toFeeder(record, role), nil
}

// DeleteFeeder removes a feeder with all its schedules, grants and
// invitations, then clears the retained schedule set on the broker.
func (s *FeederService) DeleteFeeder(ctx context.Context, principal Principal, feederID string) (err error) {
	if s == nil {
		return fmt.Errorf("FeederService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteFeeder", "principal_id", principal.UserID, "feeder_id", feederID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "feeder deletion failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "feeder deleted")
	}()

	record, _, err := s.access.authorize(ctx, principal, feederID, access.PermissionDeleteFeeder)
	if err != nil {
		return err
	}
	if err := s.feeders.DeleteFeeder(ctx, feederID); err != nil {
		return mapRepoError(err)
	}

	pubCtx, cancel := detachedContext(ctx)
	defer cancel()
	if pubErr := s.publisher.ClearSchedules(pubCtx, record.DeviceID); pubErr != nil {
		logger.WarnContext(ctx, "failed to clear device schedules", "error", pubErr, "device_id", record.DeviceID)
	}
	return nil
}

func toFeeder(record persistence.Feeder, role access.Role) Feeder {
	return Feeder{
		ID:        record.ID,
		DeviceID:  record.DeviceID,
		Name:      record.Name,
		Timezone:  record.Timezone,
		OwnerID:   record.OwnerID,
		Role:      role,
		CreatedAt: record.CreatedAt,
	}
}

// devicePublishTimeout bounds device publications that outlive the request.
const devicePublishTimeout = 10 * time.Second

// detachedContext keeps request values but not its cancellation, so a client
// disconnect does not abort a device publication.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), devicePublishTimeout)
}
