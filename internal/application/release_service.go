package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/smartfeeder/internal/access"
	"github.com/example/smartfeeder/internal/devicelink"
	"github.com/example/smartfeeder/internal/feeding"
	"github.com/example/smartfeeder/internal/persistence"
	"github.com/example/smartfeeder/internal/releaseguard"
)

// DefaultReleaseCooldown is how long a feeder refuses further manual releases
// after one was handed to the device.
const DefaultReleaseCooldown = 30 * time.Second

// ReleaseService sends one-off feed release commands to devices.
type ReleaseService struct {
	access    feederAccess
	guard     releaseguard.Guard
	publisher devicelink.Publisher
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewReleaseService wires dependencies for manual releases. A non-positive
// cooldown uses DefaultReleaseCooldown.
func NewReleaseService(feeders persistence.FeederRepository, grants persistence.GrantRepository, guard releaseguard.Guard, publisher devicelink.Publisher, cooldown time.Duration, now func() time.Time, logger *slog.Logger) *ReleaseService {
	if now == nil {
		now = time.Now
	}
	if guard == nil {
		guard = releaseguard.NewMemoryGuard(now)
	}
	if publisher == nil {
		publisher = devicelink.NopPublisher{}
	}
	if cooldown <= 0 {
		cooldown = DefaultReleaseCooldown
	}
	return &ReleaseService{
		access:    feederAccess{feeders: feeders, grants: grants},
		guard:     guard,
		publisher: publisher,
		cooldown:  cooldown,
		now:       now,
		logger:    defaultLogger(logger),
	}
}

// TriggerRelease asks the feeder's device to dispense FeedAmount kilograms
// immediately. Only one release per feeder may be in flight within the
// cooldown window.
func (s *ReleaseService) TriggerRelease(ctx context.Context, params ReleaseParams) (result ReleaseResult, err error) {
	if s == nil {
		return ReleaseResult{}, fmt.Errorf("ReleaseService is nil")
	}

	logger := serviceLogger(ctx, s.logger, "ReleaseService", "TriggerRelease",
		"principal_id", params.Principal.UserID, "feeder_id", params.FeederID, "feed_amount", params.FeedAmount)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "feed release failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "feed release sent", "device_id", result.DeviceID)
	}()

	feeder, _, err := s.access.authorize(ctx, params.Principal, params.FeederID, access.PermissionReleaseFeed)
	if err != nil {
		return ReleaseResult{}, err
	}

	if params.FeedAmount < feeding.MinFeedAmount {
		vErr := &ValidationError{}
		vErr.add("feed_amount", fmt.Sprintf("must be at least %.1f kg", feeding.MinFeedAmount))
		return ReleaseResult{}, vErr
	}

	acquired, err := s.guard.Acquire(ctx, feeder.ID, s.cooldown)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !acquired {
		return ReleaseResult{}, ErrReleaseInProgress
	}

	requestedAt := s.now().UTC()
	cmd := devicelink.ReleaseCommand{
		DeviceID:    feeder.DeviceID,
		Command:     devicelink.CommandRelease,
		FeedAmount:  params.FeedAmount,
		RequestedBy: params.Principal.UserID,
		SentAt:      requestedAt,
	}
	if err := s.publisher.PublishRelease(ctx, cmd); err != nil {
		releaseCtx, cancel := detachedContext(ctx)
		defer cancel()
		if relErr := s.guard.Release(releaseCtx, feeder.ID); relErr != nil {
			logger.WarnContext(ctx, "failed to release feed guard", "error", relErr)
		}
		return ReleaseResult{}, fmt.Errorf("publish release: %w", err)
	}

	return ReleaseResult{
		FeederID:    feeder.ID,
		DeviceID:    feeder.DeviceID,
		FeedAmount:  params.FeedAmount,
		RequestedAt: requestedAt,
	}, nil
}
