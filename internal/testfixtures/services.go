package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/example/smartfeeder/internal/application"
	"github.com/example/smartfeeder/internal/devicelink"
	"github.com/example/smartfeeder/internal/feeding"
	"github.com/example/smartfeeder/internal/releaseguard"
)

// fastArgon2id keeps password hashing cheap in tests.
var fastArgon2id = application.Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Services bundles the application services wired against a SQLiteHarness.
type Services struct {
	Clock       *Clock
	IDs         *IDGenerator
	Publisher   *RecordingPublisher
	Auth        *application.AuthService
	Feeders     *application.FeederService
	Schedules   *application.ScheduleService
	Releases    *application.ReleaseService
	Invitations *application.InvitationService
}

// ServiceOption configures NewServices.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	clock *Clock
	ids   *IDGenerator
}

// WithClock overrides the clock shared by every service.
func WithClock(clock *Clock) ServiceOption {
	return func(cfg *serviceConfig) { cfg.clock = clock }
}

// WithIDGenerator overrides the identifier and token source.
func WithIDGenerator(ids *IDGenerator) ServiceOption {
	return func(cfg *serviceConfig) { cfg.ids = ids }
}

// NewServices wires every application service to h with a shared clock, a
// recording publisher and an in-process release guard.
func NewServices(h *SQLiteHarness, opts ...ServiceOption) *Services {
	cfg := serviceConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = NewClock(time.Time{})
	}
	if cfg.ids == nil {
		cfg.ids = NewIDGenerator("id")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := &RecordingPublisher{}
	now := cfg.clock.Now
	next := cfg.ids.Next

	return &Services{
		Clock:     cfg.clock,
		IDs:       cfg.ids,
		Publisher: publisher,
		Auth: application.NewAuthService(h.Users, h.Users,
			application.NewArgon2idHasher(fastArgon2id), application.VerifyPassword,
			next, now, 24*time.Hour, logger),
		Feeders: application.NewFeederService(h.Feeders, h.Feeders, publisher, next, now, "UTC", logger),
		Schedules: application.NewScheduleService(h.Feeders, h.Feeders, h.Schedules,
			feeding.NewEngine(time.UTC), publisher, next, now, logger),
		Releases: application.NewReleaseService(h.Feeders, h.Feeders,
			releaseguard.NewMemoryGuard(now), publisher, application.DefaultReleaseCooldown, now, logger),
		Invitations: application.NewInvitationService(h.Feeders, h.Feeders, h.Invitations,
			next, next, now, application.DefaultInvitationTTL, logger),
	}
}

// RecordingPublisher captures device messages instead of sending them.
type RecordingPublisher struct {
	mu       sync.Mutex
	sets     []devicelink.ScheduleSet
	releases []devicelink.ReleaseCommand
	cleared  []string
}

var _ devicelink.Publisher = (*RecordingPublisher)(nil)

func (p *RecordingPublisher) PublishSchedules(ctx context.Context, set devicelink.ScheduleSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets = append(p.sets, set)
	return nil
}

func (p *RecordingPublisher) PublishRelease(ctx context.Context, cmd devicelink.ReleaseCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases = append(p.releases, cmd)
	return nil
}

func (p *RecordingPublisher) ClearSchedules(ctx context.Context, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, deviceID)
	return nil
}

// LastScheduleSet returns the most recent schedule set published for
// deviceID.
func (p *RecordingPublisher) LastScheduleSet(deviceID string) (devicelink.ScheduleSet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.sets) - 1; i >= 0; i-- {
		if p.sets[i].DeviceID == deviceID {
			return p.sets[i], true
		}
	}
	return devicelink.ScheduleSet{}, false
}

// Releases returns a copy of the published release commands.
func (p *RecordingPublisher) Releases() []devicelink.ReleaseCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]devicelink.ReleaseCommand(nil), p.releases...)
}

// Cleared returns the device ids whose schedules were cleared.
func (p *RecordingPublisher) Cleared() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cleared...)
}
