package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/smartfeeder/internal/application"
	"github.com/example/smartfeeder/internal/config"
	"github.com/example/smartfeeder/internal/devicelink"
	"github.com/example/smartfeeder/internal/devicesync"
	"github.com/example/smartfeeder/internal/feeding"
	httptransport "github.com/example/smartfeeder/internal/http"
	"github.com/example/smartfeeder/internal/logging"
	"github.com/example/smartfeeder/internal/persistence/sqlite"
	"github.com/example/smartfeeder/internal/releaseguard"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("feeder service stopped", "error", err)
		os.Exit(1)
	}
}

// app holds the long lived resources built from a Config.
type app struct {
	handler http.Handler
	sync    *devicesync.Job
	closers []func() error
}

func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error("failed to release resource", "error", err)
		}
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	if err := a.sync.Start(ctx); err != nil {
		return fmt.Errorf("start device sync: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.sync.Stop(stopCtx); err != nil {
			logger.Warn("device sync did not stop cleanly", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("feeder API listening", "addr", server.Addr, "device_sync", a.sync.Spec())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// build opens storage, connects to the broker and Redis when configured, and
// wires the services behind the HTTP router.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close(logger)
		return nil, err
	}

	pool, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLiteDSN))
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	a.closers = append(a.closers, pool.Close)

	if err := sqlite.Migrate(ctx, pool, logger); err != nil {
		return fail(fmt.Errorf("apply migrations: %w", err))
	}

	publisher, closePublisher, err := newPublisher(cfg.MQTT, logger)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closePublisher)

	guard, closeGuard, err := newGuard(ctx, cfg.Redis, time.Now)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeGuard)

	location, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return fail(fmt.Errorf("load default timezone: %w", err))
	}

	users := sqlite.NewUserRepository(pool)
	feeders := sqlite.NewFeederRepository(pool)
	schedules := sqlite.NewScheduleRepository(pool)
	invitations := sqlite.NewInvitationRepository(pool)

	idGenerator := uuid.NewString
	now := time.Now

	authService := application.NewAuthService(users, users,
		application.NewArgon2idHasher(application.DefaultArgon2idParams), application.VerifyPassword,
		randomToken, now, cfg.SessionTTL, logger)
	feederService := application.NewFeederService(feeders, feeders, publisher, idGenerator, now, cfg.DefaultTimezone, logger)
	scheduleService := application.NewScheduleService(feeders, feeders, schedules, feeding.NewEngine(location), publisher, idGenerator, now, logger)
	releaseService := application.NewReleaseService(feeders, feeders, guard, publisher, cfg.ReleaseGuardTTL, now, logger)
	invitationService := application.NewInvitationService(feeders, feeders, invitations, idGenerator, randomToken, now, cfg.InvitationTTL, logger)

	a.sync, err = devicesync.New(scheduleService, cfg.DeviceSyncSpec, 5*time.Minute, logger, devicesync.WithSweeper(authService))
	if err != nil {
		return fail(err)
	}

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Auth:           httptransport.NewAuthHandler(authService, logger),
		Users:          httptransport.NewUserHandler(authService, logger),
		Feeders:        httptransport.NewFeederHandler(feederService, releaseService, logger),
		Schedules:      httptransport.NewScheduleHandler(scheduleService, logger),
		Invitations:    httptransport.NewInvitationHandler(invitationService, logger),
		RequireSession: httptransport.RequireSession(authService, logger),
		Middleware:     []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	return a, nil
}

// newPublisher connects to the MQTT broker, or discards device messages when
// no broker is configured.
func newPublisher(cfg config.MQTTConfig, logger *slog.Logger) (devicelink.Publisher, func() error, error) {
	if cfg.Broker == "" {
		logger.Warn("no MQTT broker configured, device messages will be dropped")
		return devicelink.NopPublisher{Logger: logger}, func() error { return nil }, nil
	}

	client, err := devicelink.NewClient(devicelink.Config{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, nil, err
	}
	closer := func() error {
		client.Disconnect()
		return nil
	}
	return devicelink.NewMQTTPublisher(client, cfg.PublishRate, logger), closer, nil
}

// newGuard uses Redis when an address is configured so every instance shares
// release locks, and an in-process guard otherwise.
func newGuard(ctx context.Context, cfg config.RedisConfig, now func() time.Time) (releaseguard.Guard, func() error, error) {
	if cfg.Addr == "" {
		return releaseguard.NewMemoryGuard(now), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return releaseguard.NewRedisGuard(client, ""), client.Close, nil
}

// randomToken returns 32 random bytes hex encoded for session and invitation
// tokens.
func randomToken() string {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
