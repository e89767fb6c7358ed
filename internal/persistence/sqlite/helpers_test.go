package sqlite

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/smartfeeder/internal/persistence"
)

func newTestPool(t *testing.T) *ConnectionPool {
	t.Helper()

	ctx := context.Background()
	pool, err := Open(ctx, InMemoryConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := Migrate(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return pool
}

func seedUser(t *testing.T, pool *ConnectionPool, id, email string) {
	t.Helper()

	err := NewUserRepository(pool).CreateUser(context.Background(), persistence.User{
		ID:           id,
		Email:        email,
		DisplayName:  id,
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedFeeder(t *testing.T, pool *ConnectionPool, id, ownerID string) {
	t.Helper()

	err := NewFeederRepository(pool).CreateFeeder(context.Background(), persistence.Feeder{
		ID:       id,
		DeviceID: "device-" + id,
		Name:     "Feeder " + id,
		Timezone: "UTC",
		OwnerID:  ownerID,
	})
	if err != nil {
		t.Fatalf("seed feeder %s: %v", id, err)
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
