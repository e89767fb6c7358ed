package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/example/smartfeeder/internal/persistence/sqlite"
)

// SQLiteHarness exposes migrated repositories over a private in-memory
// database.
type SQLiteHarness struct {
	Pool        *sqlite.ConnectionPool
	Users       *sqlite.UserRepository
	Feeders     *sqlite.FeederRepository
	Schedules   *sqlite.ScheduleRepository
	Invitations *sqlite.InvitationRepository
}

// NewSQLiteHarness opens and migrates the database, closing it when the test
// ends.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	pool, err := sqlite.Open(ctx, sqlite.InMemoryConfig())
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = pool.Close() })

	if err := sqlite.Migrate(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	return &SQLiteHarness{
		Pool:        pool,
		Users:       sqlite.NewUserRepository(pool),
		Feeders:     sqlite.NewFeederRepository(pool),
		Schedules:   sqlite.NewScheduleRepository(pool),
		Invitations: sqlite.NewInvitationRepository(pool),
	}
}
