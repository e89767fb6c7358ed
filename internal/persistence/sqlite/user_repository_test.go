package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/smartfeeder/internal/persistence"
)

func TestUserRepository_EmailLookupIgnoresCase(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "alice", "Alice@Example.com")
	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, err := repo.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if user.ID != "alice" {
		t.Fatalf("expected alice, got %q", user.ID)
	}

	err = repo.CreateUser(ctx, persistence.User{ID: "other", Email: "ALICE@example.com", DisplayName: "x", PasswordHash: "h"})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if _, err := repo.GetUser(ctx, "nobody"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_SessionLifecycle(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "alice", "alice@example.com")
	repo := NewUserRepository(pool)
	ctx := context.Background()
	now := time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

	for i, expires := range []time.Time{now.Add(time.Hour), now.Add(-time.Minute)} {
		_, err := repo.CreateSession(ctx, persistence.Session{
			ID:        []string{"live", "stale"}[i],
			UserID:    "alice",
			Token:     []string{"token-live", "token-stale"}[i],
			ExpiresAt: expires,
		})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	revoked, err := repo.RevokeSession(ctx, "token-live", now)
	if err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if revoked.RevokedAt == nil || !revoked.RevokedAt.Equal(now) {
		t.Fatalf("expected revoked_at %v, got %v", now, revoked.RevokedAt)
	}

	again, err := repo.RevokeSession(ctx, "token-live", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second RevokeSession failed: %v", err)
	}
	if !again.RevokedAt.Equal(now) {
		t.Fatalf("expected first revocation time to be kept, got %v", again.RevokedAt)
	}

	if err := repo.DeleteExpiredSessions(ctx, now); err != nil {
		t.Fatalf("DeleteExpiredSessions failed: %v", err)
	}
	if _, err := repo.GetSession(ctx, "token-stale"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected stale session to be removed, got %v", err)
	}
	if _, err := repo.GetSession(ctx, "token-live"); err != nil {
		t.Fatalf("expected live session to remain, got %v", err)
	}
	if _, err := repo.RevokeSession(ctx, "missing", now); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
