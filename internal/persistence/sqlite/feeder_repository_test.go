package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/smartfeeder/internal/persistence"
)

func TestFeederRepository_CreateAddsOwnerGrant(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "owner", "owner@example.com")
	seedFeeder(t, pool, "feeder-1", "owner")
	repo := NewFeederRepository(pool)
	ctx := context.Background()

	feeder, err := repo.GetFeeder(ctx, "feeder-1")
	if err != nil {
		t.Fatalf("GetFeeder failed: %v", err)
	}
	if feeder.DeviceID != "device-feeder-1" || feeder.OwnerID != "owner" {
		t.Fatalf("unexpected feeder: %+v", feeder)
	}

	grant, err := repo.GetGrant(ctx, "feeder-1", "owner")
	if err != nil {
		t.Fatalf("GetGrant failed: %v", err)
	}
	if grant.Role != "owner" {
		t.Fatalf("expected owner grant, got %q", grant.Role)
	}
}

func TestFeederRepository_DuplicateDevice(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "owner", "owner@example.com")
	seedFeeder(t, pool, "feeder-1", "owner")

	err := NewFeederRepository(pool).CreateFeeder(context.Background(), persistence.Feeder{
		ID:       "feeder-2",
		DeviceID: "device-feeder-1",
		Name:     "Copy",
		Timezone: "UTC",
		OwnerID:  "owner",
	})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestFeederRepository_ListForUserIncludesGrants(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "alice", "alice@example.com")
	seedUser(t, pool, "bob", "bob@example.com")
	seedFeeder(t, pool, "a-feeder", "alice")
	seedFeeder(t, pool, "b-feeder", "bob")
	repo := NewFeederRepository(pool)
	ctx := context.Background()

	if err := repo.UpsertGrant(ctx, persistence.Grant{FeederID: "a-feeder", UserID: "bob", Role: "viewer"}); err != nil {
		t.Fatalf("UpsertGrant failed: %v", err)
	}

	feeders, err := repo.ListFeedersForUser(ctx, "bob")
	if err != nil {
		t.Fatalf("ListFeedersForUser failed: %v", err)
	}
	if len(feeders) != 2 {
		t.Fatalf("expected 2 feeders for bob, got %d", len(feeders))
	}

	feeders, err = repo.ListFeedersForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListFeedersForUser failed: %v", err)
	}
	if len(feeders) != 1 || feeders[0].ID != "a-feeder" {
		t.Fatalf("unexpected feeders for alice: %+v", feeders)
	}

	all, err := repo.ListFeeders(ctx)
	if err != nil {
		t.Fatalf("ListFeeders failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 feeders in total, got %d", len(all))
	}
}

func TestFeederRepository_UpsertGrantReplacesRole(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "alice", "alice@example.com")
	seedUser(t, pool, "bob", "bob@example.com")
	seedFeeder(t, pool, "feeder-1", "alice")
	repo := NewFeederRepository(pool)
	ctx := context.Background()

	for _, role := range []string{"viewer", "manager"} {
		if err := repo.UpsertGrant(ctx, persistence.Grant{FeederID: "feeder-1", UserID: "bob", Role: role}); err != nil {
			t.Fatalf("UpsertGrant(%s) failed: %v", role, err)
		}
	}

	grants, err := repo.ListGrants(ctx, "feeder-1")
	if err != nil {
		t.Fatalf("ListGrants failed: %v", err)
	}
	if len(grants) != 2 || grants[1].UserID != "bob" || grants[1].Role != "manager" {
		t.Fatalf("unexpected grants: %+v", grants)
	}

	if err := repo.UpsertGrant(ctx, persistence.Grant{FeederID: "feeder-1", UserID: "bob", Role: "admin"}); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for unknown role, got %v", err)
	}

	if err := repo.DeleteGrant(ctx, "feeder-1", "bob"); err != nil {
		t.Fatalf("DeleteGrant failed: %v", err)
	}
	if _, err := repo.GetGrant(ctx, "feeder-1", "bob"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFeederRepository_DeleteCascades(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "owner", "owner@example.com")
	seedFeeder(t, pool, "feeder-1", "owner")
	ctx := context.Background()

	schedules := NewScheduleRepository(pool)
	if err := schedules.CreateSchedule(ctx, weeklySchedule("schedule-1")); err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}
	invitations := NewInvitationRepository(pool)
	err := invitations.CreateInvitation(ctx, persistence.Invitation{
		ID:        "inv-1",
		FeederID:  "feeder-1",
		Email:     "guest@example.com",
		Role:      "viewer",
		Token:     "token-1",
		InvitedBy: "owner",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	repo := NewFeederRepository(pool)
	if err := repo.DeleteFeeder(ctx, "feeder-1"); err != nil {
		t.Fatalf("DeleteFeeder failed: %v", err)
	}

	if _, err := schedules.GetSchedule(ctx, "schedule-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected schedule to cascade, got %v", err)
	}
	if _, err := invitations.GetInvitationByToken(ctx, "token-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected invitation to cascade, got %v", err)
	}
	if _, err := repo.GetGrant(ctx, "feeder-1", "owner"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected grant to cascade, got %v", err)
	}
	if err := repo.DeleteFeeder(ctx, "feeder-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
