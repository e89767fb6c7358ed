package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/smartfeeder/internal/persistence"
)

func TestInvitationRepository_AcceptOnce(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "owner", "owner@example.com")
	seedUser(t, pool, "guest", "guest@example.com")
	seedFeeder(t, pool, "feeder-1", "owner")
	repo := NewInvitationRepository(pool)
	ctx := context.Background()
	now := time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

	err := repo.CreateInvitation(ctx, persistence.Invitation{
		ID:        "inv-1",
		FeederID:  "feeder-1",
		Email:     "guest@example.com",
		Role:      "scheduler",
		Token:     "secret",
		InvitedBy: "owner",
		ExpiresAt: now.Add(72 * time.Hour),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	grant := &persistence.Grant{FeederID: "feeder-1", UserID: "guest", Role: "scheduler"}
	if err := repo.AcceptInvitation(ctx, "inv-1", "guest", now.Add(time.Hour), grant); err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	stored, err := NewFeederRepository(pool).GetGrant(ctx, "feeder-1", "guest")
	if err != nil || stored.Role != "scheduler" {
		t.Fatalf("expected scheduler grant, got %+v (%v)", stored, err)
	}
	if err := repo.AcceptInvitation(ctx, "inv-1", "guest", now.Add(2*time.Hour), nil); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second acceptance, got %v", err)
	}

	invitation, err := repo.GetInvitationByToken(ctx, "secret")
	if err != nil {
		t.Fatalf("GetInvitationByToken failed: %v", err)
	}
	if invitation.AcceptedBy == nil || *invitation.AcceptedBy != "guest" {
		t.Fatalf("expected accepted_by guest, got %v", invitation.AcceptedBy)
	}
	if invitation.AcceptedAt == nil || !invitation.AcceptedAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected accepted_at %v", invitation.AcceptedAt)
	}

	list, err := repo.ListInvitations(ctx, "feeder-1")
	if err != nil {
		t.Fatalf("ListInvitations failed: %v", err)
	}
	if len(list) != 1 || list[0].Role != "scheduler" {
		t.Fatalf("unexpected invitations: %+v", list)
	}
}

func TestInvitationRepository_AcceptRollsBackOnGrantFailure(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "owner", "owner@example.com")
	seedUser(t, pool, "guest", "guest@example.com")
	seedFeeder(t, pool, "feeder-1", "owner")
	repo := NewInvitationRepository(pool)
	ctx := context.Background()
	now := time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

	err := repo.CreateInvitation(ctx, persistence.Invitation{
		ID:        "inv-1",
		FeederID:  "feeder-1",
		Email:     "guest@example.com",
		Role:      "viewer",
		Token:     "secret",
		InvitedBy: "owner",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	// The grant role fails its CHECK constraint after the invitation row
	// was updated.
	grant := &persistence.Grant{FeederID: "feeder-1", UserID: "guest", Role: "admin"}
	if err := repo.AcceptInvitation(ctx, "inv-1", "guest", now, grant); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if _, err := NewFeederRepository(pool).GetGrant(ctx, "feeder-1", "guest"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected no grant, got %v", err)
	}

	invitation, err := repo.GetInvitationByToken(ctx, "secret")
	if err != nil {
		t.Fatalf("GetInvitationByToken failed: %v", err)
	}
	if invitation.AcceptedAt != nil {
		t.Fatalf("expected acceptance to be rolled back, got %v", invitation.AcceptedAt)
	}
}

func TestInvitationRepository_RejectsOwnerRole(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	seedUser(t, pool, "owner", "owner@example.com")
	seedFeeder(t, pool, "feeder-1", "owner")

	err := NewInvitationRepository(pool).CreateInvitation(context.Background(), persistence.Invitation{
		ID:        "inv-1",
		FeederID:  "feeder-1",
		Email:     "guest@example.com",
		Role:      "owner",
		Token:     "secret",
		InvitedBy: "owner",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
}
