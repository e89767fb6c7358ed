package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/smartfeeder/internal/access"
)

func TestFeederService_CreateFeeder(t *testing.T) {
	t.Parallel()

	store := newFeederStoreStub()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := NewFeederService(store, store, &publisherStub{}, sequence("feeder-1"), fixedClock(now), "Europe/Berlin", nil)

	feeder, err := svc.CreateFeeder(context.Background(), Principal{UserID: "user-1"}, FeederInput{
		DeviceID: " barn-01 ",
		Name:     " Barn ",
	})
	if err != nil {
		t.Fatalf("CreateFeeder returned error: %v", err)
	}
	if feeder.ID != "feeder-1" || feeder.DeviceID != "barn-01" || feeder.Name != "Barn" {
		t.Fatalf("unexpected feeder: %#v", feeder)
	}
	if feeder.Timezone != "Europe/Berlin" {
		t.Fatalf("expected default timezone, got %q", feeder.Timezone)
	}
	if feeder.Role != access.RoleOwner {
		t.Fatalf("expected owner role, got %q", feeder.Role)
	}
	if grant, err := store.GetGrant(context.Background(), "feeder-1", "user-1"); err != nil || grant.Role != "owner" {
		t.Fatalf("expected owner grant, got %#v (%v)", grant, err)
	}
}

func TestFeederService_CreateFeederValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input FeederInput
		field string
	}{
		{name: "missing device", input: FeederInput{Name: "Barn"}, field: "device_id"},
		{name: "topic wildcard", input: FeederInput{DeviceID: "barn/#", Name: "Barn"}, field: "device_id"},
		{name: "missing name", input: FeederInput{DeviceID: "barn-01"}, field: "name"},
		{name: "bad timezone", input: FeederInput{DeviceID: "barn-01", Name: "Barn", Timezone: "Mars/Olympus"}, field: "timezone"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := newFeederStoreStub()
			svc := NewFeederService(store, store, nil, sequence("feeder-1"), nil, "", nil)

			_, err := svc.CreateFeeder(context.Background(), Principal{UserID: "user-1"}, tc.input)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := vErr.FieldErrors[tc.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tc.field, vErr.FieldErrors)
			}
		})
	}
}

func TestFeederService_CreateFeederDuplicateDevice(t *testing.T) {
	t.Parallel()

	store := newFeederStoreStub()
	store.addFeeder("feeder-0", "barn-01", "user-2", "UTC")
	svc := NewFeederService(store, store, nil, sequence("feeder-1"), nil, "", nil)

	_, err := svc.CreateFeeder(context.Background(), Principal{UserID: "user-1"}, FeederInput{DeviceID: "barn-01", Name: "Barn"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.FieldErrors["device_id"] == "" {
		t.Fatalf("expected device_id validation error, got %v", err)
	}
}

func TestFeederService_ListFeedersResolvesRoles(t *testing.T) {
	t.Parallel()

	store := newFeederStoreStub()
	store.addFeeder("feeder-a", "a", "user-1", "UTC")
	store.addFeeder("feeder-b", "b", "user-2", "UTC")
	store.grant("feeder-b", "user-1", "scheduler")
	store.addFeeder("feeder-c", "c", "user-2", "UTC")
	svc := NewFeederService(store, store, nil, nil, nil, "", nil)

	feeders, err := svc.ListFeeders(context.Background(), Principal{UserID: "user-1"})
	if err != nil {
		t.Fatalf("ListFeeders returned error: %v", err)
	}
	if len(feeders) != 2 {
		t.Fatalf("expected 2 feeders, got %d", len(feeders))
	}
	if feeders[0].Role != access.RoleOwner || feeders[1].Role != access.RoleScheduler {
		t.Fatalf("unexpected roles: %q, %q", feeders[0].Role, feeders[1].Role)
	}
}

func TestFeederService_GetFeederHidesUngranted(t *testing.T) {
	t.Parallel()

	store := newFeederStoreStub()
	store.addFeeder("feeder-a", "a", "user-1", "UTC")
	svc := NewFeederService(store, store, nil, nil, nil, "", nil)

	if _, err := svc.GetFeeder(context.Background(), Principal{UserID: "user-9"}, "feeder-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a stranger, got %v", err)
	}
	if _, err := svc.GetFeeder(context.Background(), Principal{}, "feeder-a"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without principal, got %v", err)
	}
}

func TestFeederService_DeleteFeeder(t *testing.T) {
	t.Parallel()

	t.Run("owner deletes and clears device", func(t *testing.T) {
		t.Parallel()
		store := newFeederStoreStub()
		store.addFeeder("feeder-a", "barn-01", "user-1", "UTC")
		pub := &publisherStub{}
		svc := NewFeederService(store, store, pub, nil, nil, "", nil)

		if err := svc.DeleteFeeder(context.Background(), Principal{UserID: "user-1"}, "feeder-a"); err != nil {
			t.Fatalf("DeleteFeeder returned error: %v", err)
		}
		if len(pub.cleared) != 1 || pub.cleared[0] != "barn-01" {
			t.Fatalf("expected retained schedules to be cleared, got %v", pub.cleared)
		}
	})

	t.Run("manager is refused", func(t *testing.T) {
		t.Parallel()
		store := newFeederStoreStub()
		store.addFeeder("feeder-a", "barn-01", "user-1", "UTC")
		store.grant("feeder-a", "user-2", "manager")
		svc := NewFeederService(store, store, nil, nil, nil, "", nil)

		if err := svc.DeleteFeeder(context.Background(), Principal{UserID: "user-2"}, "feeder-a"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("publish failure is not returned", func(t *testing.T) {
		t.Parallel()
		store := newFeederStoreStub()
		store.addFeeder("feeder-a", "barn-01", "user-1", "UTC")
		svc := NewFeederService(store, store, &publisherStub{err: errors.New("broker down")}, nil, nil, "", nil)

		if err := svc.DeleteFeeder(context.Background(), Principal{UserID: "user-1"}, "feeder-a"); err != nil {
			t.Fatalf("expected publish failure to be swallowed, got %v", err)
		}
	})
}
