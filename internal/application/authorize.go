package application

import (
	"context"
	"errors"

	"github.com/example/smartfeeder/internal/access"
	"github.com/example/smartfeeder/internal/persistence"
)

// feederAccess resolves a principal's role on a feeder and checks it against
// the permission matrix.
type feederAccess struct {
	feeders persistence.FeederRepository
	grants  persistence.GrantRepository
}

// authorize loads the feeder and the caller's role. Callers without any grant
// get ErrNotFound so feeder ids cannot be enumerated; callers whose role lacks the
// permission get ErrUnauthorized.
func (a feederAccess) authorize(ctx context.Context, principal Principal, feederID string, permission access.Permission) (persistence.Feeder, access.Role, error) {
	if principal.UserID == "" {
		return persistence.Feeder{}, "", ErrUnauthorized
	}

	feeder, err := a.feeders.GetFeeder(ctx, feederID)
	if err != nil {
		return persistence.Feeder{}, "", mapRepoError(err)
	}

	grant, err := a.grants.GetGrant(ctx, feederID, principal.UserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Feeder{}, "", ErrNotFound
		}
		return persistence.Feeder{}, "", err
	}

	role, err := access.ParseRole(grant.Role)
	if err != nil {
		return persistence.Feeder{}, "", ErrUnauthorized
	}
	if !access.Allows(role, permission) {
		return persistence.Feeder{}, role, ErrUnauthorized
	}
	return feeder, role, nil
}
