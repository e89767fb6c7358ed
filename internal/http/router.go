package http

import (
	"net/http"
)

// RouterConfig collects the handlers and middleware served by NewRouter.
// Nil handlers leave their routes unregistered.
type RouterConfig struct {
	Auth        *AuthHandler
	Users       *UserHandler
	Feeders     *FeederHandler
	Schedules   *ScheduleHandler
	Invitations *InvitationHandler
	// RequireSession guards every route except login and registration.
	RequireSession func(http.Handler) http.Handler
	Middleware     []func(http.Handler) http.Handler
}

// NewRouter builds the API mux.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	protect := func(fn http.HandlerFunc) http.Handler {
		if cfg.RequireSession == nil {
			return fn
		}
		return cfg.RequireSession(fn)
	}

	if cfg.Auth != nil {
		mux.HandleFunc("POST /sessions", cfg.Auth.Login)
		mux.Handle("DELETE /sessions/current", protect(cfg.Auth.Logout))
	}

	if cfg.Users != nil {
		mux.HandleFunc("POST /users", cfg.Users.Register)
		mux.Handle("GET /users/me", protect(cfg.Users.Me))
	}

	if cfg.Feeders != nil {
		mux.Handle("GET /feeders", protect(cfg.Feeders.List))
		mux.Handle("POST /feeders", protect(cfg.Feeders.Create))
		mux.Handle("GET /feeders/{id}", protect(cfg.Feeders.Get))
		mux.Handle("DELETE /feeders/{id}", protect(cfg.Feeders.Delete))
		mux.Handle("POST /feeders/{id}/release", protect(cfg.Feeders.Release))
	}

	if cfg.Schedules != nil {
		mux.Handle("GET /feeders/{id}/schedules", protect(cfg.Schedules.List))
		mux.Handle("POST /feeders/{id}/schedules", protect(cfg.Schedules.Create))
		mux.Handle("GET /feeders/{id}/schedules/export", protect(cfg.Schedules.Export))
		mux.Handle("PUT /schedules/{id}", protect(cfg.Schedules.Update))
		mux.Handle("DELETE /schedules/{id}", protect(cfg.Schedules.Delete))
	}

	if cfg.Invitations != nil {
		mux.Handle("GET /feeders/{id}/invitations", protect(cfg.Invitations.List))
		mux.Handle("POST /feeders/{id}/invitations", protect(cfg.Invitations.Create))
		mux.Handle("POST /invitations/{token}/accept", protect(cfg.Invitations.Accept))
		mux.Handle("GET /feeders/{id}/grants", protect(cfg.Invitations.Grants))
		mux.Handle("DELETE /feeders/{id}/grants/{userID}", protect(cfg.Invitations.RevokeGrant))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}
