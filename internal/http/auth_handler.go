package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/application"
)

// The session token travels in the login body, this header and this cookie.
// Requests present it back as a bearer token or the cookie.
const (
	sessionCookieName = "feeder_session"
	sessionHeader     = "X-Feeder-Session"
)

type authService interface {
	Authenticate(ctx context.Context, params application.AuthenticateParams) (application.AuthenticateResult, error)
	RevokeSession(ctx context.Context, token string) error
}

// AuthHandler logs keepers in and out of the feeder API.
type AuthHandler struct {
	service   authService
	responder responder
	logger    *slog.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(service authService, logger *slog.Logger) *AuthHandler {
	base := defaultLogger(logger)
	return &AuthHandler{service: service, responder: newResponder(base), logger: base}
}

// Login exchanges an email and password for a session token. The client's
// user agent is kept with the session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := handlerLogger(ctx, h.logger, "AuthHandler", "Login")
	result, err := h.service.Authenticate(ctx, application.AuthenticateParams{
		Email:       req.Email,
		Password:    req.Password,
		Fingerprint: r.UserAgent(),
	})
	if err != nil {
		logger.WarnContext(ctx, "login rejected", "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	http.SetCookie(w, sessionCookie(result.Session.Token, result.Session.ExpiresAt))
	w.Header().Set(sessionHeader, result.Session.Token)
	logger.InfoContext(ctx, "keeper logged in", "user_id", result.User.ID)

	h.responder.writeJSON(ctx, w, http.StatusCreated, loginResponse{
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt.UTC().Format(time.RFC3339),
		User:      toUserDTO(result.User),
	})
}

// Logout revokes the presented token and expires the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	token := sessionToken(r)
	if token == "" {
		writeSessionRequired(ctx, h.responder, w)
		return
	}
	if err := h.service.RevokeSession(ctx, token); err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	http.SetCookie(w, sessionCookie("", time.Time{}))
	handlerLogger(ctx, h.logger, "AuthHandler", "Logout").InfoContext(ctx, "keeper logged out")
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
	User      userDTO `json:"user"`
}

// sessionCookie builds the session cookie. An empty token yields a cookie that
// deletes the stored one.
func sessionCookie(token string, expires time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	switch {
	case token == "":
		cookie.MaxAge = -1
	case !expires.IsZero():
		cookie.Expires = expires.UTC()
	}
	return cookie
}

// sessionToken reads a bearer token, falling back to the session cookie.
func sessionToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func writeSessionRequired(ctx context.Context, responder responder, w http.ResponseWriter) {
	responder.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
		ErrorCode: "SESSION_REQUIRED",
		Message:   errMissingSessionToken.Error(),
	})
}
