package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/smartfeeder/internal/access"
	"github.com/example/smartfeeder/internal/application"
)

type invitationService interface {
	Invite(ctx context.Context, params application.InviteParams) (application.Invitation, error)
	Accept(ctx context.Context, principal application.Principal, token string) (application.Grant, error)
	ListInvitations(ctx context.Context, principal application.Principal, feederID string) ([]application.Invitation, error)
	ListGrants(ctx context.Context, principal application.Principal, feederID string) ([]application.Grant, error)
	RevokeGrant(ctx context.Context, principal application.Principal, feederID, userID string) error
}

// InvitationHandler serves role invitations and the collaborators they create.
type InvitationHandler struct {
	service   invitationService
	responder responder
	logger    *slog.Logger
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(service invitationService, logger *slog.Logger) *InvitationHandler {
	base := defaultLogger(logger)
	return &InvitationHandler{service: service, responder: newResponder(base), logger: base}
}

// Create issues an invitation. The token is returned to the caller, who is
// responsible for passing it on.
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID := r.PathValue("id")
	if feederID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	var req invitationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	invitation, err := h.service.Invite(r.Context(), application.InviteParams{
		Principal: principal,
		FeederID:  feederID,
		Email:     req.Email,
		Role:      req.Role,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, invitationResponse{Invitation: toInvitationDTO(invitation, true)})
}

func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID := r.PathValue("id")
	if feederID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	invitations, err := h.service.ListInvitations(r.Context(), principal, feederID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := invitationListResponse{Invitations: make([]invitationDTO, 0, len(invitations))}
	for _, invitation := range invitations {
		resp.Invitations = append(resp.Invitations, toInvitationDTO(invitation, false))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// Accept redeems the token in the path for the caller.
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token := r.PathValue("token")
	if token == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	grant, err := h.service.Accept(r.Context(), principal, token)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, grantResponse{Grant: toGrantDTO(grant)})
}

// Grants lists a feeder's collaborators with the permissions each role holds.
func (h *InvitationHandler) Grants(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID := r.PathValue("id")
	if feederID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	grants, err := h.service.ListGrants(r.Context(), principal, feederID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := grantListResponse{Grants: make([]grantDTO, 0, len(grants))}
	for _, grant := range grants {
		resp.Grants = append(resp.Grants, toGrantDTO(grant))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *InvitationHandler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID, userID := r.PathValue("id"), r.PathValue("userID")
	if feederID == "" || userID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.RevokeGrant(r.Context(), principal, feederID, userID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type invitationRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type invitationDTO struct {
	ID        string `json:"id"`
	FeederID  string `json:"feeder_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Token     string `json:"token,omitempty"`
	InvitedBy string `json:"invited_by"`
	ExpiresAt string `json:"expires_at"`
}

type invitationResponse struct {
	Invitation invitationDTO `json:"invitation"`
}

type invitationListResponse struct {
	Invitations []invitationDTO `json:"invitations"`
}

type grantDTO struct {
	FeederID    string   `json:"feeder_id"`
	UserID      string   `json:"user_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type grantResponse struct {
	Grant grantDTO `json:"grant"`
}

type grantListResponse struct {
	Grants []grantDTO `json:"grants"`
}

func toGrantDTO(grant application.Grant) grantDTO {
	permissions := access.Permissions(grant.Role)
	dto := grantDTO{
		FeederID:    grant.FeederID,
		UserID:      grant.UserID,
		Role:        string(grant.Role),
		Permissions: make([]string, len(permissions)),
	}
	for i, p := range permissions {
		dto.Permissions[i] = string(p)
	}
	return dto
}

// toInvitationDTO includes the token only when the invitation was just issued.
func toInvitationDTO(invitation application.Invitation, withToken bool) invitationDTO {
	dto := invitationDTO{
		ID:        invitation.ID,
		FeederID:  invitation.FeederID,
		Email:     invitation.Email,
		Role:      string(invitation.Role),
		InvitedBy: invitation.InvitedBy,
		ExpiresAt: invitation.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if withToken {
		dto.Token = invitation.Token
	}
	return dto
}
