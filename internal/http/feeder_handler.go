package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/smartfeeder/internal/application"
)

type feederService interface {
	CreateFeeder(ctx context.Context, principal application.Principal, input application.FeederInput) (application.Feeder, error)
	ListFeeders(ctx context.Context, principal application.Principal) ([]application.Feeder, error)
	GetFeeder(ctx context.Context, principal application.Principal, feederID string) (application.Feeder, error)
	DeleteFeeder(ctx context.Context, principal application.Principal, feederID string) error
}

type releaseService interface {
	TriggerRelease(ctx context.Context, params application.ReleaseParams) (application.ReleaseResult, error)
}

// FeederHandler serves feeder registration, lookup and manual release.
type FeederHandler struct {
	feeders   feederService
	releases  releaseService
	responder responder
	logger    *slog.Logger
}

// NewFeederHandler constructs a FeederHandler. releases may be nil when manual
// release is disabled.
func NewFeederHandler(feeders feederService, releases releaseService, logger *slog.Logger) *FeederHandler {
	base := defaultLogger(logger)
	return &FeederHandler{feeders: feeders, releases: releases, responder: newResponder(base), logger: base}
}

func (h *FeederHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "FeederHandler", operation, attrs...)
}

func (h *FeederHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.feeders == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	feeders, err := h.feeders.ListFeeders(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := feederListResponse{Feeders: make([]feederDTO, 0, len(feeders))}
	for _, feeder := range feeders {
		resp.Feeders = append(resp.Feeders, toFeederDTO(feeder))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *FeederHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.feeders == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	var req feederRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode feeder request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	feeder, err := h.feeders.CreateFeeder(r.Context(), principal, application.FeederInput{
		DeviceID: req.DeviceID,
		Name:     req.Name,
		Timezone: req.Timezone,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, feederResponse{Feeder: toFeederDTO(feeder)})
}

func (h *FeederHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.feeders == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID := r.PathValue("id")
	if feederID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	feeder, err := h.feeders.GetFeeder(r.Context(), principal, feederID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, feederResponse{Feeder: toFeederDTO(feeder)})
}

func (h *FeederHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.feeders == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID := r.PathValue("id")
	if feederID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.feeders.DeleteFeeder(r.Context(), principal, feederID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Release asks the feeder to dispense immediately.
func (h *FeederHandler) Release(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.releases == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID := r.PathValue("id")
	if feederID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.releases.TriggerRelease(r.Context(), application.ReleaseParams{
		Principal:  principal,
		FeederID:   feederID,
		FeedAmount: req.FeedAmount,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, releaseResponse{
		FeederID:    result.FeederID,
		DeviceID:    result.DeviceID,
		FeedAmount:  result.FeedAmount,
		RequestedAt: result.RequestedAt.UTC().Format(time.RFC3339),
	})
}

type feederRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

type feederDTO struct {
	ID        string `json:"id"`
	DeviceID  string `json:"device_id"`
	Name      string `json:"name"`
	Timezone  string `json:"timezone"`
	OwnerID   string `json:"owner_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at,omitempty"`
}

type feederResponse struct {
	Feeder feederDTO `json:"feeder"`
}

type feederListResponse struct {
	Feeders []feederDTO `json:"feeders"`
}

type releaseRequest struct {
	FeedAmount float64 `json:"feed_amount"`
}

type releaseResponse struct {
	FeederID    string  `json:"feeder_id"`
	DeviceID    string  `json:"device_id"`
	FeedAmount  float64 `json:"feed_amount"`
	RequestedAt string  `json:"requested_at"`
}

func toFeederDTO(feeder application.Feeder) feederDTO {
	dto := feederDTO{
		ID:       feeder.ID,
		DeviceID: feeder.DeviceID,
		Name:     feeder.Name,
		Timezone: feeder.Timezone,
		OwnerID:  feeder.OwnerID,
		Role:     string(feeder.Role),
	}
	if !feeder.CreatedAt.IsZero() {
		dto.CreatedAt = feeder.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}
