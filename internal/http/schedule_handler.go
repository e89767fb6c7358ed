package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/application"
)

const dateLayout = "2006-01-02"

type scheduleService interface {
	CreateSchedule(ctx context.Context, params application.CreateScheduleParams) (application.Schedule, []application.CollisionWarning, error)
	UpdateSchedule(ctx context.Context, params application.UpdateScheduleParams) (application.Schedule, []application.CollisionWarning, error)
	DeleteSchedule(ctx context.Context, principal application.Principal, scheduleID string) error
	ListSchedules(ctx context.Context, principal application.Principal, feederID string) ([]application.ScheduleStatus, error)
}

// ScheduleHandler serves schedule management and export.
type ScheduleHandler struct {
	service   scheduleService
	responder responder
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduleHandler constructs a ScheduleHandler.
func NewScheduleHandler(service scheduleService, logger *slog.Logger) *ScheduleHandler {
	base := defaultLogger(logger)
	return &ScheduleHandler{service: service, responder: newResponder(base), logger: base, now: time.Now}
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	feederID := r.PathValue("id")
	if feederID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	schedule, warnings, err := h.service.CreateSchedule(r.Context(), application.CreateScheduleParams{
		Principal: principal,
		FeederID:  feederID,
		Input:     input,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderSchedule(r.Context(), w, schedule, warnings, http.StatusCreated)
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	scheduleID := r.PathValue("id")
	if scheduleID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	schedule, warnings, err := h.service.UpdateSchedule(r.Context(), application.UpdateScheduleParams{
		Principal:  principal,
		ScheduleID: scheduleID,
		Input:      input,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.renderSchedule(r.Context(), w, schedule, warnings, http.StatusOK)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	scheduleID := r.PathValue("id")
	if scheduleID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingPathID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteSchedule(r.Context(), principal, scheduleID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
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
	statuses, err := h.service.ListSchedules(r.Context(), principal, feederID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := listSchedulesResponse{Schedules: make([]scheduleDTO, 0, len(statuses))}
	for _, status := range statuses {
		resp.Schedules = append(resp.Schedules, toScheduleStatusDTO(status))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// Export streams a feeder's schedules as an XLSX workbook.
func (h *ScheduleHandler) Export(w http.ResponseWriter, r *http.Request) {
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
	statuses, err := h.service.ListSchedules(r.Context(), principal, feederID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	data, err := GenerateScheduleExport(statuses)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}

	filename := fmt.Sprintf("feeder-%s-schedules-%s.xlsx", feederID, h.now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		handlerLogger(r.Context(), h.logger, "ScheduleHandler", "Export").ErrorContext(r.Context(), "failed to write export", "error", err)
	}
}

func (h *ScheduleHandler) renderSchedule(ctx context.Context, w http.ResponseWriter, schedule application.Schedule, warnings []application.CollisionWarning, status int) {
	h.responder.writeJSON(ctx, w, status, scheduleResponse{
		Schedule: toScheduleDTO(schedule),
		Warnings: toWarningDTOs(warnings),
	})
}

type sessionRequest struct {
	Time       string  `json:"time"`
	FeedAmount float64 `json:"feed_amount"`
}

type scheduleRequest struct {
	StartDate  string           `json:"start_date"`
	EndDate    *string          `json:"end_date"`
	Interval   string           `json:"interval"`
	DaysOfWeek []int            `json:"days_of_week"`
	Sessions   []sessionRequest `json:"sessions"`
}

// toInput parses dates, which may be given as "2006-01-02" or RFC 3339. Bare
// dates are passed on as calendar days for the service to place in the
// feeder's timezone.
func (r scheduleRequest) toInput() (application.ScheduleInput, error) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}

	start, startDateOnly, ok := parseDate(r.StartDate)
	if !ok {
		vErr.FieldErrors["start_date"] = "start date must be YYYY-MM-DD or RFC 3339"
	}

	var (
		end         *time.Time
		endDateOnly bool
	)
	if r.EndDate != nil && strings.TrimSpace(*r.EndDate) != "" {
		parsed, dateOnly, ok := parseDate(*r.EndDate)
		if !ok {
			vErr.FieldErrors["end_date"] = "end date must be YYYY-MM-DD or RFC 3339"
		} else {
			end = &parsed
			endDateOnly = dateOnly
		}
	}
	if vErr.HasErrors() {
		return application.ScheduleInput{}, vErr
	}

	sessions := make([]application.SessionInput, len(r.Sessions))
	for i, session := range r.Sessions {
		sessions[i] = application.SessionInput{Time: session.Time, FeedAmount: session.FeedAmount}
	}
	return application.ScheduleInput{
		StartDate:     start,
		StartDateOnly: startDateOnly,
		EndDate:       end,
		EndDateOnly:   endDateOnly,
		Interval:      r.Interval,
		DaysOfWeek:    append([]int(nil), r.DaysOfWeek...),
		Sessions:      sessions,
	}, nil
}

// parseDate reports whether value was a bare calendar date.
func parseDate(value string) (ts time.Time, dateOnly bool, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, false
	}
	if ts, err := time.Parse(dateLayout, value); err == nil {
		return ts, true, true
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, false, true
	}
	return time.Time{}, false, false
}

type sessionDTO struct {
	ID         string  `json:"id"`
	Time       string  `json:"time"`
	FeedAmount float64 `json:"feed_amount"`
}

type scheduleDTO struct {
	ID               string       `json:"id"`
	FeederID         string       `json:"feeder_id"`
	StartDate        string       `json:"start_date"`
	EndDate          *string      `json:"end_date"`
	Interval         string       `json:"interval"`
	DaysOfWeek       []int        `json:"days_of_week"`
	Sessions         []sessionDTO `json:"sessions"`
	TotalDailyAmount *float64     `json:"total_daily_amount,omitempty"`
	Active           *bool        `json:"active,omitempty"`
	NextOccurrence   *string      `json:"next_occurrence,omitempty"`
	NextFeedAmount   *float64     `json:"next_feed_amount,omitempty"`
	CreatedAt        string       `json:"created_at,omitempty"`
	UpdatedAt        string       `json:"updated_at,omitempty"`
}

type collisionWarningDTO struct {
	ScheduleID string `json:"schedule_id"`
	Weekday    string `json:"weekday"`
	Time       string `json:"time"`
}

type scheduleResponse struct {
	Schedule scheduleDTO           `json:"schedule"`
	Warnings []collisionWarningDTO `json:"warnings,omitempty"`
}

type listSchedulesResponse struct {
	Schedules []scheduleDTO `json:"schedules"`
}

func toScheduleDTO(schedule application.Schedule) scheduleDTO {
	dto := scheduleDTO{
		ID:         schedule.ID,
		FeederID:   schedule.FeederID,
		StartDate:  schedule.StartDate.Format(dateLayout),
		Interval:   string(schedule.Interval),
		DaysOfWeek: append([]int{}, schedule.DaysOfWeek...),
		Sessions:   make([]sessionDTO, 0, len(schedule.Sessions)),
	}
	if schedule.EndDate != nil {
		end := schedule.EndDate.Format(dateLayout)
		dto.EndDate = &end
	}
	for _, session := range schedule.Sessions {
		dto.Sessions = append(dto.Sessions, sessionDTO{ID: session.ID, Time: session.Time, FeedAmount: session.FeedAmount})
	}
	if !schedule.CreatedAt.IsZero() {
		dto.CreatedAt = schedule.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !schedule.UpdatedAt.IsZero() {
		dto.UpdatedAt = schedule.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toScheduleStatusDTO(status application.ScheduleStatus) scheduleDTO {
	dto := toScheduleDTO(status.Schedule)
	active := status.Active
	total := status.TotalDailyAmount
	dto.Active = &active
	dto.TotalDailyAmount = &total
	if status.NextOccurrence != nil {
		next := status.NextOccurrence.UTC().Format(time.RFC3339)
		amount := status.NextFeedAmount
		dto.NextOccurrence = &next
		dto.NextFeedAmount = &amount
	}
	return dto
}

func toWarningDTOs(warnings []application.CollisionWarning) []collisionWarningDTO {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]collisionWarningDTO, 0, len(warnings))
	for _, warning := range warnings {
		out = append(out, collisionWarningDTO{
			ScheduleID: warning.ScheduleID,
			Weekday:    strings.ToLower(warning.Weekday.String()),
			Time:       warning.Time,
		})
	}
	return out
}
