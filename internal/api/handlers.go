package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/guardline/guardline/internal/model"
	"github.com/guardline/guardline/internal/repo"
	"github.com/guardline/guardline/internal/scheduler"
	"github.com/guardline/guardline/internal/service"
)

type Handler struct {
	sched      *scheduler.Scheduler
	lifecycle  *service.Lifecycle
	contacts   *service.Contacts
	dispatcher *service.Dispatcher
	reconciler *service.Reconciler
	smsLog     repo.SmsLogRepository
	quotas     repo.QuotaRepository
}

func NewHandler(
	sched *scheduler.Scheduler,
	lifecycle *service.Lifecycle,
	contacts *service.Contacts,
	dispatcher *service.Dispatcher,
	reconciler *service.Reconciler,
	smsLog repo.SmsLogRepository,
	quotas repo.QuotaRepository,
) *Handler {
	return &Handler{
		sched:      sched,
		lifecycle:  lifecycle,
		contacts:   contacts,
		dispatcher: dispatcher,
		reconciler: reconciler,
		smsLog:     smsLog,
		quotas:     quotas,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

type startSessionRequest struct {
	UserID           string          `json:"userId"`
	LimitTime        time.Time       `json:"limitTime"`
	ToleranceMinutes int             `json:"toleranceMinutes"`
	ShareLocation    bool            `json:"shareLocation"`
	Note             string          `json:"note"`
	Location         *model.Location `json:"location,omitempty"`
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s, err := h.lifecycle.Start(r.Context(), service.StartParams{
		UserID:        req.UserID,
		LimitTime:     req.LimitTime,
		Tolerance:     time.Duration(req.ToleranceMinutes) * time.Minute,
		ShareLocation: req.ShareLocation,
		Note:          req.Note,
		Location:      req.Location,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.lifecycle.History(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	s, err := h.lifecycle.CheckIn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.lifecycle.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

func (h *Handler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s, err := h.lifecycle.Extend(r.Context(), chi.URLParam(r, "id"), time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	var loc model.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := h.lifecycle.ReportLocation(r.Context(), chi.URLParam(r, "id"), loc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) RetryAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.RetryAlert(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h *Handler) ListSessionSms(w http.ResponseWriter, r *http.Request) {
	items, err := h.smsLog.ListBySession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createContactRequest struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Priority int    `json:"priority"`
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	c, err := h.contacts.Add(r.Context(), service.AddContactParams{
		UserID:   req.UserID,
		Name:     req.Name,
		Phone:    req.Phone,
		Priority: req.Priority,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListUserContacts(w http.ResponseWriter, r *http.Request) {
	items, err := h.contacts.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type optOutRequest struct {
	OptedOut bool `json:"optedOut"`
}

func (h *Handler) SetContactOptOut(w http.ResponseWriter, r *http.Request) {
	var req optOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := h.contacts.SetOptOut(r.Context(), chi.URLParam(r, "id"), req.OptedOut); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type testSmsRequest struct {
	UserID string `json:"userId"`
}

func (h *Handler) SendTestSms(w http.ResponseWriter, r *http.Request) {
	var req testSmsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	entry, err := h.dispatcher.SendTest(r.Context(), req.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) GetUserQuota(w http.ResponseWriter, r *http.Request) {
	q, err := h.quotas.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// SmsStatusWebhook receives the gateway's form-encoded delivery callbacks.
// Always 200 for processable requests; retrying a callback we have already
// decided to drop helps nobody.
func (h *Handler) SmsStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	sid := r.PostFormValue("MessageSid")
	status := r.PostFormValue("MessageStatus")
	if err := h.reconciler.Reconcile(r.Context(), sid, status); err != nil {
		http.Error(w, "reconcile failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, err error) {
	var qerr *service.QuotaDeniedError
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, repo.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.Is(err, repo.ErrExtensionLimit):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "extension limit reached"})
	case errors.Is(err, repo.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "conflicting session state"})
	case errors.As(err, &qerr):
		status := http.StatusPaymentRequired
		if qerr.Reason == model.ReasonQuotaReached {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]any{"error": "quota denied", "reason": string(qerr.Reason)})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
