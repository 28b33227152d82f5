package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guardline/guardline/internal/metrics"
)

// Router wires the public API. The Stripe webhook handler is passed in as a
// plain http.HandlerFunc so the api package stays independent of billing.
func Router(h *Handler, stripeWebhook http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/v1/health", h.Health)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/scheduler/status", h.SchedulerStatus)
	r.Post("/v1/scheduler/start", h.SchedulerStart)
	r.Post("/v1/scheduler/stop", h.SchedulerStop)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Get("/{id}", h.GetSession)
		r.Post("/{id}/checkin", h.CheckIn)
		r.Post("/{id}/cancel", h.CancelSession)
		r.Post("/{id}/extend", h.ExtendSession)
		r.Post("/{id}/location", h.ReportLocation)
		r.Post("/{id}/retry-alert", h.RetryAlert)
		r.Get("/{id}/sms", h.ListSessionSms)
	})

	r.Route("/v1/contacts", func(r chi.Router) {
		r.Post("/", h.CreateContact)
		r.Post("/{id}/opt-out", h.SetContactOptOut)
		r.Post("/{id}/test-sms", h.SendTestSms)
	})

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/sessions", h.ListUserSessions)
		r.Get("/contacts", h.ListUserContacts)
		r.Get("/quota", h.GetUserQuota)
	})

	r.Post("/v1/webhooks/sms-status", h.SmsStatusWebhook)
	if stripeWebhook != nil {
		r.Post("/v1/webhooks/stripe", stripeWebhook)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("guardline"))
	})

	return r
}
