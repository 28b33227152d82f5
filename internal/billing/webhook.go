// Package billing maps Stripe subscription events onto the quota ledger.
// A subscription buys unlimited alerts (within daily caps); everything else
// about quotas lives in the repo layer.
package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/guardline/guardline/internal/repo"
)

const maxWebhookBody = 65536

type WebhookHandler struct {
	quotas        repo.QuotaRepository
	webhookSecret string
}

func NewWebhookHandler(quotas repo.QuotaRepository, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{quotas: quotas, webhookSecret: webhookSecret}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// We only read fields that are stable across Stripe API versions, so a
	// version mismatch on the event is not a reason to reject it.
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		slog.Warn("stripe webhook signature verification failed", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		h.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(ctx, event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		slog.Error("stripe webhook: unmarshal checkout session", "err", err)
		return
	}

	// ClientReferenceID carries our user ID through the checkout flow.
	userID := sess.ClientReferenceID
	if userID == "" {
		slog.Warn("stripe webhook: checkout session without client reference id", "event_id", event.ID)
		return
	}

	if sess.Customer != nil {
		if err := h.quotas.LinkStripeCustomer(ctx, userID, sess.Customer.ID); err != nil {
			slog.Error("stripe webhook: link customer", "user_id", userID, "err", err)
			return
		}
	}

	if err := h.quotas.SetSubscription(ctx, userID, true); err != nil {
		slog.Error("stripe webhook: activate subscription", "user_id", userID, "err", err)
		return
	}
	slog.Info("subscription activated", "user_id", userID)
}

func (h *WebhookHandler) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		slog.Error("stripe webhook: unmarshal subscription", "err", err)
		return
	}
	if sub.Customer == nil {
		return
	}

	active := sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing
	if err := h.quotas.SetSubscriptionByCustomer(ctx, sub.Customer.ID, active); err != nil {
		slog.Error("stripe webhook: update subscription", "customer_id", sub.Customer.ID, "err", err)
		return
	}
	slog.Info("subscription updated", "customer_id", sub.Customer.ID, "active", active, "stripe_status", sub.Status)
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		slog.Error("stripe webhook: unmarshal subscription", "err", err)
		return
	}
	if sub.Customer == nil {
		return
	}

	if err := h.quotas.SetSubscriptionByCustomer(ctx, sub.Customer.ID, false); err != nil {
		slog.Error("stripe webhook: deactivate subscription", "customer_id", sub.Customer.ID, "err", err)
		return
	}
	slog.Info("subscription cancelled", "customer_id", sub.Customer.ID)
}
