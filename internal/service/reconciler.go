package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/guardline/guardline/internal/metrics"
	"github.com/guardline/guardline/internal/model"
	"github.com/guardline/guardline/internal/repo"
)

// Reconciler applies asynchronous delivery callbacks from the SMS gateway to
// the message log. Callbacks are advisory: an unknown message ID or an
// unrecognized status is logged and dropped, never an error back to the
// provider (which would only trigger pointless webhook retries).
type Reconciler struct {
	smsLog repo.SmsLogRepository
}

func NewReconciler(smsLog repo.SmsLogRepository) *Reconciler {
	return &Reconciler{smsLog: smsLog}
}

// Reconcile maps one provider callback onto the log entry keyed by the
// provider message ID.
func (r *Reconciler) Reconcile(ctx context.Context, providerMessageID, providerStatus string) error {
	if providerMessageID == "" {
		slog.Warn("delivery callback without message id", "status", providerStatus)
		return nil
	}

	var status model.SmsStatus
	switch providerStatus {
	case "delivered":
		status = model.SmsDelivered
	case "failed", "undelivered":
		status = model.SmsFailed
	case "queued", "accepted", "sending", "sent":
		// Intermediate states; the entry is already at sent.
		return nil
	default:
		slog.Warn("unrecognized delivery status", "provider_message_id", providerMessageID, "status", providerStatus)
		return nil
	}

	err := r.smsLog.UpdateDeliveryStatus(ctx, providerMessageID, status, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			slog.Warn("delivery callback for unknown message", "provider_message_id", providerMessageID, "status", providerStatus)
			return nil
		}
		return err
	}

	metrics.SmsAttempt(string(status))
	slog.Info("delivery status reconciled", "provider_message_id", providerMessageID, "status", status)
	return nil
}
