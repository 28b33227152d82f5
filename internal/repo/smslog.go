package repo

import (
	"context"
	"time"

	"github.com/guardline/guardline/internal/model"
)

type SmsLogRepository interface {
	Create(ctx context.Context, e *model.SmsLogEntry) error

	MarkSent(ctx context.Context, id, providerMessageID string, retryCount int, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, retryCount int) error

	// UpdateDeliveryStatus advances an entry keyed by the provider's message
	// ID. Only sent entries move forward (sent -> delivered|failed);
	// ErrNotFound when no entry matches, which callers treat as a no-op. A
	// terminal callback arriving before the entry carries its provider ID is
	// retained and applied when MarkSent attaches that ID.
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.SmsStatus, at time.Time) error

	ListBySession(ctx context.Context, sessionID string) ([]model.SmsLogEntry, error)
}
