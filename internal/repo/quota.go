package repo

import (
	"context"

	"github.com/guardline/guardline/internal/model"
)

// QuotaRepository is the per-user credit ledger. ConsumeCredit is the single
// atomic consume-or-reject decision; concurrent calls for the same user must
// never double-decrement.
type QuotaRepository interface {
	// ConsumeCredit decides whether a message of the given type may be sent
	// and, for free users, decrements the balance in the same atomic step.
	// Daily counters reset implicitly when the stored counter date is not
	// today.
	ConsumeCredit(ctx context.Context, userID string, smsType model.SmsType) (model.ConsumeDecision, error)

	// RefundCredit returns one previously consumed free credit. Used when a
	// consumed dispatch ends with every contact failing, so a manual retry
	// is not double-charged.
	RefundCredit(ctx context.Context, userID string, smsType model.SmsType) error

	Get(ctx context.Context, userID string) (*model.QuotaState, error)
	Grant(ctx context.Context, userID string, alerts, testSms int) error
	SetSubscription(ctx context.Context, userID string, active bool) error

	// Billing webhook path: subscription events arrive keyed by Stripe
	// customer, not user.
	LinkStripeCustomer(ctx context.Context, userID, customerID string) error
	SetSubscriptionByCustomer(ctx context.Context, customerID string, active bool) error
}
