package model

import "time"

// ConsumeReason explains a credit decision.
type ConsumeReason string

const (
	ReasonSubscriptionActive ConsumeReason = "subscription_active"
	ReasonCreditConsumed     ConsumeReason = "credit_consumed"
	ReasonNoCredits          ConsumeReason = "no_credits"
	ReasonQuotaReached       ConsumeReason = "quota_reached"
)

// QuotaState is the per-user credit ledger. Daily counters are valid only
// for CounterDate; a read on a later calendar day treats them as zero.
type QuotaState struct {
	UserID                string    `json:"userId"`
	FreeAlertsRemaining   int       `json:"freeAlertsRemaining"`
	FreeTestSmsRemaining  int       `json:"freeTestSmsRemaining"`
	SubscriptionActive    bool      `json:"subscriptionActive"`
	SmsDailyLimit         int       `json:"smsDailyLimit"`
	SmsSOSDailyLimit      int       `json:"smsSosDailyLimit"`
	SmsSentToday          int       `json:"smsSentToday"`
	SOSSentToday          int       `json:"sosSentToday"`
	CounterDate           time.Time `json:"counterDate"`
	StripeCustomerID      *string   `json:"-"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// ConsumeDecision is the outcome of an atomic consume-or-reject call.
type ConsumeDecision struct {
	Allowed          bool          `json:"allowed"`
	Reason           ConsumeReason `json:"reason"`
	RemainingCredits int           `json:"remainingCredits"`
}
