package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guardline/guardline/internal/model"
)

const testSecret = "whsec_test"

type recordingQuotas struct {
	linked     map[string]string // userID -> customerID
	subs       map[string]bool   // userID -> active
	subsByCust map[string]bool   // customerID -> active
}

func newRecordingQuotas() *recordingQuotas {
	return &recordingQuotas{
		linked:     map[string]string{},
		subs:       map[string]bool{},
		subsByCust: map[string]bool{},
	}
}

func (r *recordingQuotas) ConsumeCredit(context.Context, string, model.SmsType) (model.ConsumeDecision, error) {
	return model.ConsumeDecision{}, nil
}
func (r *recordingQuotas) RefundCredit(context.Context, string, model.SmsType) error { return nil }
func (r *recordingQuotas) Get(context.Context, string) (*model.QuotaState, error) { return nil, nil }
func (r *recordingQuotas) Grant(context.Context, string, int, int) error { return nil }

func (r *recordingQuotas) SetSubscription(_ context.Context, userID string, active bool) error {
	r.subs[userID] = active
	return nil
}

func (r *recordingQuotas) LinkStripeCustomer(_ context.Context, userID, customerID string) error {
	r.linked[userID] = customerID
	return nil
}

func (r *recordingQuotas) SetSubscriptionByCustomer(_ context.Context, customerID string, active bool) error {
	r.subsByCust[customerID] = active
	return nil
}

// signedRequest builds a webhook POST with a valid Stripe-Signature header.
func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, sig))
	return req
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()
	h := NewWebhookHandler(newRecordingQuotas(), testSecret)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()

	h.HandleStripeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	t.Parallel()
	quotas := newRecordingQuotas()
	h := NewWebhookHandler(quotas, testSecret)

	payload := `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"client_reference_id": "user-42",
			"customer": {"id": "cus_abc"}
		}}
	}`
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if quotas.linked["user-42"] != "cus_abc" {
		t.Errorf("customer not linked: %v", quotas.linked)
	}
	if !quotas.subs["user-42"] {
		t.Error("subscription not activated")
	}
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	t.Parallel()
	quotas := newRecordingQuotas()
	h := NewWebhookHandler(quotas, testSecret)

	payload := `{
		"id": "evt_2",
		"type": "customer.subscription.deleted",
		"data": {"object": {
			"id": "sub_1",
			"status": "canceled",
			"customer": {"id": "cus_abc"}
		}}
	}`
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if active, ok := quotas.subsByCust["cus_abc"]; !ok || active {
		t.Errorf("subscription not deactivated: %v", quotas.subsByCust)
	}
}

func TestWebhookSubscriptionUpdatedStatuses(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		status string
		active bool
	}{
		{"active", true},
		{"trialing", true},
		{"past_due", false},
		{"unpaid", false},
	} {
		tc := tc
		t.Run(tc.status, func(t *testing.T) {
			t.Parallel()
			quotas := newRecordingQuotas()
			h := NewWebhookHandler(quotas, testSecret)

			payload := fmt.Sprintf(`{
				"id": "evt_3",
				"type": "customer.subscription.updated",
				"data": {"object": {
					"id": "sub_1",
					"status": %q,
					"customer": {"id": "cus_abc"}
				}}
			}`, tc.status)
			rec := httptest.NewRecorder()
			h.HandleStripeWebhook(rec, signedRequest(t, payload))

			if got := quotas.subsByCust["cus_abc"]; got != tc.active {
				t.Errorf("active = %v, want %v", got, tc.active)
			}
		})
	}
}

func TestWebhookIgnoresUnknownEventTypes(t *testing.T) {
	t.Parallel()
	quotas := newRecordingQuotas()
	h := NewWebhookHandler(quotas, testSecret)

	payload := `{"id": "evt_4", "type": "invoice.finalized", "data": {"object": {}}}`
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(quotas.subs) != 0 || len(quotas.subsByCust) != 0 {
		t.Error("unknown event mutated quota state")
	}
}
