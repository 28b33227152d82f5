package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/guardline/guardline/internal/cache"
	"github.com/guardline/guardline/internal/config"
	"github.com/guardline/guardline/internal/metrics"
	"github.com/guardline/guardline/internal/model"
	"github.com/guardline/guardline/internal/repo"
)

// SendClient submits one message to the SMS gateway and returns the
// provider's message ID.
type SendClient interface {
	Send(ctx context.Context, toPhoneE164, body string) (string, error)
}

// Dispatcher turns a claimed overdue session into SMS alerts to the user's
// emergency contacts. Exactly one dispatch per claim: the session row is
// updated (outcome or sos_triggered) before the claim is released, so a
// crashed worker's claim expires into a clean re-claim and a finished one is
// never picked up again.
type Dispatcher struct {
	sessions repo.SessionRepository
	contacts repo.ContactRepository
	smsLog   repo.SmsLogRepository
	quotas   repo.QuotaRepository
	sender   SendClient
	cache    cache.LocationCache // may be nil
	cfg      config.DispatchConfig
}

func NewDispatcher(
	sessions repo.SessionRepository,
	contacts repo.ContactRepository,
	smsLog repo.SmsLogRepository,
	quotas repo.QuotaRepository,
	sender SendClient,
	locations cache.LocationCache,
	cfg config.DispatchConfig,
) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		contacts: contacts,
		smsLog:   smsLog,
		quotas:   quotas,
		sender:   sender,
		cache:    locations,
		cfg:      cfg,
	}
}

// Dispatch processes one claimed session end to end. The claimed snapshot
// may be stale; the session is re-read and anything that left overdue in the
// meantime (a last-second check-in) aborts without sending.
func (d *Dispatcher) Dispatch(ctx context.Context, claimed model.Session) error {
	log := slog.With("session_id", claimed.ID, "user_id", claimed.UserID)

	s, err := d.sessions.Get(ctx, claimed.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reload session: %w", err)
	}
	if s.Status != model.SessionOverdue {
		log.Info("skipping dispatch, session no longer overdue", "status", s.Status)
		return d.sessions.ReleaseClaim(ctx, s.ID)
	}

	decision, err := d.quotas.ConsumeCredit(ctx, s.UserID, model.SmsTypeLate)
	if err != nil {
		// Leave the claim in place; it expires and the next sweep retries.
		return fmt.Errorf("consume credit: %w", err)
	}
	if !decision.Allowed {
		log.Warn("alert dispatch denied by quota", "reason", decision.Reason)
		metrics.QuotaDenied(string(decision.Reason))
		metrics.AlertDispatched(string(outcomeForReason(decision.Reason)))
		if err := d.sessions.RecordDispatchOutcome(ctx, s.ID, outcomeForReason(decision.Reason)); err != nil {
			return fmt.Errorf("record quota outcome: %w", err)
		}
		return d.sessions.ReleaseClaim(ctx, s.ID)
	}
	consumed := decision.Reason == model.ReasonCreditConsumed

	contacts, err := d.contacts.ListActiveByUser(ctx, s.UserID)
	if err != nil {
		if consumed {
			d.refund(ctx, s.UserID, log)
		}
		return fmt.Errorf("list contacts: %w", err)
	}
	if len(contacts) == 0 {
		log.Error("overdue session has no reachable emergency contacts")
		if consumed {
			d.refund(ctx, s.UserID, log)
		}
		metrics.AlertDispatched(string(model.OutcomeGatewayFailed))
		if err := d.sessions.RecordDispatchOutcome(ctx, s.ID, model.OutcomeGatewayFailed); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
		return d.sessions.ReleaseClaim(ctx, s.ID)
	}

	d.attachLocation(ctx, s)
	body := ComposeLateAlert(s)

	var sent, failed int
	aborted := false
	for _, c := range contacts {
		// Until the first send lands the user can still check in; after
		// that the alert is out and we finish the contact list regardless.
		if sent == 0 {
			cur, err := d.sessions.Get(ctx, s.ID)
			if err == nil && cur.Status != model.SessionOverdue {
				log.Info("aborting dispatch mid-flight, session resolved", "status", cur.Status)
				aborted = true
				break
			}
		}

		ok, err := d.sendToContact(ctx, s, c, body, log)
		if err != nil {
			return err
		}
		if ok {
			sent++
		} else {
			failed++
		}
	}

	switch {
	case sent > 0:
		log.Info("alert dispatched", "contacts_notified", sent, "contacts_failed", failed)
		metrics.AlertDispatched(string(model.OutcomeSent))
		if err := d.sessions.MarkSOSTriggered(ctx, s.ID); err != nil && !errors.Is(err, repo.ErrConflict) {
			return fmt.Errorf("mark sos triggered: %w", err)
		}
		if err := d.sessions.RecordDispatchOutcome(ctx, s.ID, model.OutcomeSent); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
	case aborted:
		if consumed {
			d.refund(ctx, s.UserID, log)
		}
	default:
		log.Error("alert dispatch failed for every contact", "contacts_failed", failed)
		if consumed {
			d.refund(ctx, s.UserID, log)
		}
		metrics.AlertDispatched(string(model.OutcomeGatewayFailed))
		if err := d.sessions.RecordDispatchOutcome(ctx, s.ID, model.OutcomeGatewayFailed); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
	}

	return d.sessions.ReleaseClaim(ctx, s.ID)
}

// sendToContact logs one attempt chain against one contact. Gateway errors
// are absorbed into the log entry; only storage errors propagate.
func (d *Dispatcher) sendToContact(ctx context.Context, s *model.Session, c model.EmergencyContact, body string, log *slog.Logger) (bool, error) {
	entry := &model.SmsLogEntry{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		ContactID:   c.ID,
		PhoneNumber: c.Phone,
		MessageBody: body,
		SmsType:     model.SmsTypeLate,
		Status:      model.SmsPending,
	}
	if err := d.smsLog.Create(ctx, entry); err != nil {
		return false, fmt.Errorf("create sms log entry: %w", err)
	}

	providerID, attempts, err := d.sendWithRetry(ctx, c.Phone, body)
	retryCount := attempts - 1
	if err != nil {
		log.Warn("sms send exhausted retries", "contact_id", c.ID, "attempts", attempts, "err", err)
		metrics.SmsAttempt(string(model.SmsFailed))
		if mErr := d.smsLog.MarkFailed(ctx, entry.ID, err.Error(), retryCount); mErr != nil {
			return false, fmt.Errorf("mark sms failed: %w", mErr)
		}
		return false, nil
	}

	metrics.SmsAttempt(string(model.SmsSent))
	if mErr := d.smsLog.MarkSent(ctx, entry.ID, providerID, retryCount, time.Now().UTC()); mErr != nil {
		return false, fmt.Errorf("mark sms sent: %w", mErr)
	}
	return true, nil
}

// sendWithRetry runs the capped exponential backoff chain for one message.
// Returns the provider message ID and how many attempts were made.
func (d *Dispatcher) sendWithRetry(ctx context.Context, phone, body string) (string, int, error) {
	var (
		providerID string
		attempts   int
	)

	backoff := retry.WithCappedDuration(d.cfg.MaxBackoff, retry.NewExponential(d.cfg.InitialBackoff))
	backoff = retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		id, err := d.sender.Send(actx, phone, body)
		if err != nil {
			return retry.RetryableError(err)
		}
		providerID = id
		return nil
	})
	if err != nil {
		return "", attempts, err
	}
	return providerID, attempts, nil
}

// SendTest delivers a one-off verification message to a single contact so
// the user can confirm the number works before relying on it.
func (d *Dispatcher) SendTest(ctx context.Context, userID, contactID string) (*model.SmsLogEntry, error) {
	contacts, err := d.contacts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var target *model.EmergencyContact
	for i := range contacts {
		if contacts[i].ID == contactID {
			target = &contacts[i]
			break
		}
	}
	if target == nil {
		return nil, repo.ErrNotFound
	}
	if target.OptedOut {
		return nil, fmt.Errorf("%w: contact has opted out", ErrValidation)
	}

	decision, err := d.quotas.ConsumeCredit(ctx, userID, model.SmsTypeTest)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.QuotaDenied(string(decision.Reason))
		return nil, &QuotaDeniedError{Reason: decision.Reason}
	}

	entry := &model.SmsLogEntry{
		ID:          uuid.NewString(),
		ContactID:   target.ID,
		PhoneNumber: target.Phone,
		MessageBody: ComposeTestBody(),
		SmsType:     model.SmsTypeTest,
		Status:      model.SmsPending,
	}
	if err := d.smsLog.Create(ctx, entry); err != nil {
		return nil, err
	}

	providerID, attempts, err := d.sendWithRetry(ctx, target.Phone, entry.MessageBody)
	retryCount := attempts - 1
	if err != nil {
		metrics.SmsAttempt(string(model.SmsFailed))
		if decision.Reason == model.ReasonCreditConsumed {
			if rErr := d.quotas.RefundCredit(ctx, userID, model.SmsTypeTest); rErr != nil {
				slog.Warn("failed to refund test sms credit", "user_id", userID, "err", rErr)
			}
		}
		if mErr := d.smsLog.MarkFailed(ctx, entry.ID, err.Error(), retryCount); mErr != nil {
			return nil, mErr
		}
		return nil, fmt.Errorf("test sms failed: %w", err)
	}

	metrics.SmsAttempt(string(model.SmsSent))
	if err := d.smsLog.MarkSent(ctx, entry.ID, providerID, retryCount, time.Now().UTC()); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry.Status = model.SmsSent
	entry.ProviderMessageID = &providerID
	entry.RetryCount = retryCount
	entry.SentAt = &now
	return entry, nil
}

// attachLocation fills in a cached snapshot when the session itself carries
// none. Best effort; the alert goes out either way.
func (d *Dispatcher) attachLocation(ctx context.Context, s *model.Session) {
	if !s.ShareLocation || s.LastKnownLocation != nil || d.cache == nil {
		return
	}
	snap, err := d.cache.LastSnapshot(ctx, s.UserID)
	if err != nil {
		slog.Warn("location snapshot lookup failed", "user_id", s.UserID, "err", err)
		return
	}
	if snap != nil {
		s.LastKnownLocation = snap
	}
}

func (d *Dispatcher) refund(ctx context.Context, userID string, log *slog.Logger) {
	if err := d.quotas.RefundCredit(ctx, userID, model.SmsTypeLate); err != nil {
		log.Warn("failed to refund alert credit", "err", err)
	}
}

func outcomeForReason(r model.ConsumeReason) model.DispatchOutcome {
	if r == model.ReasonQuotaReached {
		return model.OutcomeQuotaReached
	}
	return model.OutcomeNoCredits
}
