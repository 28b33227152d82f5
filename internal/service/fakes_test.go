package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/guardline/guardline/internal/model"
	"github.com/guardline/guardline/internal/repo"
)

// In-memory doubles mirroring the postgres repositories' contracts closely
// enough to exercise the services' decision logic.

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessionRepo) put(s *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
}

func (f *fakeSessionRepo) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.ID]; ok {
		return fmt.Errorf("duplicate session id %s", s.ID)
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) Get(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessionRepo) MarkReturned(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	if s.Status.Terminal() {
		return repo.ErrConflict
	}
	s.Status = model.SessionReturned
	s.CheckInConfirmed = true
	s.CheckInConfirmedAt = &at
	s.ClaimedAt = nil
	return nil
}

func (f *fakeSessionRepo) MarkCancelled(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	if s.Status.Terminal() {
		return repo.ErrConflict
	}
	s.Status = model.SessionCancelled
	s.ClaimedAt = nil
	return nil
}

func (f *fakeSessionRepo) MarkSOSTriggered(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	if s.Status != model.SessionOverdue {
		return repo.ErrConflict
	}
	s.Status = model.SessionSOSTriggered
	return nil
}

func (f *fakeSessionRepo) Extend(_ context.Context, id string, add time.Duration) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if s.Status != model.SessionActive && s.Status != model.SessionGrace {
		return nil, repo.ErrConflict
	}
	if s.ExtensionsCount >= model.MaxExtensions {
		return nil, repo.ErrExtensionLimit
	}
	s.LimitTime = s.LimitTime.Add(add)
	s.Deadline = s.LimitTime.Add(s.Tolerance)
	s.ExtensionsCount++
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) SweepGrace(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.Status == model.SessionActive && !s.LimitTime.After(now) && s.Deadline.After(now) {
			s.Status = model.SessionGrace
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) ClaimOverdue(_ context.Context, now time.Time, claimTTL time.Duration, limit int, includeQuotaDenied bool) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	staleBefore := now.Add(-claimTTL)
	var out []model.Session
	for _, s := range f.sessions {
		if len(out) >= limit {
			break
		}
		switch s.Status {
		case model.SessionActive, model.SessionGrace, model.SessionOverdue:
		default:
			continue
		}
		if s.Deadline.After(now) {
			continue
		}
		if s.ClaimedAt != nil && s.ClaimedAt.After(staleBefore) {
			continue
		}
		if s.DispatchOutcome != nil {
			denied := *s.DispatchOutcome == model.OutcomeQuotaReached || *s.DispatchOutcome == model.OutcomeNoCredits
			if !includeQuotaDenied || !denied {
				continue
			}
		}
		s.Status = model.SessionOverdue
		claimedAt := now
		s.ClaimedAt = &claimedAt
		s.DispatchOutcome = nil
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSessionRepo) ReleaseClaim(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.ClaimedAt = nil
	}
	return nil
}

func (f *fakeSessionRepo) RecordDispatchOutcome(_ context.Context, id string, outcome model.DispatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.DispatchOutcome = &outcome
	return nil
}

func (f *fakeSessionRepo) ClearDispatchOutcome(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.DispatchOutcome = nil
	s.ClaimedAt = nil
	return nil
}

func (f *fakeSessionRepo) SetLastKnownLocation(_ context.Context, id string, loc model.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	cp := loc
	s.LastKnownLocation = &cp
	return nil
}

func (f *fakeSessionRepo) ListDueNudges(_ context.Context, now time.Time) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.Status != model.SessionActive {
			continue
		}
		if s.NudgeMidpointSentAt == nil && !s.MidpointNudgeAt().After(now) {
			out = append(out, *s)
			continue
		}
		if s.NudgeMidpointSentAt != nil && s.NudgeFollowupSentAt == nil && !s.FollowupNudgeAt().After(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) MarkNudgeSent(_ context.Context, id string, kind model.NudgeKind, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	switch kind {
	case model.NudgeMidpoint:
		if s.NudgeMidpointSentAt != nil {
			return repo.ErrConflict
		}
		s.NudgeMidpointSentAt = &at
	case model.NudgeFollowup:
		if s.NudgeFollowupSentAt != nil {
			return repo.ErrConflict
		}
		s.NudgeFollowupSentAt = &at
	default:
		return fmt.Errorf("unknown nudge kind: %s", kind)
	}
	return nil
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts []model.EmergencyContact
}

func (f *fakeContactRepo) Create(_ context.Context, c *model.EmergencyContact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.CreatedAt = time.Now().UTC()
	f.contacts = append(f.contacts, *c)
	return nil
}

func (f *fakeContactRepo) ListByUser(_ context.Context, userID string) ([]model.EmergencyContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EmergencyContact
	for _, c := range f.contacts {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (f *fakeContactRepo) ListActiveByUser(ctx context.Context, userID string) ([]model.EmergencyContact, error) {
	all, err := f.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []model.EmergencyContact
	for _, c := range all {
		if !c.OptedOut {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContactRepo) SetOptOut(_ context.Context, id string, optedOut bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.contacts {
		if f.contacts[i].ID == id {
			f.contacts[i].OptedOut = optedOut
			return nil
		}
	}
	return repo.ErrNotFound
}

type fakeSmsLogRepo struct {
	mu      sync.Mutex
	entries map[string]*model.SmsLogEntry
	stash   map[string]stashedDelivery
}

// stashedDelivery is a terminal callback that arrived before the entry
// carried its provider ID; it is re-applied on MarkSent.
type stashedDelivery struct {
	status model.SmsStatus
	at     time.Time
}

func newFakeSmsLogRepo() *fakeSmsLogRepo {
	return &fakeSmsLogRepo{
		entries: make(map[string]*model.SmsLogEntry),
		stash:   make(map[string]stashedDelivery),
	}
}

func (f *fakeSmsLogRepo) Create(_ context.Context, e *model.SmsLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.CreatedAt = time.Now().UTC()
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeSmsLogRepo) MarkSent(_ context.Context, id, providerMessageID string, retryCount int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return repo.ErrNotFound
	}
	e.Status = model.SmsSent
	e.ProviderMessageID = &providerMessageID
	e.RetryCount = retryCount
	e.SentAt = &at
	if d, ok := f.stash[providerMessageID]; ok {
		delete(f.stash, providerMessageID)
		e.Status = d.status
		if d.status == model.SmsDelivered {
			ts := d.at
			e.DeliveredAt = &ts
		}
	}
	return nil
}

func (f *fakeSmsLogRepo) MarkFailed(_ context.Context, id, reason string, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return repo.ErrNotFound
	}
	e.Status = model.SmsFailed
	e.FailureReason = &reason
	e.RetryCount = retryCount
	return nil
}

func (f *fakeSmsLogRepo) UpdateDeliveryStatus(_ context.Context, providerMessageID string, status model.SmsStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	known := false
	for _, e := range f.entries {
		if e.ProviderMessageID == nil || *e.ProviderMessageID != providerMessageID {
			continue
		}
		known = true
		if e.Status == model.SmsSent {
			e.Status = status
			if status == model.SmsDelivered {
				e.DeliveredAt = &at
			}
			return nil
		}
	}
	if !known {
		if _, ok := f.stash[providerMessageID]; !ok {
			f.stash[providerMessageID] = stashedDelivery{status: status, at: at}
		}
	}
	return repo.ErrNotFound
}

func (f *fakeSmsLogRepo) ListBySession(_ context.Context, sessionID string) ([]model.SmsLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SmsLogEntry
	for _, e := range f.entries {
		if e.SessionID == sessionID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeSmsLogRepo) byID(id string) *model.SmsLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (f *fakeSmsLogRepo) all() []model.SmsLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SmsLogEntry
	for _, e := range f.entries {
		out = append(out, *e)
	}
	return out
}

// fakeQuotaRepo scripts consume decisions and counts refunds.
type fakeQuotaRepo struct {
	mu         sync.Mutex
	decision   model.ConsumeDecision
	consumeErr error
	consumed   int
	refunds    int
}

func (f *fakeQuotaRepo) ConsumeCredit(_ context.Context, _ string, _ model.SmsType) (model.ConsumeDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return model.ConsumeDecision{}, f.consumeErr
	}
	f.consumed++
	return f.decision, nil
}

func (f *fakeQuotaRepo) RefundCredit(_ context.Context, _ string, _ model.SmsType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds++
	return nil
}

func (f *fakeQuotaRepo) Get(_ context.Context, userID string) (*model.QuotaState, error) {
	return &model.QuotaState{UserID: userID}, nil
}

func (f *fakeQuotaRepo) Grant(_ context.Context, _ string, _, _ int) error { return nil }
func (f *fakeQuotaRepo) SetSubscription(_ context.Context, _ string, _ bool) error { return nil }
func (f *fakeQuotaRepo) LinkStripeCustomer(_ context.Context, _, _ string) error { return nil }
func (f *fakeQuotaRepo) SetSubscriptionByCustomer(_ context.Context, _ string, _ bool) error {
	return nil
}

// fakeSender fails the first failures calls, then succeeds with sequential
// SIDs. Thread safe so concurrent dispatches can share one instance.
type fakeSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []string
}

func (f *fakeSender) Send(_ context.Context, to, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("gateway unavailable (call %d)", f.calls)
	}
	f.sent = append(f.sent, to)
	return fmt.Sprintf("SM%04d", f.calls), nil
}

func (f *fakeSender) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
