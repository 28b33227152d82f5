package repo

import (
	"context"
	"time"

	"github.com/guardline/guardline/internal/model"
)

// SessionRepository is the shared data authority for session lifecycle
// state. All status mutations are narrow compare-and-set updates so that
// scheduler ticks and user actions racing on the same row cannot blindly
// overwrite each other.
type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Session, error)

	// MarkReturned confirms a check-in: any non-terminal status moves to
	// returned and the claim, if any, is cleared. ErrConflict if already
	// terminal.
	MarkReturned(ctx context.Context, id string, at time.Time) error

	// MarkCancelled moves any non-terminal session to cancelled.
	MarkCancelled(ctx context.Context, id string) error

	// MarkSOSTriggered moves an overdue session to sos_triggered.
	MarkSOSTriggered(ctx context.Context, id string) error

	// Extend pushes limitTime out by add and recomputes the deadline.
	// Legal only while active or grace and below the extension cap;
	// ErrExtensionLimit once the cap is used up.
	Extend(ctx context.Context, id string, add time.Duration) (*model.Session, error)

	// SweepGrace moves active sessions whose limitTime has passed but whose
	// deadline has not into grace. Lightweight, no claiming.
	SweepGrace(ctx context.Context, now time.Time) (int64, error)

	// ClaimOverdue atomically claims up to limit sessions whose deadline has
	// passed and which are not already held by a fresh claim. Claims older
	// than claimTTL are considered abandoned and reclaimable. Sessions with
	// a recorded dispatch outcome are skipped unless includeQuotaDenied is
	// set, in which case quota-denied ones become eligible again.
	ClaimOverdue(ctx context.Context, now time.Time, claimTTL time.Duration, limit int, includeQuotaDenied bool) ([]model.Session, error)

	// ReleaseClaim clears claimed_at, leaving status untouched.
	ReleaseClaim(ctx context.Context, id string) error

	// RecordDispatchOutcome stores how the alert path ended.
	RecordDispatchOutcome(ctx context.Context, id string, outcome model.DispatchOutcome) error

	// ClearDispatchOutcome re-arms a session for another dispatch attempt.
	ClearDispatchOutcome(ctx context.Context, id string) error

	SetLastKnownLocation(ctx context.Context, id string, loc model.Location) error

	// ListDueNudges returns active sessions with an unsent check-in prompt
	// whose scheduled time has passed.
	ListDueNudges(ctx context.Context, now time.Time) ([]model.Session, error)

	// MarkNudgeSent records a prompt as sent. Idempotent: a second call for
	// the same nudge reports ErrConflict so overlapping ticks never
	// double-send.
	MarkNudgeSent(ctx context.Context, id string, kind model.NudgeKind, at time.Time) error
}
