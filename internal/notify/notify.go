// Package notify is the seam toward the push-notification transport, which
// lives outside this service. The core only emits events; delivery plumbing
// is somebody else's problem.
package notify

import (
	"context"
	"log/slog"

	"github.com/guardline/guardline/internal/model"
)

type Notifier interface {
	// NudgeCheckIn prompts the user to confirm they are still on track.
	// Informational only, never mutates session state.
	NudgeCheckIn(ctx context.Context, s model.Session, kind model.NudgeKind)

	// AlertOutcome reports how an overdue dispatch ended, including quota
	// denials that need the user's attention.
	AlertOutcome(ctx context.Context, s model.Session, outcome model.DispatchOutcome)
}

// SlogNotifier logs events instead of pushing them. Used as the default
// implementation and in tests.
type SlogNotifier struct{}

func (SlogNotifier) NudgeCheckIn(_ context.Context, s model.Session, kind model.NudgeKind) {
	slog.Info("check-in nudge",
		"session_id", s.ID,
		"user_id", s.UserID,
		"kind", string(kind),
		"limit_time", s.LimitTime,
	)
}

func (SlogNotifier) AlertOutcome(_ context.Context, s model.Session, outcome model.DispatchOutcome) {
	slog.Info("alert outcome",
		"session_id", s.ID,
		"user_id", s.UserID,
		"outcome", string(outcome),
	)
}
