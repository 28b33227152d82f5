package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardline/guardline/internal/config"
	"github.com/guardline/guardline/internal/model"
	"github.com/guardline/guardline/internal/notify"
	"github.com/guardline/guardline/internal/repo"
)

// Sweeper is the periodic deadline pass: grace promotion, overdue claiming
// and dispatch, and check-in nudges. One Tick is one scheduler run; every
// step tolerates the others failing so a bad batch never wedges the loop.
type Sweeper struct {
	sessions   repo.SessionRepository
	dispatcher *Dispatcher
	notifier   notify.Notifier
	cfg        config.SchedulerConfig
	// redispatchDenied re-qualifies quota-denied sessions each tick instead
	// of waiting for a manual retry.
	redispatchDenied bool
}

func NewSweeper(sessions repo.SessionRepository, dispatcher *Dispatcher, notifier notify.Notifier, cfg config.SchedulerConfig, redispatchDenied bool) *Sweeper {
	return &Sweeper{
		sessions:         sessions,
		dispatcher:       dispatcher,
		notifier:         notifier,
		cfg:              cfg,
		redispatchDenied: redispatchDenied,
	}
}

func (w *Sweeper) Tick(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := w.sessions.SweepGrace(ctx, now); err != nil {
		slog.Error("grace sweep failed", "err", err)
	} else if n > 0 {
		slog.Info("sessions entered grace", "count", n)
	}

	claimed, err := w.sessions.ClaimOverdue(ctx, now, w.cfg.ClaimTTL, w.cfg.BatchSize, w.redispatchDenied)
	if err != nil {
		slog.Error("overdue claim failed", "err", err)
	} else {
		for _, s := range claimed {
			if err := w.dispatchOne(ctx, s); err != nil {
				slog.Error("alert dispatch failed", "session_id", s.ID, "err", err)
				continue
			}
			if cur, err := w.sessions.Get(ctx, s.ID); err == nil && cur.DispatchOutcome != nil {
				w.notifier.AlertOutcome(ctx, *cur, *cur.DispatchOutcome)
			}
		}
	}

	w.sweepNudges(ctx, now)
}

// dispatchOne isolates a single session's dispatch so one panicking or
// failing session cannot take down the rest of the batch.
func (w *Sweeper) dispatchOne(ctx context.Context, s model.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return w.dispatcher.Dispatch(ctx, s)
}

func (w *Sweeper) sweepNudges(ctx context.Context, now time.Time) {
	due, err := w.sessions.ListDueNudges(ctx, now)
	if err != nil {
		slog.Error("nudge listing failed", "err", err)
		return
	}

	for _, s := range due {
		kind := model.NudgeMidpoint
		if s.NudgeMidpointSentAt != nil {
			kind = model.NudgeFollowup
		}

		// Mark first: if a concurrent tick already took this nudge the
		// conflict tells us to skip, so the prompt goes out at most once.
		if err := w.sessions.MarkNudgeSent(ctx, s.ID, kind, now); err != nil {
			if !errors.Is(err, repo.ErrConflict) {
				slog.Error("failed to mark nudge sent", "session_id", s.ID, "kind", kind, "err", err)
			}
			continue
		}

		w.notifier.NudgeCheckIn(ctx, s, kind)
	}
}
