package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/guardline/internal/cache"
	"github.com/guardline/guardline/internal/model"
	"github.com/guardline/guardline/internal/repo"
)

// locationLookupTimeout bounds any snapshot lookup: a missing position makes
// the alert less useful, a blocked dispatch makes it worthless.
const locationLookupTimeout = 10 * time.Second

// Lifecycle owns user-driven session transitions. Time-driven transitions
// (grace, overdue) belong to the sweep; both go through the same
// compare-and-set repository so neither side can overwrite the other.
type Lifecycle struct {
	sessions  repo.SessionRepository
	locations cache.LocationCache // may be nil
}

func NewLifecycle(sessions repo.SessionRepository, locations cache.LocationCache) *Lifecycle {
	return &Lifecycle{sessions: sessions, locations: locations}
}

type StartParams struct {
	UserID        string
	LimitTime     time.Time
	Tolerance     time.Duration
	ShareLocation bool
	Note          string
	Location      *model.Location
}

func (l *Lifecycle) Start(ctx context.Context, p StartParams) (*model.Session, error) {
	now := time.Now().UTC()

	if p.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if !p.LimitTime.After(now) {
		return nil, fmt.Errorf("%w: limitTime must be in the future", ErrValidation)
	}
	if p.Tolerance < 0 {
		return nil, fmt.Errorf("%w: tolerance must not be negative", ErrValidation)
	}
	if p.Location != nil {
		if err := validateCoordinates(p.Location.Latitude, p.Location.Longitude); err != nil {
			return nil, err
		}
	}

	s := &model.Session{
		ID:            uuid.NewString(),
		UserID:        p.UserID,
		StartTime:     now,
		LimitTime:     p.LimitTime.UTC(),
		Tolerance:     p.Tolerance,
		Deadline:      p.LimitTime.UTC().Add(p.Tolerance),
		Status:        model.SessionActive,
		ShareLocation: p.ShareLocation,
		Note:          p.Note,
	}

	switch {
	case p.Location != nil:
		loc := *p.Location
		if loc.CapturedAt.IsZero() {
			loc.CapturedAt = now
		}
		s.LastKnownLocation = &loc
		if l.locations != nil {
			if err := l.locations.StoreSnapshot(ctx, p.UserID, loc); err != nil {
				slog.Warn("failed to cache location snapshot", "user_id", p.UserID, "err", err)
			}
		}
	case p.ShareLocation && l.locations != nil:
		lctx, cancel := context.WithTimeout(ctx, locationLookupTimeout)
		snap, err := l.locations.LastSnapshot(lctx, p.UserID)
		cancel()
		if err != nil {
			slog.Warn("location snapshot lookup failed", "user_id", p.UserID, "err", err)
		} else if snap != nil {
			s.LastKnownLocation = snap
		}
	}

	if err := l.sessions.Create(ctx, s); err != nil {
		return nil, err
	}

	slog.Info("session started",
		"session_id", s.ID,
		"user_id", s.UserID,
		"limit_time", s.LimitTime,
		"deadline", s.Deadline,
	)
	return s, nil
}

// CheckIn confirms a safe return. Valid from any non-terminal status,
// including after the sweep already claimed the session: the dispatcher
// re-checks status before sending and backs off.
func (l *Lifecycle) CheckIn(ctx context.Context, id string) (*model.Session, error) {
	if err := l.sessions.MarkReturned(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	slog.Info("session checked in", "session_id", id)
	return l.sessions.Get(ctx, id)
}

func (l *Lifecycle) Cancel(ctx context.Context, id string) (*model.Session, error) {
	if err := l.sessions.MarkCancelled(ctx, id); err != nil {
		return nil, err
	}
	slog.Info("session cancelled", "session_id", id)
	return l.sessions.Get(ctx, id)
}

// Extend pushes the declared return time out. Capped; once the cap is hit
// the call reports the limit instead of silently succeeding.
func (l *Lifecycle) Extend(ctx context.Context, id string, extra time.Duration) (*model.Session, error) {
	if extra <= 0 {
		return nil, fmt.Errorf("%w: extension must be positive", ErrValidation)
	}
	if extra > 12*time.Hour {
		return nil, fmt.Errorf("%w: extension too large", ErrValidation)
	}

	s, err := l.sessions.Extend(ctx, id, extra)
	if err != nil {
		return nil, err
	}
	slog.Info("session extended",
		"session_id", id,
		"extensions_count", s.ExtensionsCount,
		"new_deadline", s.Deadline,
	)
	return s, nil
}

// ReportLocation stores a fresh device snapshot on the session and in the
// per-user cache.
func (l *Lifecycle) ReportLocation(ctx context.Context, sessionID string, loc model.Location) error {
	if err := validateCoordinates(loc.Latitude, loc.Longitude); err != nil {
		return err
	}
	if loc.CapturedAt.IsZero() {
		loc.CapturedAt = time.Now().UTC()
	}

	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := l.sessions.SetLastKnownLocation(ctx, sessionID, loc); err != nil {
		return err
	}
	if l.locations != nil {
		if err := l.locations.StoreSnapshot(ctx, s.UserID, loc); err != nil {
			slog.Warn("failed to cache location snapshot", "user_id", s.UserID, "err", err)
		}
	}
	return nil
}

// RetryAlert re-arms an overdue session whose dispatch ended in a recorded
// outcome (quota denial or total gateway failure). The next sweep picks it
// up again.
func (l *Lifecycle) RetryAlert(ctx context.Context, id string) error {
	return l.sessions.ClearDispatchOutcome(ctx, id)
}

func (l *Lifecycle) Get(ctx context.Context, id string) (*model.Session, error) {
	return l.sessions.Get(ctx, id)
}

func (l *Lifecycle) History(ctx context.Context, userID string, limit, offset int) ([]model.Session, error) {
	return l.sessions.ListByUser(ctx, userID, limit, offset)
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrValidation)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrValidation)
	}
	return nil
}
