package model

import "time"

type SessionStatus string

const (
	SessionActive       SessionStatus = "active"
	SessionGrace        SessionStatus = "grace"
	SessionOverdue      SessionStatus = "overdue"
	SessionReturned     SessionStatus = "returned"
	SessionCancelled    SessionStatus = "cancelled"
	SessionSOSTriggered SessionStatus = "sos_triggered"
)

// Terminal reports whether no further transition may ever apply.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionReturned, SessionCancelled, SessionSOSTriggered:
		return true
	}
	return false
}

// MaxExtensions caps how many times a session's return time may be pushed out.
const MaxExtensions = 3

// DispatchOutcome records how the overdue alert path ended for a session.
// Quota denials and total gateway failure keep the session overdue but stop
// automatic re-claiming; a manual retry clears the outcome.
type DispatchOutcome string

const (
	OutcomeSent          DispatchOutcome = "sent"
	OutcomeQuotaReached  DispatchOutcome = "quota_reached"
	OutcomeNoCredits     DispatchOutcome = "no_credits"
	OutcomeGatewayFailed DispatchOutcome = "gateway_failed"
)

// NudgeKind identifies a check-in prompt. Nudges are notifications only and
// never mutate session status.
type NudgeKind string

const (
	NudgeMidpoint NudgeKind = "midpoint"
	NudgeFollowup NudgeKind = "followup"
)

// Location is a single on-demand position snapshot. There is no continuous
// tracking; only the last captured snapshot is ever shared.
type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Session is one tracked safety outing. Deadline is always
// LimitTime + Tolerance; both are recomputed together on extend.
type Session struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"userId"`
	StartTime           time.Time        `json:"startTime"`
	LimitTime           time.Time        `json:"limitTime"`
	Tolerance           time.Duration    `json:"tolerance"`
	Deadline            time.Time        `json:"deadline"`
	Status              SessionStatus    `json:"status"`
	CheckInConfirmed    bool             `json:"checkInConfirmed"`
	CheckInConfirmedAt  *time.Time       `json:"checkInConfirmedAt,omitempty"`
	ExtensionsCount     int              `json:"extensionsCount"`
	ShareLocation       bool             `json:"shareLocation"`
	LastKnownLocation   *Location        `json:"lastKnownLocation,omitempty"`
	Note                string           `json:"note,omitempty"`
	ClaimedAt           *time.Time       `json:"-"`
	DispatchOutcome     *DispatchOutcome `json:"dispatchOutcome,omitempty"`
	NudgeMidpointSentAt *time.Time       `json:"-"`
	NudgeFollowupSentAt *time.Time       `json:"-"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// MidpointNudgeAt is when the first "still on track?" check-in prompt fires:
// halfway between start and the declared return time.
func (s *Session) MidpointNudgeAt() time.Time {
	return s.StartTime.Add(s.LimitTime.Sub(s.StartTime) / 2)
}

// FollowupNudgeAt is the reminder sent if the midpoint prompt went unanswered.
func (s *Session) FollowupNudgeAt() time.Time {
	return s.MidpointNudgeAt().Add(10 * time.Minute)
}
