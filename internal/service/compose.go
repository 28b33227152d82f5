package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/guardline/guardline/internal/model"
)

// ComposeLateAlert builds the SMS body sent to an emergency contact when a
// session goes overdue. The body carries the declared return time and the
// grace window; the maps link is included only when the user opted into
// location sharing and a snapshot actually exists.
func ComposeLateAlert(s *model.Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Your contact has not checked in by their declared return time (%s)",
		s.LimitTime.UTC().Format("15:04 MST, Jan 2"))
	if s.Tolerance > 0 {
		fmt.Fprintf(&b, " or within the %s grace window (deadline %s)",
			formatDuration(s.Tolerance), s.Deadline.UTC().Format("15:04 MST"))
	}
	b.WriteString(".")

	if s.Note != "" {
		fmt.Fprintf(&b, " Note: %s.", s.Note)
	}

	if s.ShareLocation && s.LastKnownLocation != nil {
		loc := s.LastKnownLocation
		fmt.Fprintf(&b, " Last known location (as of %s): https://maps.google.com/?q=%.6f,%.6f",
			loc.CapturedAt.UTC().Format("15:04 MST"), loc.Latitude, loc.Longitude)
	}

	b.WriteString(" Please try to reach them.")
	return b.String()
}

// ComposeNudge builds the check-in prompt body for the session owner.
func ComposeNudge(s *model.Session, kind model.NudgeKind) string {
	switch kind {
	case model.NudgeFollowup:
		return fmt.Sprintf("Reminder: still on track? Your return time is %s. Check in or extend if plans changed.",
			s.LimitTime.UTC().Format("15:04 MST"))
	default:
		remaining := time.Until(s.LimitTime).Round(time.Minute)
		return fmt.Sprintf("Quick check: everything OK? About %s left until your declared return time.",
			formatRemaining(remaining))
	}
}

// ComposeTestBody is the fixed body for contact test messages.
func ComposeTestBody() string {
	return "Someone added you as an emergency contact. This is a test message; no action is needed."
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "no time"
	}
	return formatDuration(d)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
