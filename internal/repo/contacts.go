package repo

import (
	"context"

	"github.com/guardline/guardline/internal/model"
)

type ContactRepository interface {
	Create(ctx context.Context, c *model.EmergencyContact) error
	ListByUser(ctx context.Context, userID string) ([]model.EmergencyContact, error)

	// ListActiveByUser returns non-opted-out contacts ordered by priority,
	// primary first.
	ListActiveByUser(ctx context.Context, userID string) ([]model.EmergencyContact, error)

	SetOptOut(ctx context.Context, id string, optedOut bool) error
}
