package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/guardline/guardline/internal/model"
	"github.com/guardline/guardline/internal/phone"
	"github.com/guardline/guardline/internal/repo"
)

// Contacts manages a user's emergency contact list. Numbers are normalized
// to E.164 at the door so every downstream consumer sees one format.
type Contacts struct {
	contacts repo.ContactRepository
}

func NewContacts(contacts repo.ContactRepository) *Contacts {
	return &Contacts{contacts: contacts}
}

type AddContactParams struct {
	UserID   string
	Name     string
	Phone    string
	Priority int
}

func (c *Contacts) Add(ctx context.Context, p AddContactParams) (*model.EmergencyContact, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	normalized, err := phone.Normalize(p.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if p.Priority <= 0 {
		p.Priority = 1
	}

	contact := &model.EmergencyContact{
		ID:       uuid.NewString(),
		UserID:   p.UserID,
		Name:     p.Name,
		Phone:    normalized,
		Priority: p.Priority,
	}
	if err := c.contacts.Create(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

func (c *Contacts) List(ctx context.Context, userID string) ([]model.EmergencyContact, error) {
	return c.contacts.ListByUser(ctx, userID)
}

// SetOptOut flips the contact's messaging consent. Opted-out contacts stay
// on the list but are skipped by every dispatch.
func (c *Contacts) SetOptOut(ctx context.Context, id string, optedOut bool) error {
	return c.contacts.SetOptOut(ctx, id, optedOut)
}
