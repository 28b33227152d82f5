package cache

import (
	"context"

	"github.com/guardline/guardline/internal/model"
)

// LocationCache keeps the most recent position snapshot per user. The alert
// dispatcher falls back to it when a session carries no stored location.
// A nil value is tolerated everywhere and behaves as an always-empty cache.
type LocationCache interface {
	StoreSnapshot(ctx context.Context, userID string, loc model.Location) error
	LastSnapshot(ctx context.Context, userID string) (*model.Location, error)
}
