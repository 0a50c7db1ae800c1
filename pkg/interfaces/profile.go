package interfaces

import (
	"context"

	"github.com/m-mizutani/nutriguide/pkg/model"
)

// ProfileStore is the contract of per-user profile access
type ProfileStore interface {
	// Get returns model.ErrProfileNotFound when the user has no profile
	Get(ctx context.Context, userID model.UserID) (*model.Profile, error)

	// Upsert merges update into the stored profile or creates it, and persists the result
	Upsert(ctx context.Context, userID model.UserID, update model.ProfileUpdate) (*model.Profile, error)
}

// HistoryStore persists the turns of a session
type HistoryStore interface {
	LoadTurns(ctx context.Context, userID model.UserID) ([]*model.Turn, error)
	SaveTurns(ctx context.Context, userID model.UserID, turns []*model.Turn) error
}
