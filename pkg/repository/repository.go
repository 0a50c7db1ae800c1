package repository

import (
	"context"

	"github.com/m-mizutani/nutriguide/pkg/model"
)

// Repository defines the interface for profile persistence. One profile is one addressable unit.
type Repository interface {
	// GetProfile returns model.ErrProfileNotFound when no record exists
	GetProfile(ctx context.Context, userID model.UserID) (*model.Profile, error)

	// PutProfile durably writes the full profile record
	PutProfile(ctx context.Context, profile *model.Profile) error
}
