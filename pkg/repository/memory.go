package repository

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
)

// Memory is an in-process Repository, mainly for tests
type Memory struct {
	mu       sync.RWMutex
	profiles map[model.UserID]model.Profile
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{profiles: make(map[model.UserID]model.Profile)}
}

func (r *Memory) GetProfile(ctx context.Context, userID model.UserID) (*model.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, goerr.Wrap(model.ErrProfileNotFound, "profile not found in memory", goerr.V("user_id", userID))
	}
	p.Preferences = append([]string(nil), p.Preferences...)
	return &p, nil
}

func (r *Memory) PutProfile(ctx context.Context, profile *model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := *profile
	p.Preferences = append([]string(nil), profile.Preferences...)
	r.profiles[profile.UserID] = p
	return nil
}
