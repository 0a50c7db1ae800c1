package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/repository"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
)

// UseCase provides profile operations with validation and per-user write serialization
type UseCase struct {
	repo repository.Repository
	now  func() time.Time

	mu    sync.Mutex
	locks map[model.UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new profile UseCase instance
func New(repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:  repo,
		now:   time.Now,
		locks: make(map[model.UserID]*userLock),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Get returns the profile of userID
func (uc *UseCase) Get(ctx context.Context, userID model.UserID) (*model.Profile, error) {
	if userID == "" {
		return nil, goerr.Wrap(model.ErrInvalidProfileField, "user id is empty", goerr.V("field", "user_id"))
	}
	profile, err := uc.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V("user_id", userID))
	}
	return profile, nil
}

// Upsert merges update into the existing profile, or creates a new one when none exists.
// The merge and write run under the user's lock so concurrent updates are never lost.
func (uc *UseCase) Upsert(ctx context.Context, userID model.UserID, update model.ProfileUpdate) (*model.Profile, error) {
	if userID == "" {
		return nil, goerr.Wrap(model.ErrInvalidProfileField, "user id is empty", goerr.V("field", "user_id"))
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}

	unlock := uc.lock(userID)
	defer unlock()

	now := uc.now()
	current, err := uc.repo.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, model.ErrProfileNotFound):
		current, err = model.NewProfile(userID, update, now)
		if err != nil {
			return nil, err
		}
		logging.From(ctx).Info("creating profile", "user_id", userID)

	case err != nil:
		return nil, goerr.Wrap(err, "failed to load profile for update", goerr.V("user_id", userID))

	default:
		if err := current.Apply(update, now); err != nil {
			return nil, err
		}
	}

	if err := uc.repo.PutProfile(ctx, current); err != nil {
		return nil, goerr.Wrap(err, "failed to persist profile", goerr.V("user_id", userID))
	}
	logging.From(ctx).Debug("profile saved", "user_id", userID, "goal", current.Goal)

	return current, nil
}

// lock acquires the per-user lock and returns its release function. Entries are dropped when unused.
func (uc *UseCase) lock(userID model.UserID) func() {
	uc.mu.Lock()
	l, ok := uc.locks[userID]
	if !ok {
		l = &userLock{}
		uc.locks[userID] = l
	}
	l.refs++
	uc.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		uc.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(uc.locks, userID)
		}
		uc.mu.Unlock()
	}
}
