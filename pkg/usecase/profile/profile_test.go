package profile_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/repository"
	"github.com/m-mizutani/nutriguide/pkg/usecase/profile"
)

func ptr[T any](v T) *T {
	return &v
}

func fullUpdate() model.ProfileUpdate {
	return model.ProfileUpdate{
		Age:      ptr(30),
		HeightCM: ptr(170.0),
		WeightKG: ptr(70.0),
		Goal:     ptr(model.GoalLoseWeight),
	}
}

func TestUpsertThenGet(t *testing.T) {
	ctx := context.Background()
	uc := profile.New(repository.NewMemory())

	created, err := uc.Upsert(ctx, "alice", fullUpdate())
	gt.NoError(t, err)
	gt.Equal(t, created.Age, 30)
	gt.Equal(t, created.ActivityLevel, model.ActivityLight)

	got, err := uc.Get(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, got.WeightKG, 70.0)
	gt.Equal(t, got.Goal, model.GoalLoseWeight)

	updated, err := uc.Upsert(ctx, "alice", model.ProfileUpdate{
		Goal:        ptr(model.GoalGainMuscle),
		Preferences: []string{" Vegetarian", "vegetarian", "no spicy food"},
	})
	gt.NoError(t, err)
	gt.Equal(t, updated.Goal, model.GoalGainMuscle)
	gt.Equal(t, updated.Age, 30)
	gt.A(t, updated.Preferences).Length(2)

	got, err = uc.Get(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, got.Goal, model.GoalGainMuscle)
	gt.True(t, got.HasPreference("vegetarian"))
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	uc := profile.New(repository.NewMemory())
	_, err := uc.Upsert(ctx, "bob", fullUpdate())
	gt.NoError(t, err)

	testCases := map[string]model.ProfileUpdate{
		"negative age":      {Age: ptr(-1)},
		"zero age":          {Age: ptr(0)},
		"negative height":   {HeightCM: ptr(-170.0)},
		"negative weight":   {WeightKG: ptr(-0.5)},
		"nan weight":        {WeightKG: ptr(math.NaN())},
		"infinite height":   {HeightCM: ptr(math.Inf(1))},
		"unknown goal":      {Goal: ptr(model.Goal("get-rich"))},
		"unknown activity":  {ActivityLevel: ptr(model.ActivityLevel("extreme"))},
		"unknown sex value": {Sex: ptr(model.Sex("robot"))},
	}

	for name, update := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := uc.Upsert(ctx, "bob", update)
			gt.Error(t, err)
			gt.True(t, errors.Is(err, model.ErrInvalidProfileField))

			// stored record is untouched
			got, err := uc.Get(ctx, "bob")
			gt.NoError(t, err)
			gt.Equal(t, got.Age, 30)
			gt.Equal(t, got.WeightKG, 70.0)
		})
	}
}

func TestCreateRequiresNumericFields(t *testing.T) {
	ctx := context.Background()
	uc := profile.New(repository.NewMemory())

	_, err := uc.Upsert(ctx, "carol", model.ProfileUpdate{Goal: ptr(model.GoalMaintain)})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidProfileField))

	_, err = uc.Get(ctx, "carol")
	gt.True(t, errors.Is(err, model.ErrProfileNotFound))
}

func TestEmptyUserID(t *testing.T) {
	uc := profile.New(repository.NewMemory())
	_, err := uc.Upsert(context.Background(), "", fullUpdate())
	gt.True(t, errors.Is(err, model.ErrInvalidProfileField))
}

// trackingRepo records how many read-merge-write sequences overlap for one user
type trackingRepo struct {
	*repository.Memory
	active    atomic.Int32
	maxActive atomic.Int32
}

func (r *trackingRepo) GetProfile(ctx context.Context, userID model.UserID) (*model.Profile, error) {
	n := r.active.Add(1)
	for {
		cur := r.maxActive.Load()
		if n <= cur || r.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return r.Memory.GetProfile(ctx, userID)
}

func (r *trackingRepo) PutProfile(ctx context.Context, p *model.Profile) error {
	defer r.active.Add(-1)
	return r.Memory.PutProfile(ctx, p)
}

func TestConcurrentUpsertSerializes(t *testing.T) {
	ctx := context.Background()
	repo := &trackingRepo{Memory: repository.NewMemory()}
	uc := profile.New(repo)
	_, err := uc.Upsert(ctx, "dave", fullUpdate())
	gt.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(age int) {
			defer wg.Done()
			_, err := uc.Upsert(ctx, "dave", model.ProfileUpdate{Age: ptr(age)})
			gt.NoError(t, err)
		}(20 + i)
	}
	wg.Wait()

	gt.Equal(t, repo.maxActive.Load(), int32(1))

	got, err := uc.Get(ctx, "dave")
	gt.NoError(t, err)
	gt.True(t, got.Age > 20 && got.Age <= 20+writers)
	gt.Equal(t, got.WeightKG, 70.0)
}

func TestConcurrentUpsertDifferentUsers(t *testing.T) {
	ctx := context.Background()
	uc := profile.New(repository.NewMemory())

	var wg sync.WaitGroup
	users := []model.UserID{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		for i := 1; i <= 10; i++ {
			wg.Add(1)
			go func(u model.UserID, w float64) {
				defer wg.Done()
				update := fullUpdate()
				update.WeightKG = ptr(w)
				_, err := uc.Upsert(ctx, u, update)
				gt.NoError(t, err)
			}(u, 60+float64(i))
		}
	}
	wg.Wait()

	for _, u := range users {
		got, err := uc.Get(ctx, u)
		gt.NoError(t, err)
		gt.True(t, got.WeightKG > 60 && got.WeightKG <= 70)
	}
}
