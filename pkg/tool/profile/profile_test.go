package profile_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/repository"
	"github.com/m-mizutani/nutriguide/pkg/tool"
	profiletool "github.com/m-mizutani/nutriguide/pkg/tool/profile"
	"github.com/m-mizutani/nutriguide/pkg/usecase/profile"
)

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := profile.New(repository.NewMemory())
	env := &tool.Env{UserID: "alice", Profiles: store}
	x := profiletool.New()

	raw, err := json.Marshal(map[string]any{
		"age": 30, "height_cm": 170, "weight_kg": 65, "goal": "gain-muscle", "preferences": []string{"Vegetarian"},
	})
	gt.NoError(t, err)

	out, err := x.Execute(ctx, raw, env)
	gt.NoError(t, err)
	p := out.(*model.Profile)
	gt.Equal(t, p.Goal, model.GoalGainMuscle)
	gt.Equal(t, env.Profile, p)
	gt.True(t, p.HasPreference("vegetarian"))

	stored, err := store.Get(ctx, "alice")
	gt.NoError(t, err)
	gt.Equal(t, stored.WeightKG, 65.0)

	t.Run("partial update", func(t *testing.T) {
		out, err := x.Execute(ctx, json.RawMessage(`{"weight_kg": 63.5}`), env)
		gt.NoError(t, err)
		p := out.(*model.Profile)
		gt.Equal(t, p.WeightKG, 63.5)
		gt.Equal(t, p.Age, 30)
	})

	t.Run("invalid field", func(t *testing.T) {
		_, err := x.Execute(ctx, json.RawMessage(`{"weight_kg": -1}`), env)
		gt.True(t, errors.Is(err, model.ErrInvalidProfileField))

		stored, err := store.Get(ctx, "alice")
		gt.NoError(t, err)
		gt.Equal(t, stored.WeightKG, 63.5)
	})

	t.Run("empty update", func(t *testing.T) {
		_, err := x.Execute(ctx, json.RawMessage(`{}`), env)
		gt.True(t, errors.Is(err, model.ErrInvalidQuery))
	})
}
