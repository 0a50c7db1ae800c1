package diet_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/policy"
	"github.com/m-mizutani/nutriguide/pkg/tool"
	"github.com/m-mizutani/nutriguide/pkg/tool/diet"
)

type mockIndex struct {
	searchFunc func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error)
}

func (m *mockIndex) Search(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
	return m.searchFunc(ctx, query, k)
}

func (m *mockIndex) Lookup(ctx context.Context, name string) (*model.NutritionRecord, error) {
	return nil, model.ErrNoMatchFound
}

func (m *mockIndex) Categories(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (m *mockIndex) ListByCategory(ctx context.Context, category string) ([]*model.NutritionRecord, error) {
	return nil, model.ErrNoMatchFound
}

func testProfile() *model.Profile {
	return &model.Profile{
		UserID:        "alice",
		Age:           30,
		HeightCM:      170,
		WeightKG:      70,
		Goal:          model.GoalLoseWeight,
		Sex:           model.SexFemale,
		ActivityLevel: model.ActivityModerate,
	}
}

func TestComputeTargets(t *testing.T) {
	targets := diet.ComputeTargets(testProfile())

	// 10*70 + 6.25*170 - 5*30 - 161 = 1451.5
	gt.Equal(t, targets.BMR, 1452.0)
	gt.Equal(t, targets.BMI, 24.2)
	gt.Equal(t, targets.BMIStatus, "overweight")
	gt.Equal(t, targets.ActivityFactor, 1.55)
	gt.Equal(t, targets.GoalFactor, 0.8)
	// 1451.5 * 1.55 * 0.8 = 1799.86
	gt.Equal(t, targets.DailyCalories, 1800.0)
	gt.Equal(t, targets.Meals["breakfast"], 540.0)
	gt.Equal(t, targets.Meals["lunch"], 720.0)
	gt.Equal(t, targets.Meals["dinner"], 540.0)
	// 30% protein of 1799.86 kcal at 4 kcal/g
	gt.Equal(t, targets.ProteinGrams, 135.0)
	gt.Equal(t, targets.FatGrams, 60.0)
}

func TestComputeTargetsGoals(t *testing.T) {
	p := testProfile()
	p.Goal = model.GoalMaintain
	maintain := diet.ComputeTargets(p)

	p.Goal = model.GoalGainMuscle
	gain := diet.ComputeTargets(p)

	p.Goal = model.GoalLoseWeight
	lose := diet.ComputeTargets(p)

	gt.True(t, gain.DailyCalories > maintain.DailyCalories)
	gt.True(t, lose.DailyCalories < maintain.DailyCalories)
	gt.True(t, gain.ProteinGrams > maintain.ProteinGrams)
}

func TestComputeTargetsUnspecifiedSex(t *testing.T) {
	p := testProfile()
	p.Sex = model.SexUnspecified
	unspecified := diet.ComputeTargets(p)

	p.Sex = model.SexMale
	male := diet.ComputeTargets(p)

	p.Sex = model.SexFemale
	female := diet.ComputeTargets(p)

	gt.True(t, unspecified.BMR < male.BMR)
	gt.True(t, unspecified.BMR > female.BMR)
}

func args(t *testing.T, request string) json.RawMessage {
	raw, err := json.Marshal(map[string]any{"meal_or_goal": request})
	gt.NoError(t, err)
	return raw
}

func TestAdviceRequiresProfile(t *testing.T) {
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
			t.Error("search must not run without a profile")
			return nil, nil
		},
	}

	_, err := diet.New(nil).Execute(context.Background(), args(t, "breakfast"), &tool.Env{Index: idx})
	gt.True(t, errors.Is(err, model.ErrProfileRequired))
}

func TestAdvice(t *testing.T) {
	ctx := context.Background()
	filter, err := policy.New(ctx)
	gt.NoError(t, err)

	var gotQuery string
	var gotK int
	idx := &mockIndex{
		searchFunc: func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
			gotQuery, gotK = query, k
			return []*model.ScoredRecord{
				{Record: &model.NutritionRecord{Name: "Chicken Breast", Category: "meat"}, Score: 0.9},
				{Record: &model.NutritionRecord{Name: "Oatmeal", Category: "grain"}, Score: 0.8},
				{Record: &model.NutritionRecord{Name: "Strawberry", Category: "fruit"}, Score: 0.7},
				{Record: &model.NutritionRecord{Name: "Broccoli", Category: "vegetable"}, Score: 0.6},
			}, nil
		},
	}

	p := testProfile()
	p.Preferences = []string{"vegetarian"}

	out, err := diet.New(filter, diet.WithTopK(2)).Execute(ctx, args(t, "low-calorie breakfast"), &tool.Env{Profile: p, Index: idx})
	gt.NoError(t, err)

	result := out.(*diet.Result)
	gt.S(t, gotQuery).Contains("low-calorie breakfast")
	gt.S(t, gotQuery).Contains(model.GoalLoseWeight.Spec().QueryHint)
	gt.Equal(t, gotK, 4)

	gt.Equal(t, result.Meal, "breakfast")
	gt.Equal(t, result.MealCalories, result.Targets.Meals["breakfast"])
	gt.A(t, result.Foods).Length(2)
	gt.Equal(t, result.Foods[0].Record.Name, "Oatmeal")
	gt.Equal(t, result.Foods[1].Record.Name, "Strawberry")
	gt.A(t, result.Excluded).Length(1)
	gt.Equal(t, result.Excluded[0].Food, "Chicken Breast")
}
