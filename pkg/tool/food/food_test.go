package food_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/tool"
	"github.com/m-mizutani/nutriguide/pkg/tool/food"
)

type mockIndex struct {
	searchFunc         func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error)
	lookupFunc         func(ctx context.Context, name string) (*model.NutritionRecord, error)
	categoriesFunc     func(ctx context.Context) ([]string, error)
	listByCategoryFunc func(ctx context.Context, category string) ([]*model.NutritionRecord, error)
}

func (m *mockIndex) Search(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
	return m.searchFunc(ctx, query, k)
}

func (m *mockIndex) Lookup(ctx context.Context, name string) (*model.NutritionRecord, error) {
	return m.lookupFunc(ctx, name)
}

func (m *mockIndex) Categories(ctx context.Context) ([]string, error) {
	return m.categoriesFunc(ctx)
}

func (m *mockIndex) ListByCategory(ctx context.Context, category string) ([]*model.NutritionRecord, error) {
	return m.listByCategoryFunc(ctx, category)
}

var chicken = &model.NutritionRecord{
	Name: "Chicken Breast", Category: "meat", ServingUnit: "100g",
	Calories: 165, Protein: 31, Fat: 3.6, Iron: 1.0,
}

func args(t *testing.T, v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	gt.NoError(t, err)
	return raw
}

func notFound(ctx context.Context, name string) (*model.NutritionRecord, error) {
	return nil, goerr.Wrap(model.ErrNoMatchFound, "not found")
}

func TestLookupExact(t *testing.T) {
	idx := &mockIndex{
		lookupFunc: func(ctx context.Context, name string) (*model.NutritionRecord, error) {
			gt.Equal(t, name, "chicken breast")
			return chicken, nil
		},
		searchFunc: func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
			t.Error("search must not be called on exact match")
			return nil, nil
		},
	}

	x := food.NewLookup()
	out, err := x.Execute(context.Background(), args(t, map[string]any{"food_query": " chicken breast "}), &tool.Env{Index: idx})
	gt.NoError(t, err)

	result := out.(*food.LookupResult)
	gt.Equal(t, result.Match, "exact")
	gt.A(t, result.Foods).Length(1)
	gt.Equal(t, result.Foods[0].Calories, 165.0)
	gt.Equal(t, result.Foods[0].Iron, 0.0)

	t.Run("detailed keeps micronutrients", func(t *testing.T) {
		out, err := x.Execute(context.Background(), args(t, map[string]any{"food_query": "chicken breast", "detailed": true}), &tool.Env{Index: idx})
		gt.NoError(t, err)
		gt.Equal(t, out.(*food.LookupResult).Foods[0].Iron, 1.0)
	})
}

func TestLookupSimilar(t *testing.T) {
	idx := &mockIndex{
		lookupFunc: notFound,
		searchFunc: func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
			gt.Equal(t, k, 2)
			return []*model.ScoredRecord{{Record: chicken, Score: 0.8}}, nil
		},
	}

	out, err := food.NewLookup(food.WithTopK(2)).Execute(context.Background(), args(t, map[string]any{"food_query": "grilled chicken"}), &tool.Env{Index: idx})
	gt.NoError(t, err)

	result := out.(*food.LookupResult)
	gt.Equal(t, result.Match, "similar")
	gt.Equal(t, result.Foods[0].Name, "Chicken Breast")
	gt.Equal(t, result.Foods[0].Score, 0.8)
}

func TestLookupNoMatch(t *testing.T) {
	idx := &mockIndex{
		lookupFunc: notFound,
		searchFunc: func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
			return nil, nil
		},
	}

	_, err := food.NewLookup().Execute(context.Background(), args(t, map[string]any{"food_query": "durian"}), &tool.Env{Index: idx})
	gt.True(t, errors.Is(err, model.ErrNoMatchFound))
}

func TestLookupTimeout(t *testing.T) {
	idx := &mockIndex{
		lookupFunc: notFound,
		searchFunc: func(ctx context.Context, query string, k int) ([]*model.ScoredRecord, error) {
			return nil, goerr.Wrap(model.ErrTimeout, "slow")
		},
	}

	_, err := food.NewLookup().Execute(context.Background(), args(t, map[string]any{"food_query": "apple"}), &tool.Env{Index: idx})
	gt.True(t, errors.Is(err, model.ErrTimeout))
}

func TestCategorySearch(t *testing.T) {
	idx := &mockIndex{
		listByCategoryFunc: func(ctx context.Context, category string) ([]*model.NutritionRecord, error) {
			if category == "meat" {
				return []*model.NutritionRecord{chicken}, nil
			}
			return nil, goerr.Wrap(model.ErrNoMatchFound, "no food in category")
		},
		categoriesFunc: func(ctx context.Context) ([]string, error) {
			return []string{"fruit", "meat"}, nil
		},
	}
	x := food.NewCategorySearch()

	out, err := x.Execute(context.Background(), args(t, map[string]any{"category": "Meat"}), &tool.Env{Index: idx})
	gt.NoError(t, err)
	result := out.(*food.CategoryResult)
	gt.Equal(t, result.Category, "meat")
	gt.A(t, result.Foods).Length(1)

	_, err = x.Execute(context.Background(), args(t, map[string]any{"category": "candy"}), &tool.Env{Index: idx})
	gt.True(t, errors.Is(err, model.ErrNoMatchFound))
	var gerr *goerr.Error
	gt.True(t, errors.As(err, &gerr))
	gt.Equal(t, gerr.Values()["known_categories"], any([]string{"fruit", "meat"}))
}
