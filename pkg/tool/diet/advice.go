package diet

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/policy"
	"github.com/m-mizutani/nutriguide/pkg/tool"
)

const DefaultTopK = 5

type adviceInput struct {
	MealOrGoal string `json:"meal_or_goal"`
}

// Result is returned by diet_advice
type Result struct {
	Request string     `json:"request"`
	Goal    model.Goal `json:"goal"`
	Meal    string     `json:"meal,omitempty"`
	Targets *Targets   `json:"targets"`
	// MealCalories is the calorie budget of Meal when the request names one
	MealCalories float64               `json:"meal_calories_kcal,omitempty"`
	Preferences  []string              `json:"preferences,omitempty"`
	Foods        []*model.ScoredRecord `json:"foods"`
	Excluded     []policy.Exclusion    `json:"excluded,omitempty"`
}

// Advice grounds personalized diet recommendations on the profile and the nutrition index
type Advice struct {
	filter *policy.Filter
	topK   int
}

var _ tool.Tool = (*Advice)(nil)

type Option func(*Advice)

// WithTopK sets how many foods are recommended
func WithTopK(k int) Option {
	return func(x *Advice) {
		if k > 0 {
			x.topK = k
		}
	}
}

// New creates diet_advice. A nil filter disables restriction filtering.
func New(filter *policy.Filter, opts ...Option) *Advice {
	x := &Advice{filter: filter, topK: DefaultTopK}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Advice) Name() model.ToolName {
	return model.ToolDietAdvice
}

func (x *Advice) Description() string {
	return "Give personalized diet advice, meal suggestions and calorie or macro targets based on the user's stored profile (age, height, weight, goal, dietary preferences). Use for requests like \"what should I eat for breakfast\" or \"how much protein do I need\"."
}

func (x *Advice) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"meal_or_goal": {
				Type:        "string",
				Description: "The meal or dietary objective the user asks about, e.g. \"low-calorie breakfast\"",
			},
		},
		Required: []string{"meal_or_goal"},
	}
}

func (x *Advice) Prompt(ctx context.Context) string {
	return "diet_advice needs the user's profile. When it reports ProfileRequired, ask the user for age, height, weight and goal instead of guessing."
}

func (x *Advice) Execute(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
	var input adviceInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	request := strings.TrimSpace(input.MealOrGoal)
	if request == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "meal_or_goal is empty")
	}
	if env == nil || env.Profile == nil {
		return nil, goerr.Wrap(model.ErrProfileRequired, "diet advice needs a profile")
	}
	if env.Index == nil {
		return nil, goerr.New("nutrition index is not configured")
	}

	profile := env.Profile
	spec := profile.Goal.Spec()
	targets := ComputeTargets(profile)

	result := &Result{
		Request:     request,
		Goal:        profile.Goal,
		Targets:     targets,
		Preferences: profile.Preferences,
	}
	if meal := detectMeal(request); meal != "" {
		result.Meal = meal
		result.MealCalories = targets.Meals[meal]
	}

	// Over-fetch so that restriction filtering still leaves enough candidates
	query := strings.TrimSpace(spec.QueryHint + " " + request)
	hits, err := env.Index.Search(ctx, query, x.topK*2)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search foods", goerr.V("query", query))
	}

	if x.filter != nil {
		allowed, excluded, err := x.filter.Apply(ctx, profile.Preferences, hits)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to apply dietary restrictions")
		}
		hits = allowed
		result.Excluded = excluded
	}
	if len(hits) > x.topK {
		hits = hits[:x.topK]
	}
	result.Foods = hits

	return result, nil
}

func detectMeal(request string) string {
	lower := strings.ToLower(request)
	for _, m := range mealShares {
		if strings.Contains(lower, m.meal) {
			return m.meal
		}
	}
	return ""
}
