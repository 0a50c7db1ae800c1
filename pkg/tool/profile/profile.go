package profile

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/tool"
)

type updateInput struct {
	Age           *int                 `json:"age"`
	HeightCM      *float64             `json:"height_cm"`
	WeightKG      *float64             `json:"weight_kg"`
	Goal          *model.Goal          `json:"goal"`
	Sex           *model.Sex           `json:"sex"`
	ActivityLevel *model.ActivityLevel `json:"activity_level"`
	Preferences   []string             `json:"preferences"`
}

// Update lets the user change their profile in conversation
type Update struct{}

var _ tool.Tool = (*Update)(nil)

func New() *Update {
	return &Update{}
}

func (x *Update) Name() model.ToolName {
	return model.ToolUpdateProfile
}

func (x *Update) Description() string {
	return "Save profile facts the user states about themselves (age, height, weight, goal, sex, activity level, dietary preferences). Only include fields the user explicitly gave. Preferences replace the stored list."
}

func (x *Update) Schema() *jsonschema.Schema {
	goals := make([]any, 0)
	for _, g := range model.Goals() {
		goals = append(goals, string(g))
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"age": {
				Type:        "integer",
				Description: "Age in years",
			},
			"height_cm": {
				Type:        "number",
				Description: "Height in centimeters",
			},
			"weight_kg": {
				Type:        "number",
				Description: "Weight in kilograms",
			},
			"goal": {
				Type:        "string",
				Description: "Dietary goal",
				Enum:        goals,
			},
			"sex": {
				Type: "string",
				Enum: []any{string(model.SexMale), string(model.SexFemale), string(model.SexUnspecified)},
			},
			"activity_level": {
				Type: "string",
				Enum: []any{string(model.ActivitySedentary), string(model.ActivityLight), string(model.ActivityModerate), string(model.ActivityActive)},
			},
			"preferences": {
				Type:        "array",
				Description: "Dietary restrictions and likes, e.g. vegetarian, gluten-free, \"no beef\"",
				Items:       &jsonschema.Schema{Type: "string"},
			},
		},
	}
}

func (x *Update) Prompt(ctx context.Context) string {
	return ""
}

func (x *Update) Execute(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
	var input updateInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if env == nil || env.Profiles == nil {
		return nil, goerr.New("profile store is not configured")
	}

	update := model.ProfileUpdate{
		Age:           input.Age,
		HeightCM:      input.HeightCM,
		WeightKG:      input.WeightKG,
		Goal:          input.Goal,
		Sex:           input.Sex,
		ActivityLevel: input.ActivityLevel,
		Preferences:   input.Preferences,
	}
	if update.IsEmpty() {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "no profile field given")
	}

	profile, err := env.Profiles.Upsert(ctx, env.UserID, update)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update profile", goerr.V("user_id", env.UserID))
	}
	env.Profile = profile

	return profile, nil
}
