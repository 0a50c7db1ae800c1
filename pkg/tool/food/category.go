package food

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/tool"
)

type categoryInput struct {
	Category string `json:"category"`
}

// CategoryResult is returned by category_search
type CategoryResult struct {
	Category string                   `json:"category"`
	Foods    []*model.NutritionRecord `json:"foods"`
}

// CategorySearch lists the foods of a category such as fruit or vegetable
type CategorySearch struct{}

var _ tool.Tool = (*CategorySearch)(nil)

func NewCategorySearch() *CategorySearch {
	return &CategorySearch{}
}

func (x *CategorySearch) Name() model.ToolName {
	return model.ToolCategorySearch
}

func (x *CategorySearch) Description() string {
	return "List foods of a food category (for example fruit, vegetable, meat, grain, dairy) with their main nutrients. Use when the user asks which foods belong to a group."
}

func (x *CategorySearch) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"category": {
				Type:        "string",
				Description: "Food category name in English, singular",
			},
		},
		Required: []string{"category"},
	}
}

func (x *CategorySearch) Prompt(ctx context.Context) string {
	return ""
}

func (x *CategorySearch) Execute(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
	var input categoryInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "category is empty")
	}
	if env == nil || env.Index == nil {
		return nil, goerr.New("nutrition index is not configured")
	}

	records, err := env.Index.ListByCategory(ctx, category)
	if err != nil {
		if errors.Is(err, model.ErrNoMatchFound) {
			known, cerr := env.Index.Categories(ctx)
			if cerr != nil {
				return nil, goerr.Wrap(cerr, "failed to list categories")
			}
			return nil, goerr.Wrap(err, "unknown category", goerr.V("known_categories", known))
		}
		return nil, goerr.Wrap(err, "failed to list category", goerr.V("category", category))
	}

	result := &CategoryResult{Category: category}
	for _, rec := range records {
		result.Foods = append(result.Foods, view(rec, false))
	}
	return result, nil
}
