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

const DefaultTopK = 3

type lookupInput struct {
	FoodQuery string `json:"food_query"`
	Detailed  bool   `json:"detailed"`
}

// Fact is one food in a lookup result
type Fact struct {
	*model.NutritionRecord
	Score float64 `json:"score"`
}

// LookupResult is returned by food_lookup
type LookupResult struct {
	Query string `json:"query"`
	// Match is "exact" when the name matched a record, "similar" for similarity hits
	Match string  `json:"match"`
	Foods []*Fact `json:"foods"`
}

// Lookup answers questions about the nutrients of a specific food
type Lookup struct {
	topK int
}

var _ tool.Tool = (*Lookup)(nil)

type Option func(*options)

type options struct {
	topK int
}

// WithTopK sets how many similar foods are returned when there is no exact match
func WithTopK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.topK = k
		}
	}
}

func newOptions(opts []Option) options {
	o := options{topK: DefaultTopK}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewLookup(opts ...Option) *Lookup {
	o := newOptions(opts)
	return &Lookup{topK: o.topK}
}

func (x *Lookup) Name() model.ToolName {
	return model.ToolFoodLookup
}

func (x *Lookup) Description() string {
	return "Look up nutrient facts (calories, protein, fat, carbohydrate, fiber, vitamins, minerals) of a specific food. Use when the user names a food and asks about its nutrition."
}

func (x *Lookup) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"food_query": {
				Type:        "string",
				Description: "Food name or short description, e.g. \"chicken breast\"",
			},
			"detailed": {
				Type:        "boolean",
				Description: "Include fiber, vitamin and mineral values (default: false)",
			},
		},
		Required: []string{"food_query"},
	}
}

func (x *Lookup) Prompt(ctx context.Context) string {
	return ""
}

func (x *Lookup) Execute(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
	var input lookupInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	query := strings.TrimSpace(input.FoodQuery)
	if query == "" {
		return nil, goerr.Wrap(model.ErrInvalidQuery, "food_query is empty")
	}
	if env == nil || env.Index == nil {
		return nil, goerr.New("nutrition index is not configured")
	}

	rec, err := env.Index.Lookup(ctx, query)
	switch {
	case err == nil:
		return &LookupResult{
			Query: query,
			Match: "exact",
			Foods: []*Fact{{NutritionRecord: view(rec, input.Detailed), Score: 1}},
		}, nil
	case errors.Is(err, model.ErrNoMatchFound):
	default:
		return nil, goerr.Wrap(err, "failed to look up food", goerr.V("query", query))
	}

	hits, err := env.Index.Search(ctx, query, x.topK)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search food", goerr.V("query", query))
	}
	if len(hits) == 0 {
		return nil, goerr.Wrap(model.ErrNoMatchFound, "no food matches the query", goerr.V("query", query))
	}

	result := &LookupResult{Query: query, Match: "similar"}
	for _, hit := range hits {
		result.Foods = append(result.Foods, &Fact{NutritionRecord: view(hit.Record, input.Detailed), Score: hit.Score})
	}
	return result, nil
}

// view drops micronutrients unless detailed output was requested
func view(rec *model.NutritionRecord, detailed bool) *model.NutritionRecord {
	if detailed {
		return rec
	}
	return &model.NutritionRecord{
		Name:         rec.Name,
		Category:     rec.Category,
		ServingUnit:  rec.ServingUnit,
		Calories:     rec.Calories,
		Protein:      rec.Protein,
		Fat:          rec.Fat,
		Carbohydrate: rec.Carbohydrate,
	}
}
