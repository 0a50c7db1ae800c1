package qa

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/tool"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
)

const (
	DefaultTopK = 3

	// NoGrounding tells synthesis to answer from general knowledge
	NoGrounding = "no grounding found"
)

type qaInput struct {
	Question string `json:"question"`
}

// Result is returned by nutrition_qa
type Result struct {
	Question  string                `json:"question"`
	Grounding []*model.ScoredRecord `json:"grounding,omitempty"`
	Note      string                `json:"note,omitempty"`
}

// QA retrieves grounding records for general nutrition questions. It never fails on retrieval;
// without grounding the answer falls back to general knowledge.
type QA struct {
	topK int
}

var _ tool.Tool = (*QA)(nil)

type Option func(*QA)

func WithTopK(k int) Option {
	return func(x *QA) {
		if k > 0 {
			x.topK = k
		}
	}
}

func New(opts ...Option) *QA {
	x := &QA{topK: DefaultTopK}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *QA) Name() model.ToolName {
	return model.ToolNutritionQA
}

func (x *QA) Description() string {
	return "Answer general nutrition knowledge questions (nutrients, their roles, common myths, healthy eating principles). Use when the question is not about the user's own profile or a single named food."
}

func (x *QA) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"question": {
				Type:        "string",
				Description: "The nutrition question in the user's words",
			},
		},
		Required: []string{"question"},
	}
}

func (x *QA) Prompt(ctx context.Context) string {
	return "When nutrition_qa reports \"" + NoGrounding + "\", answer from general nutrition knowledge and say that no matching food data was found."
}

func (x *QA) Execute(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
	var input qaInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	question := strings.TrimSpace(input.Question)
	result := &Result{Question: question}

	if question == "" || env == nil || env.Index == nil {
		result.Note = NoGrounding
		return result, nil
	}

	hits, err := env.Index.Search(ctx, question, x.topK)
	if err != nil {
		logging.From(ctx).Warn("grounding search failed", "error", err, "question", question)
		result.Note = NoGrounding
		return result, nil
	}
	if len(hits) == 0 {
		result.Note = NoGrounding
		return result, nil
	}

	result.Grounding = hits
	return result, nil
}
