package policy

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const denyQuery = "data.nutrition.deny"

// Exclusion explains why a record was removed
type Exclusion struct {
	Food   string `json:"food"`
	Reason string `json:"reason"`
}

// Filter removes records that conflict with a user's dietary restrictions
type Filter struct {
	query *rego.PreparedEvalQuery
}

type Option func(*config)

type config struct {
	policyDir string
}

// WithPolicyDir replaces the built-in policies with the .rego files in dir
func WithPolicyDir(dir string) Option {
	return func(c *config) {
		c.policyDir = dir
	}
}

func New(ctx context.Context, opts ...Option) (*Filter, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	modules, err := loadModules(cfg.policyDir)
	if err != nil {
		return nil, err
	}

	query, err := prepareQuery(ctx, modules, denyQuery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare restriction policy", goerr.V("dir", cfg.policyDir))
	}

	return &Filter{query: query}, nil
}

type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(pctx print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

type foodInput struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Apply returns the hits allowed by the policy, keeping their order, and the exclusions
func (f *Filter) Apply(ctx context.Context, preferences []string, hits []*model.ScoredRecord) ([]*model.ScoredRecord, []Exclusion, error) {
	if len(hits) == 0 || len(preferences) == 0 {
		return hits, nil, nil
	}

	foods := make([]foodInput, len(hits))
	for i, hit := range hits {
		foods[i] = foodInput{
			Key:      hit.Record.Key(),
			Name:     hit.Record.Name,
			Category: hit.Record.Category,
		}
	}

	input, err := toInput(map[string]any{
		"preferences": preferences,
		"foods":       foods,
	})
	if err != nil {
		return nil, nil, err
	}

	rs, err := f.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to evaluate restriction policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return hits, nil, nil
	}

	denied, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, nil, goerr.New("unexpected policy result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	excluded := make(map[int]bool, len(denied))
	var exclusions []Exclusion
	for _, d := range denied {
		entry, ok := d.(map[string]any)
		if !ok {
			return nil, nil, goerr.New("unexpected deny entry", goerr.V("entry", d))
		}
		idx, err := toIndex(entry["index"])
		if err != nil || idx < 0 || idx >= len(hits) {
			return nil, nil, goerr.New("deny entry has invalid index", goerr.V("entry", entry))
		}
		reason, _ := entry["reason"].(string)

		excluded[idx] = true
		exclusions = append(exclusions, Exclusion{Food: hits[idx].Record.Name, Reason: reason})
	}

	allowed := make([]*model.ScoredRecord, 0, len(hits)-len(excluded))
	for i, hit := range hits {
		if !excluded[i] {
			allowed = append(allowed, hit)
		}
	}

	logging.From(ctx).Debug("restriction policy applied", "input", len(hits), "allowed", len(allowed), "exclusions", exclusions)
	return allowed, exclusions, nil
}

// toInput round-trips through JSON so that Rego sees plain maps and slices
func toInput(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal policy input")
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal policy input")
	}
	return input, nil
}

func toIndex(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	default:
		return 0, goerr.New("unsupported index type", goerr.V("value", v))
	}
}
