package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"google.golang.org/genai"
)

type entry struct {
	tool     Tool
	resolved *jsonschema.Resolved
}

// Registry holds the fixed tool set of the agent
type Registry struct {
	entries map[model.ToolName]*entry
	order   []model.ToolName
	spec    *genai.Tool
}

// New creates a registry. Tool names must be unique and schemas must compile.
func New(tools ...Tool) (*Registry, error) {
	r := &Registry{
		entries: make(map[model.ToolName]*entry, len(tools)),
		spec:    &genai.Tool{},
	}

	for _, t := range tools {
		name := t.Name()
		if _, dup := r.entries[name]; dup {
			return nil, goerr.New("duplicate tool name", goerr.V("name", name))
		}

		schema := t.Schema()
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resolve tool schema", goerr.V("name", name))
		}
		params, err := convertSchema(schema)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert tool schema", goerr.V("name", name))
		}

		r.entries[name] = &entry{tool: t, resolved: resolved}
		r.order = append(r.order, name)
		r.spec.FunctionDeclarations = append(r.spec.FunctionDeclarations, &genai.FunctionDeclaration{
			Name:        string(name),
			Description: t.Description(),
			Parameters:  params,
		})
	}

	return r, nil
}

// Specs returns the tool specification for Gemini function calling
func (r *Registry) Specs() []*genai.Tool {
	if len(r.order) == 0 {
		return nil
	}
	return []*genai.Tool{r.spec}
}

// Names returns tool names in registration order
func (r *Registry) Names() []model.ToolName {
	return append([]model.ToolName(nil), r.order...)
}

// Prompts returns all tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, name := range r.order {
		if prompt := r.entries[name].tool.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Resolve validates a function call from the model. Unknown names and arguments violating the
// schema are routing failures.
func (r *Registry) Resolve(name string, args map[string]any) (*model.ToolInvocation, error) {
	e, ok := r.entries[model.ToolName(name)]
	if !ok {
		return nil, goerr.Wrap(model.ErrRoutingFailure, "unknown tool", goerr.V("name", name))
	}

	if args == nil {
		args = map[string]any{}
	}
	instance, err := normalizeArgs(args)
	if err != nil {
		return nil, goerr.Wrap(model.ErrRoutingFailure, "arguments are not JSON", goerr.V("name", name), goerr.V("cause", err.Error()))
	}
	if err := e.resolved.Validate(instance); err != nil {
		return nil, goerr.Wrap(model.ErrRoutingFailure, "arguments violate tool schema",
			goerr.V("name", name), goerr.V("cause", err.Error()))
	}

	return &model.ToolInvocation{Name: model.ToolName(name), Args: args}, nil
}

// normalizeArgs round-trips args through JSON so that validation sees JSON value types
func normalizeArgs(args map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Execute runs a resolved invocation. Failures are reported in the result, never returned.
func (r *Registry) Execute(ctx context.Context, inv *model.ToolInvocation, env *Env) (result *model.ToolResult) {
	result = &model.ToolResult{Name: inv.Name, Args: inv.Args}
	logger := logging.From(ctx).With("tool", inv.Name)

	e, ok := r.entries[inv.Name]
	if !ok {
		err := goerr.Wrap(model.ErrRoutingFailure, "unknown tool", goerr.V("name", inv.Name))
		return failed(result, err)
	}

	defer func() {
		if p := recover(); p != nil {
			err := goerr.New("tool panicked", goerr.V("panic", fmt.Sprint(p)))
			logger.Error("tool panicked", "error", err)
			result = failed(&model.ToolResult{Name: inv.Name, Args: inv.Args}, err)
		}
	}()

	raw, err := json.Marshal(inv.Args)
	if err != nil {
		return failed(result, goerr.Wrap(err, "failed to marshal tool arguments"))
	}

	logger.Debug("executing tool", "args", inv.Args)
	data, err := e.tool.Execute(ctx, raw, env)
	if err != nil {
		if model.IsSoftFailure(err) {
			logger.Info("tool soft failure", "error", err)
		} else {
			logger.Error("tool failed", "error", err)
		}
		return failed(result, err)
	}

	result.Status = model.ToolStatusOK
	result.Data = data
	return result
}

func failed(result *model.ToolResult, err error) *model.ToolResult {
	result.Status = model.ToolStatusError
	if model.IsSoftFailure(err) {
		result.Status = model.ToolStatusSoftFailure
	}
	result.ErrorCode = model.ErrorCode(err)
	result.Message = err.Error()

	var gerr *goerr.Error
	if errors.As(err, &gerr) {
		if values := gerr.Values(); len(values) > 0 {
			result.Data = values
		}
	}
	return result
}
