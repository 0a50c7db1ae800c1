package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/tool"
	"google.golang.org/genai"
)

type mockTool struct {
	name        model.ToolName
	executeFunc func(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error)
}

func (m *mockTool) Name() model.ToolName { return m.name }
func (m *mockTool) Description() string  { return "mock tool " + string(m.name) }
func (m *mockTool) Prompt(ctx context.Context) string {
	return "prompt of " + string(m.name)
}

func (m *mockTool) Schema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"text":  {Type: "string", Description: "some text"},
			"count": {Type: "integer"},
			"mode":  {Type: "string", Enum: []any{"fast", "slow"}},
		},
		Required: []string{"text"},
	}
}

func (m *mockTool) Execute(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
	return m.executeFunc(ctx, args, env)
}

func newRegistry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	r, err := tool.New(tools...)
	gt.NoError(t, err)
	return r
}

func TestRegistrySpecs(t *testing.T) {
	r := newRegistry(t, &mockTool{name: "alpha"}, &mockTool{name: "beta"})

	specs := r.Specs()
	gt.A(t, specs).Length(1)
	gt.A(t, specs[0].FunctionDeclarations).Length(2)

	fd := specs[0].FunctionDeclarations[0]
	gt.Equal(t, fd.Name, "alpha")
	gt.Equal(t, fd.Parameters.Type, genai.TypeObject)
	gt.Equal(t, fd.Parameters.Properties["count"].Type, genai.TypeInteger)
	gt.Equal(t, fd.Parameters.Properties["mode"].Enum, []string{"fast", "slow"})
	gt.Equal(t, fd.Parameters.Required, []string{"text"})

	gt.Equal(t, r.Names(), []model.ToolName{"alpha", "beta"})
	gt.S(t, r.Prompts(context.Background())).Contains("prompt of beta")
}

func TestRegistryDuplicate(t *testing.T) {
	_, err := tool.New(&mockTool{name: "alpha"}, &mockTool{name: "alpha"})
	gt.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	r := newRegistry(t, &mockTool{name: "alpha"})

	testCases := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr bool
	}{
		{name: "valid", tool: "alpha", args: map[string]any{"text": "hello", "count": 2.0}},
		{name: "valid enum", tool: "alpha", args: map[string]any{"text": "hello", "mode": "fast"}},
		{name: "unknown tool", tool: "order_pizza", args: map[string]any{"text": "x"}, wantErr: true},
		{name: "missing required", tool: "alpha", args: map[string]any{"count": 1.0}, wantErr: true},
		{name: "nil args", tool: "alpha", wantErr: true},
		{name: "wrong type", tool: "alpha", args: map[string]any{"text": 42.0}, wantErr: true},
		{name: "enum violation", tool: "alpha", args: map[string]any{"text": "x", "mode": "medium"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inv, err := r.Resolve(tc.tool, tc.args)
			if tc.wantErr {
				gt.Error(t, err)
				gt.True(t, errors.Is(err, model.ErrRoutingFailure))
				return
			}
			gt.NoError(t, err)
			gt.Equal(t, inv.Name, model.ToolName(tc.tool))
		})
	}
}

func TestRegistryExecute(t *testing.T) {
	ctx := context.Background()
	env := &tool.Env{UserID: "alice"}

	t.Run("ok", func(t *testing.T) {
		r := newRegistry(t, &mockTool{
			name: "alpha",
			executeFunc: func(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
				var input struct {
					Text string `json:"text"`
				}
				gt.NoError(t, json.Unmarshal(args, &input))
				gt.Equal(t, env.UserID, model.UserID("alice"))
				return map[string]string{"echo": input.Text}, nil
			},
		})

		result := r.Execute(ctx, &model.ToolInvocation{Name: "alpha", Args: map[string]any{"text": "hi"}}, env)
		gt.Equal(t, result.Status, model.ToolStatusOK)
		gt.Equal(t, result.Data, any(map[string]string{"echo": "hi"}))
	})

	t.Run("soft failure", func(t *testing.T) {
		r := newRegistry(t, &mockTool{
			name: "alpha",
			executeFunc: func(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
				return nil, goerr.Wrap(model.ErrNoMatchFound, "nothing", goerr.V("query", "durian"))
			},
		})

		result := r.Execute(ctx, &model.ToolInvocation{Name: "alpha", Args: map[string]any{"text": "durian"}}, env)
		gt.Equal(t, result.Status, model.ToolStatusSoftFailure)
		gt.Equal(t, result.ErrorCode, "NoMatchFound")
	})

	t.Run("hard failure", func(t *testing.T) {
		r := newRegistry(t, &mockTool{
			name: "alpha",
			executeFunc: func(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
				return nil, goerr.New("disk on fire")
			},
		})

		result := r.Execute(ctx, &model.ToolInvocation{Name: "alpha", Args: map[string]any{"text": "x"}}, env)
		gt.Equal(t, result.Status, model.ToolStatusError)
		gt.Equal(t, result.ErrorCode, "Internal")
	})

	t.Run("panic is contained", func(t *testing.T) {
		r := newRegistry(t, &mockTool{
			name: "alpha",
			executeFunc: func(ctx context.Context, args json.RawMessage, env *tool.Env) (any, error) {
				panic("boom")
			},
		})

		result := r.Execute(ctx, &model.ToolInvocation{Name: "alpha", Args: map[string]any{"text": "x"}}, env)
		gt.Equal(t, result.Status, model.ToolStatusError)
		gt.S(t, result.Message).Contains("panicked")
	})
}

func TestConvertSchema(t *testing.T) {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"tags": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
	converted, err := tool.ConvertSchemaForTest(schema)
	gt.NoError(t, err)
	gt.Equal(t, converted.Properties["tags"].Type, genai.TypeArray)
	gt.Equal(t, converted.Properties["tags"].Items.Type, genai.TypeString)

	_, err = tool.ConvertSchemaForTest(&jsonschema.Schema{Type: "tuple"})
	gt.Error(t, err)
}
