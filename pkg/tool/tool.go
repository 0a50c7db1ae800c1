package tool

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/model"
)

// Tool is a capability the model can route an utterance to
type Tool interface {
	// Name is the function name the model calls
	Name() model.ToolName

	// Description tells the model when to call the tool
	Description() string

	// Schema describes the arguments. Arguments are validated against it before Execute.
	Schema() *jsonschema.Schema

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Execute runs the tool. The returned value is marshaled to JSON for synthesis.
	Execute(ctx context.Context, args json.RawMessage, env *Env) (any, error)
}

// Env is the per-turn state shared with tools
type Env struct {
	UserID model.UserID
	// Profile is nil when the user has not set one up yet
	Profile  *model.Profile
	Index    interfaces.NutritionIndex
	Profiles interfaces.ProfileStore
}
