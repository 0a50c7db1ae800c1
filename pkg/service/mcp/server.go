package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/usecase/chat"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolSendTurn      = "send_turn"
	ToolUpdateProfile = "update_profile"
)

// Agent is the conversation surface exposed to MCP clients
type Agent interface {
	SendTurnDetail(ctx context.Context, userID model.UserID, text string) (*chat.TurnResult, error)
	UpdateProfile(ctx context.Context, userID model.UserID, update model.ProfileUpdate) error
}

type sendTurnParams struct {
	UserID  string `json:"user_id" jsonschema:"Identifier of the user who is talking"`
	Text    string `json:"text" jsonschema:"The user's message"`
	Verbose bool   `json:"verbose,omitempty" jsonschema:"Also return the tool results behind the reply"`
}

type updateProfileParams struct {
	UserID        string   `json:"user_id" jsonschema:"Identifier of the user"`
	Age           *int     `json:"age,omitempty" jsonschema:"Age in years"`
	HeightCM      *float64 `json:"height_cm,omitempty" jsonschema:"Height in centimeters"`
	WeightKG      *float64 `json:"weight_kg,omitempty" jsonschema:"Weight in kilograms"`
	Goal          *string  `json:"goal,omitempty" jsonschema:"Health goal such as lose-weight or gain-muscle"`
	Sex           *string  `json:"sex,omitempty" jsonschema:"male, female or unspecified"`
	ActivityLevel *string  `json:"activity_level,omitempty" jsonschema:"sedentary, light, moderate or active"`
	Preferences   []string `json:"preferences,omitempty" jsonschema:"Dietary preferences and restrictions; replaces the stored list"`
}

func (p *updateProfileParams) update() model.ProfileUpdate {
	u := model.ProfileUpdate{
		Age:         p.Age,
		HeightCM:    p.HeightCM,
		WeightKG:    p.WeightKG,
		Preferences: p.Preferences,
	}
	if p.Goal != nil {
		g := model.Goal(*p.Goal)
		u.Goal = &g
	}
	if p.Sex != nil {
		s := model.Sex(*p.Sex)
		u.Sex = &s
	}
	if p.ActivityLevel != nil {
		a := model.ActivityLevel(*p.ActivityLevel)
		u.ActivityLevel = &a
	}
	return u
}

// NewServer builds an MCP server with send_turn and update_profile backed by agent
func NewServer(agent Agent, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "nutriguide",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSendTurn,
		Description: "Send a message to the nutrition assistant and receive its reply. The conversation of each user_id is remembered.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *sendTurnParams) (*mcp.CallToolResult, any, error) {
		ctx = logging.With(ctx, logging.From(ctx).With("user_id", params.UserID, "tool", ToolSendTurn))

		result, err := agent.SendTurnDetail(ctx, model.UserID(params.UserID), params.Text)
		if err != nil {
			return errorResult(ctx, err), nil, nil
		}
		if !params.Verbose {
			return textResult(result.Reply), nil, nil
		}

		raw, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to marshal turn result")
		}
		return textResult(string(raw)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolUpdateProfile,
		Description: "Create or update the health profile of a user. Omitted fields are left unchanged.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *updateProfileParams) (*mcp.CallToolResult, any, error) {
		ctx = logging.With(ctx, logging.From(ctx).With("user_id", params.UserID, "tool", ToolUpdateProfile))

		if err := agent.UpdateProfile(ctx, model.UserID(params.UserID), params.update()); err != nil {
			return errorResult(ctx, err), nil, nil
		}
		return textResult("ok"), nil, nil
	})

	return server
}

// NewHTTPHandler serves server over the streamable HTTP transport
func NewHTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server
	}, nil)
}

// Serve runs server on stdin/stdout until ctx is canceled or the client disconnects
func Serve(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "failed to run MCP server")
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult reports a failure to the client as a tool error. The taxonomy code leads the message.
func errorResult(ctx context.Context, err error) *mcp.CallToolResult {
	logging.From(ctx).Warn("tool call failed", "error", err)
	result := textResult(model.ErrorCode(err) + ": " + err.Error())
	result.IsError = true
	return result
}
