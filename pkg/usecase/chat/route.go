package chat

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/route.md
var routePromptRaw string

var routePromptTmpl = template.Must(template.New("route").Parse(routePromptRaw))

// route asks the model which tools to call. A routing timeout yields no invocations.
func (a *Agent) route(ctx context.Context, profile *model.Profile, recent []*model.Turn, utterance string) ([]*model.ToolInvocation, []*model.RoutingFailure, error) {
	logger := logging.From(ctx)

	var buf bytes.Buffer
	if err := routePromptTmpl.Execute(&buf, map[string]any{
		"Profile":     profileSummary(profile),
		"ToolPrompts": a.registry.Prompts(ctx),
	}); err != nil {
		return nil, nil, goerr.Wrap(err, "failed to execute route prompt template")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buf.String(), ""),
		Tools:             a.registry.Specs(),
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		},
	}

	routeCtx, cancel := withTimeout(ctx, a.routingTimeout)
	defer cancel()

	resp, err := a.generate(routeCtx, buildContents(recent, utterance), config)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, goerr.Wrap(ctx.Err(), "turn canceled during routing")
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(routeCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("routing timed out, answering without tools", "timeout", a.routingTimeout)
			return nil, nil, nil
		}
		return nil, nil, goerr.Wrap(model.ErrModelUnavailable, "routing request failed", goerr.V("cause", err.Error()))
	}

	var invocations []*model.ToolInvocation
	var failures []*model.RoutingFailure
	for _, fc := range resp.FunctionCalls() {
		inv, err := a.registry.Resolve(fc.Name, fc.Args)
		if err != nil {
			logger.Warn("dropped tool call", "tool", fc.Name, "args", fc.Args, "error", err)
			failures = append(failures, &model.RoutingFailure{Name: fc.Name, Args: fc.Args, Reason: err.Error()})
			continue
		}
		invocations = append(invocations, inv)
	}

	logger.Debug("routing decided", "invocations", invocations, "failures", len(failures))
	return invocations, failures, nil
}

func buildContents(recent []*model.Turn, utterance string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(recent)+1)
	for _, turn := range recent {
		role := genai.Role(genai.RoleUser)
		if turn.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	return append(contents, genai.NewContentFromText(utterance, genai.RoleUser))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
