package chat

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"google.golang.org/genai"
)

//go:embed prompt/synthesize.md
var synthesizePromptRaw string

var synthesizePromptTmpl = template.Must(template.New("synthesize").Parse(synthesizePromptRaw))

// synthesize writes the reply from the tool results. Any failure here fails the turn.
func (a *Agent) synthesize(ctx context.Context, profile *model.Profile, recent []*model.Turn, utterance string, results []*model.ToolResult, failures []*model.RoutingFailure) (string, error) {
	data := map[string]any{
		"Profile": profileSummary(profile),
	}
	if len(results) > 0 {
		raw, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal tool results")
		}
		data["Results"] = string(raw)
	}
	if len(failures) > 0 {
		raw, err := json.MarshalIndent(failures, "", "  ")
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal routing failures")
		}
		data["Failures"] = string(raw)
	}

	var buf bytes.Buffer
	if err := synthesizePromptTmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to execute synthesize prompt template")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buf.String(), ""),
	}

	synthCtx, cancel := withTimeout(ctx, a.synthesisTimeout)
	defer cancel()

	resp, err := a.generate(synthCtx, buildContents(recent, utterance), config)
	if err != nil {
		if ctx.Err() != nil {
			return "", goerr.Wrap(ctx.Err(), "turn canceled during synthesis")
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(synthCtx.Err(), context.DeadlineExceeded) {
			return "", goerr.Wrap(model.ErrTimeout, "synthesis timed out", goerr.V("timeout", a.synthesisTimeout))
		}
		return "", goerr.Wrap(model.ErrModelUnavailable, "synthesis request failed", goerr.V("cause", err.Error()))
	}

	reply := strings.TrimSpace(responseText(resp))
	if reply == "" {
		return "", goerr.Wrap(model.ErrModelUnavailable, "synthesis returned no text")
	}
	return reply, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "")
}

// profileSummary renders the profile for prompts; nil yields an empty string
func profileSummary(p *model.Profile) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "- age: %d\n", p.Age)
	fmt.Fprintf(&b, "- height: %g cm\n", p.HeightCM)
	fmt.Fprintf(&b, "- weight: %g kg\n", p.WeightKG)
	fmt.Fprintf(&b, "- goal: %s\n", p.Goal)
	fmt.Fprintf(&b, "- sex: %s\n", p.Sex)
	fmt.Fprintf(&b, "- activity level: %s\n", p.ActivityLevel)
	if len(p.Preferences) > 0 {
		fmt.Fprintf(&b, "- preferences: %s\n", strings.Join(p.Preferences, ", "))
	} else {
		b.WriteString("- preferences: none\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
