package chat

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"google.golang.org/genai"
)

const (
	compressionRatio = 0.7 // Compress first 70% by byte size
	summaryHeader    = "=== Previous Conversation Summary ===\n\n"
)

//go:embed prompt/summarize.md
var summarizePromptRaw string

// isTokenLimitError checks if the error is due to token limit exceeded
func isTokenLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return false
		}
		apiErr = *ptr
	}

	// Example: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

// generate calls the model. When the conversation exceeds the model's input limit, the older part of
// the history is summarized and the call is made once more. The last content is the current
// utterance and is never summarized.
func (a *Agent) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := a.gemini.GenerateContent(ctx, contents, config)
	if err == nil || !isTokenLimitError(err) || len(contents) < 2 {
		return resp, err
	}

	logger := logging.From(ctx)
	logger.Warn("conversation exceeds model input limit, compressing history", "contents", len(contents))

	history, utterance := contents[:len(contents)-1], contents[len(contents)-1]
	compressed, cerr := compressHistory(ctx, a.gemini, history)
	if cerr != nil {
		logger.Warn("failed to compress history", "error", cerr)
		return nil, err
	}

	return a.gemini.GenerateContent(ctx, append(compressed, utterance), config)
}

// contentSize calculates the byte size of a content by JSON marshaling
func contentSize(content *genai.Content) int {
	data, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(data)
}

// compressHistory replaces the oldest turns, about 70% of the history by bytes, with a model-written summary
func compressHistory(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) ([]*genai.Content, error) {
	if len(contents) == 0 {
		return nil, goerr.New("history is empty")
	}

	totalBytes := 0
	byteSizes := make([]int, len(contents))
	for i, content := range contents {
		size := contentSize(content)
		byteSizes[i] = size
		totalBytes += size
	}

	compressThreshold := int(float64(totalBytes) * compressionRatio)

	cumulativeBytes := 0
	compressIndex := 0
	for i, size := range byteSizes {
		cumulativeBytes += size
		if cumulativeBytes >= compressThreshold {
			compressIndex = i + 1
			break
		}
	}

	if compressIndex == 0 || compressIndex >= len(contents) {
		return nil, goerr.New("insufficient content to compress", goerr.V("contents", len(contents)))
	}

	toCompress := contents[:compressIndex]
	toKeep := contents[compressIndex:]

	summary, err := summarizeContents(ctx, gemini, toCompress)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize contents")
	}

	summaryContent := genai.NewContentFromText(summaryHeader+summary, genai.RoleUser)
	return append([]*genai.Content{summaryContent}, toKeep...), nil
}

// summarizeContents generates a summary of the given conversation contents
func summarizeContents(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) (string, error) {
	withPrompt := make([]*genai.Content, 0, len(contents)+1)
	withPrompt = append(withPrompt, contents...)
	withPrompt = append(withPrompt, genai.NewContentFromText(summarizePromptRaw, genai.RoleUser))

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You summarize conversations with a nutrition assistant.", ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	resp, err := gemini.GenerateContent(ctx, withPrompt, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}

	summary := strings.TrimSpace(responseText(resp))
	if summary == "" {
		return "", goerr.New("empty summary generated")
	}
	return summary, nil
}

// CompressHistoryForTest is a test helper that exposes compressHistory
func CompressHistoryForTest(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) ([]*genai.Content, error) {
	return compressHistory(ctx, gemini, contents)
}

// IsTokenLimitErrorForTest is a test helper that exposes isTokenLimitError
func IsTokenLimitErrorForTest(err error) bool {
	return isTokenLimitError(err)
}
