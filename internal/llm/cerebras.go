package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const cerebrasBaseURL = "https://api.cerebras.ai/v1/"

// CerebrasClient talks to the OpenAI-compatible Cerebras endpoint. Depth is
// ignored; there is a single model.
type CerebrasClient struct {
	client   openai.Client
	apiKey   string
	Model    string
	Sampling Sampling
	now      func() time.Time
}

// NewCerebrasClient builds a client. opts are appended after the defaults, so
// tests can point it elsewhere with option.WithBaseURL.
func NewCerebrasClient(apiKey, model string, opts ...option.RequestOption) *CerebrasClient {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cerebrasBaseURL),
		option.WithRequestTimeout(15 * time.Second),
	}
	return &CerebrasClient{
		client:   openai.NewClient(append(base, opts...)...),
		apiKey:   apiKey,
		Model:    model,
		Sampling: DefaultSampling,
		now:      time.Now,
	}
}

func (c *CerebrasClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("cerebras api key missing")
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemInstruction(req, c.now())),
	}
	for _, t := range req.History {
		if t.Role == RoleModel {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	// Cerebras caps temperature lower than Gemini does.
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.Model),
		Messages:    messages,
		Temperature: openai.Float(min(c.Sampling.Temperature, 1.5)),
		TopP:        openai.Float(c.Sampling.TopP),
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("cerebras: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("cerebras: empty reply")
	}
	return answer, nil
}
