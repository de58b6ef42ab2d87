package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig selects models per depth.
type GeminiConfig struct {
	APIKey         string
	FastModel      string // default gemini-flash-lite-latest
	DeepModel      string // default gemini-3-pro-preview
	ThinkingBudget int32  // deep only, default 32768
	BaseURL        string // override for tests
	Sampling       Sampling
}

// GeminiClient calls the Gemini API through genai.
type GeminiClient struct {
	cfg    GeminiConfig
	client *genai.Client
	now    func() time.Time
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key missing")
	}
	if cfg.FastModel == "" {
		cfg.FastModel = "gemini-flash-lite-latest"
	}
	if cfg.DeepModel == "" {
		cfg.DeepModel = "gemini-3-pro-preview"
	}
	if cfg.ThinkingBudget == 0 {
		cfg.ThinkingBudget = 32768
	}
	if cfg.Sampling == (Sampling{}) {
		cfg.Sampling = DefaultSampling
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &GeminiClient{cfg: cfg, client: client, now: time.Now}, nil
}

func (g *GeminiClient) model(d Depth) string {
	if d == Deep {
		return g.cfg.DeepModel
	}
	return g.cfg.FastModel
}

func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	s := g.cfg.Sampling
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemInstruction(req, g.now()), genai.RoleUser),
		Temperature:       genai.Ptr(float32(s.Temperature)),
		TopK:              genai.Ptr(float32(s.TopK)),
		TopP:              genai.Ptr(float32(s.TopP)),
	}
	if req.Depth == Deep {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(g.cfg.ThinkingBudget)}
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	resp, err := g.client.Models.GenerateContent(ctx, g.model(req.Depth), contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: empty reply")
	}
	return text, nil
}
