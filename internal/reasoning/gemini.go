package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rahul/storescout/internal/observability"
	"google.golang.org/genai"
)

// Gemini serves requests through Google's Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *observability.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *observability.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	ex := observability.Exchange{
		Provider: "gemini",
		Model:    g.model,
		System:   req.System,
		Prompt:   req.Prompt,
		Images:   len(req.Images),
		Duration: time.Since(start),
	}
	if err != nil {
		ex.Error = errString(err)
		g.logger.LogExchange(req.Kind, req.SessionID, ex)
		return Response{}, fmt.Errorf("failed to generate content: %w", err)
	}

	out, err := fromGemini(resp)
	ex.Response = out.Text
	ex.StopReason = out.StopReason
	ex.Truncated = out.Truncated
	ex.Error = errString(err)
	g.logger.LogExchange(req.Kind, req.SessionID, ex)
	return out, err
}

func fromGemini(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{}, ErrEmptyResponse
	}
	reason := resp.Candidates[0].FinishReason
	return Response{
		Text:       strings.TrimSpace(resp.Text()),
		StopReason: string(reason),
		Truncated:  reason == genai.FinishReasonMaxTokens,
	}, nil
}
