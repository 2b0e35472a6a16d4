package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rahul/storescout/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// truncationReasons are the stop reasons providers report when the output
// token bound cut the answer short.
var truncationReasons = map[string]bool{
	"length":     true,
	"max_tokens": true,
	"MAX_TOKENS": true,
}

// LangChain serves requests through any langchaingo model.
type LangChain struct {
	Model     llms.Model
	Provider  string
	ModelName string
	logger    *observability.Logger
}

func NewLangChain(model llms.Model, provider, modelName string, logger *observability.Logger) *LangChain {
	return &LangChain{Model: model, Provider: provider, ModelName: modelName, logger: logger}
}

// NewOpenAI builds an OpenAI-compatible model. baseURL may point at any
// compatible gateway such as OpenRouter.
func NewOpenAI(token, model, baseURL string) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return llm, nil
}

func (l *LangChain) Generate(ctx context.Context, req Request) (Response, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.System)},
		})
	}

	parts := make([]llms.ContentPart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, llms.BinaryPart("image/png", img))
	}
	parts = append(parts, llms.TextPart(req.Prompt))
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: parts,
	})

	var opts []llms.CallOption
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	resp, err := l.Model.GenerateContent(ctx, messages, opts...)
	ex := observability.Exchange{
		Provider: l.Provider,
		Model:    l.ModelName,
		System:   req.System,
		Prompt:   req.Prompt,
		Images:   len(req.Images),
		Duration: time.Since(start),
	}
	if err != nil {
		ex.Error = errString(err)
		l.logger.LogExchange(req.Kind, req.SessionID, ex)
		return Response{}, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		ex.Error = ErrEmptyResponse.Error()
		l.logger.LogExchange(req.Kind, req.SessionID, ex)
		return Response{}, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	out := Response{
		Text:       strings.TrimSpace(choice.Content),
		StopReason: choice.StopReason,
		Truncated:  truncationReasons[choice.StopReason],
	}
	ex.Response = out.Text
	ex.StopReason = out.StopReason
	ex.Truncated = out.Truncated
	l.logger.LogExchange(req.Kind, req.SessionID, ex)
	return out, nil
}
