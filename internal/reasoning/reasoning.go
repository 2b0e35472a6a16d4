// Package reasoning wraps the multimodal text-generation providers used to
// turn captured evidence into commentary and reports.
package reasoning

import (
	"context"
	"errors"

	"github.com/rahul/storescout/internal/observability"
)

// ErrEmptyResponse is returned when a provider answers without any content.
var ErrEmptyResponse = errors.New("reasoning service returned no content")

// Request is one multimodal call: a system instruction, zero or more PNG
// images and a text prompt.
type Request struct {
	Kind      observability.EventType
	SessionID string
	System    string
	Images    [][]byte
	Prompt    string
	MaxTokens int
}

// Response is the raw text answer. Truncated is set when the provider
// stopped because it hit the output token bound.
type Response struct {
	Text       string
	StopReason string
	Truncated  bool
}

// Service performs reasoning calls. Implementations must be safe for
// concurrent use; commentary calls overlap each other.
type Service interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req Request) (Response, error)

func (f ServiceFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
