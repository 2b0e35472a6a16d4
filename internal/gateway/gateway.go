// Package gateway exposes audit sessions over HTTP, chat bots and the
// terminal.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rahul/storescout/internal/governance"
	"github.com/rahul/storescout/internal/session"
	"github.com/rahul/storescout/internal/storefront"
)

// Messenger defines the interface for chat gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop and blocks until ctx ends
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// SendImage sends a PNG with a caption
	SendImage(chatID string, png []byte, caption string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Auditor runs one session. *session.Coordinator satisfies it.
type Auditor interface {
	Run(ctx context.Context, storeURL string, sink session.Sink) (session.Summary, error)
}

// Validator is satisfied by *storefront.Validator.
type Validator interface {
	Validate(ctx context.Context, raw string) (storefront.Validation, error)
}

// ErrDenied is returned by Admit when policy rejects a store.
var ErrDenied = errors.New("store is not allowed")

// Admission runs the checks every surface performs before a session starts.
type Admission struct {
	Validator Validator
	Policy    governance.PolicyEngine
}

// Admit validates raw as a storefront and evaluates it against the policy.
// The returned error is safe to show to users.
func (a Admission) Admit(ctx context.Context, raw, source, chatID string) (storefront.Validation, error) {
	if a.Validator == nil {
		norm, err := storefront.Normalize(raw)
		if err != nil {
			return storefront.Validation{}, err
		}
		return a.evaluate(ctx, storefront.Validation{URL: norm, IsStorefront: true}, source, chatID)
	}

	v, err := a.Validator.Validate(ctx, raw)
	if err != nil {
		return v, err
	}
	return a.evaluate(ctx, v, source, chatID)
}

func (a Admission) evaluate(ctx context.Context, v storefront.Validation, source, chatID string) (storefront.Validation, error) {
	if a.Policy == nil {
		return v, nil
	}
	res, err := a.Policy.Evaluate(ctx, governance.Request{URL: v.URL, Source: source, ChatID: chatID})
	if err != nil {
		return v, fmt.Errorf("%w: %v", storefront.ErrInvalidURL, err)
	}
	if !res.Allowed() {
		return v, fmt.Errorf("%w: %s", ErrDenied, res.Reason)
	}
	return v, nil
}
