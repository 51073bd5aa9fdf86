// Package anthropic implements the Backend adapter for Claude models using
// the official Anthropic SDK.
package anthropic

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Backend talks to the Anthropic Messages API.
type Backend struct {
	client *anthropic.Client
	logger *slog.Logger

	// thinkingUnsupported latches after an unsupported-parameter rejection so
	// the downgrade happens at most once per backend instance.
	thinkingUnsupported atomic.Bool
}

// New creates an Anthropic backend with the given API key.
func New(apiKey string, logger *slog.Logger) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Backend{
		client: &client,
		logger: logger,
	}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this backend serves the given model.
// Anthropic models start with "claude-".
func (b *Backend) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}
