package chat

import "fmt"

// RequestParams are the optional per-request generation knobs carried on a
// chat request. Nil pointers mean "backend default".
type RequestParams struct {
	Model          *string  `json:"model,omitempty"`
	Backend        *string  `json:"backend,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	System         *string  `json:"system,omitempty"`
	ThinkingBudget *int     `json:"thinking_budget,omitempty"`

	// Tools advertised to the backend for this run. Populated server-side
	// from the tool registry, never accepted from clients.
	Tools []ToolDefinition `json:"-"`
}

// ToolDefinition describes one tool to a backend: name, human description and
// a JSON-schema object for its arguments.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// GetMaxTokens returns the configured max tokens or the given default.
func (p *RequestParams) GetMaxTokens(def int) int {
	if p != nil && p.MaxTokens != nil && *p.MaxTokens > 0 {
		return *p.MaxTokens
	}
	return def
}

// ThinkingEnabled reports whether a reasoning budget was requested.
func (p *RequestParams) ThinkingEnabled() bool {
	return p != nil && p.ThinkingBudget != nil && *p.ThinkingBudget > 0
}

// Validate rejects out-of-range values before a run starts.
func (p *RequestParams) Validate() error {
	if p == nil {
		return nil
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if p.MaxTokens != nil && *p.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if p.ThinkingBudget != nil && *p.ThinkingBudget < 0 {
		return fmt.Errorf("thinking_budget must not be negative")
	}
	return nil
}
