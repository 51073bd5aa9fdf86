package tools

import (
	"context"
	"fmt"
	"time"

	chatModels "arbor/internal/domain/models/chat"
)

// ClockTool reports the current time, optionally in a named IANA zone.
type ClockTool struct{}

// ClockDefinition describes the clock tool to backends.
func ClockDefinition() chatModels.ToolDefinition {
	return chatModels.ToolDefinition{
		Name:        "clock",
		Description: "Return the current date and time, optionally in a given IANA time zone.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA zone name, e.g. Europe/Berlin (default UTC)",
				},
			},
		},
	}
}

// Execute implements Handler.
func (t *ClockTool) Execute(ctx context.Context, args map[string]any, onProgress func(chatModels.ToolProgress)) (string, error) {
	loc := time.UTC
	if name, ok := args["timezone"].(string); ok && name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", name)
		}
		loc = l
	}
	return time.Now().In(loc).Format(time.RFC1123), nil
}
