package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	chatModels "arbor/internal/domain/models/chat"
)

const (
	// fetchMaxBytes caps how much of a response body a fetch call returns.
	fetchMaxBytes = 1 << 20 // 1 MiB

	fetchTimeout = 30 * time.Second

	// fetchProgressChunk is how often (in bytes read) progress is reported.
	fetchProgressChunk = 64 << 10
)

// FetchTool downloads a URL and returns its body as text, reporting byte
// progress while the transfer runs.
type FetchTool struct {
	client *http.Client
}

// NewFetchTool creates the fetch tool with a bounded-timeout HTTP client.
func NewFetchTool() *FetchTool {
	return &FetchTool{
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// FetchDefinition describes the fetch tool to backends.
func FetchDefinition() chatModels.ToolDefinition {
	return chatModels.ToolDefinition{
		Name:        "fetch",
		Description: "Fetch the contents of a URL over HTTP GET and return the response body as text (truncated to 1 MiB).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute http(s) URL to fetch",
				},
			},
			"required": []string{"url"},
		},
	}
}

// Execute implements Handler.
func (t *FetchTool) Execute(ctx context.Context, args map[string]any, onProgress func(chatModels.ToolProgress)) (string, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return "", fmt.Errorf("missing required argument: url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	onProgress(chatModels.ToolProgress{Stage: "connecting", Message: url})

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	var totalBytes *int64
	if resp.ContentLength > 0 {
		total := resp.ContentLength
		totalBytes = &total
	}

	// Read in chunks so byte progress is visible for slow transfers.
	body := make([]byte, 0, 32<<10)
	buf := make([]byte, 16<<10)
	var received int64
	var lastReported int64

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
			received += int64(n)
			if received-lastReported >= fetchProgressChunk {
				lastReported = received
				rcv := received
				onProgress(chatModels.ToolProgress{
					Stage:         "downloading",
					ReceivedBytes: &rcv,
					TotalBytes:    totalBytes,
				})
			}
			if int64(len(body)) >= fetchMaxBytes {
				body = body[:fetchMaxBytes]
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", url, err)
		}
	}

	rcv := received
	onProgress(chatModels.ToolProgress{
		Stage:         "done",
		ReceivedBytes: &rcv,
		TotalBytes:    totalBytes,
	})

	return string(body), nil
}
