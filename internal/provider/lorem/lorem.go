// Package lorem implements a development Backend that streams generated
// placeholder text with realistic pacing. It needs no credentials and is the
// default in local environments.
package lorem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	golorem "github.com/bozaro/golorem"

	chatModels "arbor/internal/domain/models/chat"
	chatSvc "arbor/internal/domain/services/chat"
)

const paragraphCount = 2

// streamDelay varies pacing by model so frontends can exercise slow and fast
// streams: lorem-slow 2 words/s, lorem-fast 30 words/s, default 10 words/s.
func streamDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// Backend streams lorem ipsum word by word.
type Backend struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Backend {
	return &Backend{logger: logger}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return "lorem"
}

// SupportsModel returns true if this backend serves the given model.
func (b *Backend) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem")
}

// ConvertMessages keeps only the text; the generated reply ignores it anyway.
func (b *Backend) ConvertMessages(history []*chatModels.MessageNode) ([]chatSvc.ProviderMessage, error) {
	result := make([]chatSvc.ProviderMessage, 0, len(history))
	for _, node := range history {
		result = append(result, node.ContentText())
	}
	return result, nil
}

// Run streams paragraphs of placeholder text. When a reasoning budget is
// requested a short thinking preamble streams first, so clients can exercise
// the full event surface offline.
func (b *Backend) Run(
	ctx context.Context,
	messages []chatSvc.ProviderMessage,
	params *chatModels.RequestParams,
) (<-chan chatSvc.BackendEvent, error) {
	eventChan := make(chan chatSvc.BackendEvent, 10)

	model := "lorem"
	if params.Model != nil && *params.Model != "" {
		model = *params.Model
	}
	delay := streamDelay(model)

	go func() {
		defer close(eventChan)

		gen := golorem.New()

		if params.ThinkingEnabled() {
			if err := b.streamWords(ctx, eventChan, chatModels.EventThinking, gen.Sentence(8, 16), delay); err != nil {
				eventChan <- chatSvc.BackendEvent{Err: err}
				return
			}
		}

		words := 0
		for i := 0; i < paragraphCount; i++ {
			text := gen.Paragraph(2, 4)
			if i > 0 {
				text = "\n\n" + text
			}
			words += len(strings.Fields(text))
			if err := b.streamWords(ctx, eventChan, chatModels.EventContent, text, delay); err != nil {
				eventChan <- chatSvc.BackendEvent{Err: err}
				return
			}
		}

		eventChan <- chatSvc.BackendEvent{Result: &chatSvc.RunResult{
			StopReason:   "end_turn",
			Model:        model,
			OutputTokens: words,
		}}
	}()

	return eventChan, nil
}

func (b *Backend) streamWords(
	ctx context.Context,
	eventChan chan<- chatSvc.BackendEvent,
	eventType, text string,
	delay time.Duration,
) error {
	words := strings.Fields(text)
	for i, word := range words {
		if i > 0 {
			word = " " + word
		}
		ev := chatModels.StreamEvent{Type: eventType, Text: word}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case eventChan <- chatSvc.BackendEvent{Event: &ev}:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// FormatToolContinuation is unreachable in practice: this backend never
// returns pending tool calls.
func (b *Backend) FormatToolContinuation(
	assistantText string,
	result *chatSvc.RunResult,
	calls []chatModels.ToolCall,
	outcomes []chatSvc.ToolOutcome,
) ([]chatSvc.ProviderMessage, error) {
	return nil, fmt.Errorf("lorem backend does not support tool continuations")
}
