package repositories

import (
	"context"
	"time"

	chatModels "arbor/internal/domain/models/chat"
)

// Conversation is the durable unit of storage: one row per conversation
// holding the full tree snapshot, keyed by an opaque id plus owner identity.
type Conversation struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Tree      *chatModels.Tree `json:"tree"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ConversationStore is the narrow durable-storage interface the engine
// consumes: an idempotent key-value upsert, not a relational schema.
type ConversationStore interface {
	// GetConversation returns the conversation or domain.ErrNotFound.
	GetConversation(ctx context.Context, id, userID string) (*Conversation, error)

	// UpsertConversation writes the snapshot, creating the row if needed.
	UpsertConversation(ctx context.Context, conv *Conversation) error
}
