// Package memory implements ConversationStore in process memory. Used in
// local environments without a database and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"arbor/internal/domain"
	"arbor/internal/domain/repositories"
)

// ConversationRepository is a thread-safe in-memory ConversationStore.
type ConversationRepository struct {
	mu    sync.RWMutex
	items map[string]*repositories.Conversation
}

// NewConversationRepository creates an empty in-memory store.
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		items: make(map[string]*repositories.Conversation),
	}
}

// GetConversation returns the conversation or domain.ErrNotFound.
func (r *ConversationRepository) GetConversation(ctx context.Context, id, userID string) (*repositories.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.items[id]
	if !ok || conv.UserID != userID {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("conversation %s not found", id)}
	}

	copied := *conv
	copied.Tree = conv.Tree.DeepCopy()
	return &copied, nil
}

// UpsertConversation writes the snapshot, creating the entry if needed.
func (r *ConversationRepository) UpsertConversation(ctx context.Context, conv *repositories.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[conv.ID]; ok && existing.UserID != conv.UserID {
		return &domain.NotFoundError{Message: fmt.Sprintf("conversation %s not found", conv.ID)}
	}

	copied := *conv
	copied.Tree = conv.Tree.DeepCopy()
	r.items[conv.ID] = &copied
	return nil
}
