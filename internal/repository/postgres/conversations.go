package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbor/internal/domain"
	chatModels "arbor/internal/domain/models/chat"
	"arbor/internal/domain/repositories"
)

// ConversationRepository implements ConversationStore on PostgreSQL. One row
// per conversation; the tree snapshot is a JSONB column written whole on each
// upsert, matching the actor's write-at-boundaries model.
type ConversationRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(config *RepositoryConfig) repositories.ConversationStore {
	return &ConversationRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// GetConversation returns the conversation or domain.ErrNotFound. Ownership
// is part of the key: a row belonging to another user is not found.
func (r *ConversationRepository) GetConversation(ctx context.Context, id, userID string) (*repositories.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, title, tree, created_at, updated_at
		FROM %s
		WHERE id = $1 AND user_id = $2
	`, r.tables.Conversations)

	conv := &repositories.Conversation{}
	var treeJSON []byte
	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Title,
		&treeJSON,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("conversation %s not found", id)}
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	tree := &chatModels.Tree{}
	if err := json.Unmarshal(treeJSON, tree); err != nil {
		return nil, fmt.Errorf("decode conversation tree: %w", err)
	}
	conv.Tree = tree

	return conv, nil
}

// UpsertConversation writes the snapshot, creating the row if needed.
func (r *ConversationRepository) UpsertConversation(ctx context.Context, conv *repositories.Conversation) error {
	treeJSON, err := json.Marshal(conv.Tree)
	if err != nil {
		return fmt.Errorf("encode conversation tree: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, title, tree, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			tree = EXCLUDED.tree,
			updated_at = EXCLUDED.updated_at
		WHERE %s.user_id = EXCLUDED.user_id
	`, r.tables.Conversations, r.tables.Conversations)

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tag, err := r.pool.Exec(ctx, query,
		conv.ID,
		conv.UserID,
		conv.Title,
		treeJSON,
		createdAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Row exists but belongs to someone else.
		return &domain.NotFoundError{Message: fmt.Sprintf("conversation %s not found", conv.ID)}
	}

	r.logger.Debug("conversation persisted",
		"conversation_id", conv.ID,
		"bytes", len(treeJSON),
	)
	return nil
}
