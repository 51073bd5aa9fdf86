package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"arbor/internal/domain"
	chatModels "arbor/internal/domain/models/chat"
	"arbor/internal/domain/repositories"
	chatSvc "arbor/internal/domain/services/chat"
)

// Manager owns the live session actors, one per conversation. Sessions are
// created on first use and loaded from the store when the conversation
// already exists; a session stays resident once created so its replay buffer
// and single-flight state survive between requests.
type Manager struct {
	store    repositories.ConversationStore
	resolver chatSvc.BackendResolver
	runner   chatSvc.ToolRunner
	toolDefs func() []chatModels.ToolDefinition
	cfg      SessionConfig
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(
	store repositories.ConversationStore,
	resolver chatSvc.BackendResolver,
	runner chatSvc.ToolRunner,
	toolDefs func() []chatModels.ToolDefinition,
	cfg SessionConfig,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:    store,
		resolver: resolver,
		runner:   runner,
		toolDefs: toolDefs,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Session returns the actor for conversationID, loading the conversation from
// the store on first access. An unknown id starts a fresh conversation owned
// by userID; an existing conversation owned by someone else is reported as
// not found rather than unauthorized, so ids are not probeable.
func (m *Manager) Session(ctx context.Context, conversationID, userID string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		if sess.userID != userID {
			return nil, &domain.NotFoundError{Message: "conversation not found"}
		}
		return sess, nil
	}
	m.mu.Unlock()

	// Load outside the manager lock; concurrent loaders race benignly and the
	// second one adopts the first one's session below.
	conv, err := m.store.GetConversation(ctx, conversationID, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	var tree *chatModels.Tree
	var title string
	if conv != nil {
		if conv.UserID != userID {
			return nil, &domain.NotFoundError{Message: "conversation not found"}
		}
		tree = conv.Tree
		title = conv.Title
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[conversationID]; ok {
		if sess.userID != userID {
			return nil, &domain.NotFoundError{Message: "conversation not found"}
		}
		return sess, nil
	}

	sess := newSession(
		conversationID, userID, title, tree,
		m.store, m.resolver, m.runner, m.toolDefs,
		m.cfg,
		m.logger.With("conversation_id", conversationID),
	)
	m.sessions[conversationID] = sess
	m.logger.Debug("session created",
		"conversation_id", conversationID,
		"loaded", conv != nil,
	)
	return sess, nil
}

// Existing returns the actor for conversationID only when the conversation
// already exists, either resident or in the store.
func (m *Manager) Existing(ctx context.Context, conversationID, userID string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[conversationID]
	m.mu.Unlock()
	if ok {
		if sess.userID != userID {
			return nil, &domain.NotFoundError{Message: "conversation not found"}
		}
		return sess, nil
	}

	conv, err := m.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, &domain.NotFoundError{Message: "conversation not found"}
	}
	return m.Session(ctx, conversationID, userID)
}

// AbortAll cancels every in-flight run. Used during shutdown so final
// snapshots are persisted before the process exits.
func (m *Manager) AbortAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Abort("")
	}
}
