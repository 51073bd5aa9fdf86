package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbor/internal/domain"
	chatModels "arbor/internal/domain/models/chat"
	"arbor/internal/domain/repositories"
	chatSvc "arbor/internal/domain/services/chat"
)

const (
	// defaultEventBufferLimit bounds the in-memory replay buffer per session.
	defaultEventBufferLimit = 4096

	// defaultBufferGrace is how long after a run terminates the event buffer
	// is kept for reconnecting clients before eviction.
	defaultBufferGrace = 2 * time.Minute

	// persistTimeout bounds the final snapshot write after a run terminates.
	persistTimeout = 10 * time.Second

	// clientBufferSize is the per-connection outbound channel depth. A client
	// that falls further behind is dropped from live delivery and recovers
	// via sync/reconnect replay.
	clientBufferSize = 64
)

// SessionConfig carries the tunables of a session actor.
type SessionConfig struct {
	EventBufferLimit int
	BufferGrace      time.Duration
	MaxIterations    int
	DefaultModel     string
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.EventBufferLimit <= 0 {
		c.EventBufferLimit = defaultEventBufferLimit
	}
	if c.BufferGrace <= 0 {
		c.BufferGrace = defaultBufferGrace
	}
	return c
}

// Session is the single-writer authority for one conversation. At most one
// turn runs at a time; all tree mutations, event-id assignment and buffer
// writes happen under the session mutex, so any client that has received
// event N sees a tree that already includes it.
type Session struct {
	conversationID string
	userID         string

	store    repositories.ConversationStore
	resolver chatSvc.BackendResolver
	runner   chatSvc.ToolRunner
	toolDefs func() []chatModels.ToolDefinition
	logger   *slog.Logger
	cfg      SessionConfig

	mu          sync.Mutex
	tree        *chatModels.Tree
	title       string
	createdAt   time.Time
	status      string
	requestID   string
	cancel      context.CancelFunc
	assistantID chatModels.NodeID
	events      []chatModels.PersistedEvent
	nextEventID int64
	clients     map[string]chan string
	evictTimer  *time.Timer
}

// EditTarget selects edit-as-new-sibling semantics for a submission: the new
// message becomes a sibling of TargetID and the path switches to it at Depth.
type EditTarget struct {
	Depth    int
	TargetID chatModels.NodeID
}

// SubmitRequest is one chat request handed to the actor.
type SubmitRequest struct {
	RequestID string
	Role      string
	Blocks    []chatModels.ContentBlock
	Edit      *EditTarget
	Params    *chatModels.RequestParams
}

// SubmitResult reports acceptance of a chat request.
type SubmitResult struct {
	RequestID       string            `json:"request_id"`
	UserNodeID      chatModels.NodeID `json:"user_node_id,omitempty"`
	AssistantNodeID chatModels.NodeID `json:"assistant_node_id"`
}

// SyncResult is the catch-up payload for a reconnecting client.
type SyncResult struct {
	Status    string                      `json:"status"`
	RequestID string                      `json:"request_id,omitempty"`
	Events    []chatModels.PersistedEvent `json:"events"`
}

// ConversationView is a read-only, deep-copied projection of the session
// state for handlers.
type ConversationView struct {
	ID        string                                        `json:"id"`
	Title     string                                        `json:"title"`
	Status    string                                        `json:"status"`
	RequestID string                                        `json:"request_id,omitempty"`
	Path      []chatModels.NodeID                           `json:"path"`
	Messages  []*chatModels.MessageNode                     `json:"messages"`
	Branches  map[chatModels.NodeID]*chatModels.BranchInfo  `json:"branches,omitempty"`
}

func newSession(
	conversationID, userID, title string,
	tree *chatModels.Tree,
	store repositories.ConversationStore,
	resolver chatSvc.BackendResolver,
	runner chatSvc.ToolRunner,
	toolDefs func() []chatModels.ToolDefinition,
	cfg SessionConfig,
	logger *slog.Logger,
) *Session {
	if tree == nil {
		tree = chatModels.NewTree()
	}
	return &Session{
		conversationID: conversationID,
		userID:         userID,
		title:          title,
		tree:           tree,
		store:          store,
		resolver:       resolver,
		runner:         runner,
		toolDefs:       toolDefs,
		cfg:            cfg.withDefaults(),
		logger:         logger,
		status:         chatModels.StatusIdle,
		createdAt:      time.Now(),
		clients:        make(map[string]chan string),
	}
}

// Submit starts a new turn. Returns domain.ErrBusy (with the in-flight
// request id) when a run is already active; busy is backpressure, not an
// error in the turn itself.
func (s *Session) Submit(req SubmitRequest) (*SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == chatModels.StatusRunning {
		return nil, &domain.BusyError{CurrentRequestID: s.requestID}
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	// Apply the user-side tree mutation.
	var userNode *chatModels.MessageNode
	var tree *chatModels.Tree
	if req.Edit != nil {
		userNode, tree = s.tree.EditMessage(req.Edit.Depth, req.Edit.TargetID, req.Blocks)
		if userNode == nil {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("edit target %d at depth %d does not resolve", req.Edit.TargetID, req.Edit.Depth),
			}
		}
	} else {
		if req.Role != chatModels.RoleUser {
			return nil, &domain.ValidationError{Message: "only user messages may be submitted"}
		}
		userNode, tree = s.tree.AddMessage(chatModels.RoleUser, req.Blocks)
	}

	// A retried assistant node is itself the streaming target; a user message
	// gets a fresh empty assistant child.
	var assistantNode *chatModels.MessageNode
	if userNode.Role == chatModels.RoleAssistant {
		assistantNode = userNode
		userNode = nil
	} else {
		assistantNode, tree = tree.AddMessage(chatModels.RoleAssistant, nil)
	}
	s.tree = tree
	s.assistantID = assistantNode.ID

	if s.title == "" && userNode != nil {
		s.title = deriveTitle(userNode.Blocks)
	}

	// Resolve the backend before committing to the run.
	model := s.cfg.DefaultModel
	if req.Params != nil && req.Params.Model != nil && *req.Params.Model != "" {
		model = *req.Params.Model
	}
	backend, err := s.resolver.ForModel(model)
	if err != nil {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("no backend for model %q: %v", model, err)}
	}

	params := req.Params
	if params == nil {
		params = &chatModels.RequestParams{}
	}
	if params.Model == nil {
		params.Model = &model
	}
	if s.toolDefs != nil {
		params.Tools = s.toolDefs()
	}

	if s.evictTimer != nil {
		s.evictTimer.Stop()
		s.evictTimer = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.status = chatModels.StatusRunning
	s.requestID = req.RequestID
	s.cancel = cancel

	s.broadcastLocked(chatModels.FormatSSEFrame(chatModels.FrameChatStarted, chatModels.ChatStarted{
		RequestID: req.RequestID,
	}))

	s.logger.Info("turn accepted",
		"conversation_id", s.conversationID,
		"request_id", req.RequestID,
		"model", model,
		"backend", backend.Name(),
		"assistant_node", assistantNode.ID,
	)

	go s.run(ctx, backend, params)

	result := &SubmitResult{
		RequestID:       req.RequestID,
		AssistantNodeID: assistantNode.ID,
	}
	if userNode != nil {
		result.UserNodeID = userNode.ID
	}
	return result, nil
}

// run executes the turn in its own goroutine and finalizes the session.
func (s *Session) run(ctx context.Context, backend chatSvc.Backend, params *chatModels.RequestParams) {
	// History excludes the empty assistant tip being streamed into.
	s.mu.Lock()
	path := s.tree.CurrentPath
	history := s.tree.MessagesFromPath(path[:len(path)-1])
	s.mu.Unlock()

	// Durable write at run start so the submitted user message survives a
	// crash mid-turn. Cancellable alongside the rest of the run.
	if err := s.persistSnapshot(ctx); err != nil {
		if ctx.Err() == nil {
			s.emit(chatModels.ErrorEvent(fmt.Sprintf("failed to persist conversation: %v", err)))
			s.finish(chatModels.StatusError)
			return
		}
		s.finish(chatModels.StatusAborted)
		return
	}

	orch := NewOrchestrator(backend, s.runner, s.logger, s.cfg.MaxIterations)
	status := orch.Execute(ctx, history, params, s.emit)
	s.finish(status)
}

// emit folds one stream event into the in-flight assistant node, assigns it
// the next event id, buffers it and broadcasts it. The fold happens before
// the broadcast, so clients never observe an event the tree does not reflect.
func (s *Session) emit(ev chatModels.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node := s.tree.Node(s.assistantID); node != nil {
		blocks := chatModels.ApplyAddition(node.Blocks, ev.Addition())
		s.tree = s.tree.WithBlocks(s.assistantID, blocks)
	}

	s.nextEventID++
	pe := chatModels.PersistedEvent{
		EventID:   s.nextEventID,
		RequestID: s.requestID,
		Event:     ev,
		CreatedAt: time.Now(),
	}
	s.events = append(s.events, pe)
	if len(s.events) > s.cfg.EventBufferLimit {
		s.events = s.events[len(s.events)-s.cfg.EventBufferLimit:]
	}

	s.broadcastLocked(pe.FormatSSE())
}

// finish persists the final snapshot exactly once, records the terminal
// status, notifies clients and schedules buffer eviction.
func (s *Session) finish(status string) {
	// Persist even after cancellation: partial output stays attached to the
	// conversation.
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persistSnapshot(pctx); err != nil {
		s.logger.Error("failed to persist final snapshot",
			"conversation_id", s.conversationID,
			"error", err,
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.logger.Info("turn finished",
		"conversation_id", s.conversationID,
		"request_id", s.requestID,
		"status", status,
		"events", s.nextEventID,
	)

	s.broadcastLocked(chatModels.FormatSSEFrame(chatModels.FrameChatFinished, chatModels.ChatFinished{
		RequestID: s.requestID,
		Status:    status,
	}))

	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}

	s.evictTimer = time.AfterFunc(s.cfg.BufferGrace, s.evictBuffer)
}

// evictBuffer retires the replay buffer once the grace window passes without
// a new run, reverting the session to idle.
func (s *Session) evictBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == chatModels.StatusRunning {
		return
	}
	s.events = nil
	s.nextEventID = 0
	s.requestID = ""
	s.status = chatModels.StatusIdle
	s.evictTimer = nil
}

// Abort cancels the in-flight run if requestID matches (or is empty). Stale
// or mismatched ids are ignored.
func (s *Session) Abort(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != chatModels.StatusRunning {
		return
	}
	if requestID != "" && requestID != s.requestID {
		s.logger.Debug("ignoring abort for stale request",
			"conversation_id", s.conversationID,
			"abort_request_id", requestID,
			"current_request_id", s.requestID,
		)
		return
	}
	if s.cancel != nil {
		s.logger.Info("aborting turn",
			"conversation_id", s.conversationID,
			"request_id", s.requestID,
		)
		s.cancel()
	}
}

// Sync returns the session status and every buffered event with an id greater
// than lastEventID, letting a reconnecting client catch up without replaying
// the whole turn.
func (s *Session) Sync(lastEventID int64) *SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &SyncResult{
		Status:    s.status,
		RequestID: s.requestID,
		Events:    []chatModels.PersistedEvent{},
	}
	for _, pe := range s.events {
		if pe.EventID > lastEventID {
			res.Events = append(res.Events, pe)
		}
	}
	return res
}

// Attach registers a client connection. It returns the replay frames the
// client must receive first (buffered events after lastEventID, plus a
// chat_finished frame when the session is terminal) and, when a run is in
// flight, a live channel registered under clientID. Registration and replay
// computation happen under one lock, so no event falls between them.
func (s *Session) Attach(clientID string, lastEventID int64) (replay []string, live <-chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pe := range s.events {
		if pe.EventID > lastEventID {
			replay = append(replay, pe.FormatSSE())
		}
	}

	if s.status == chatModels.StatusRunning {
		ch := make(chan string, clientBufferSize)
		s.clients[clientID] = ch
		return replay, ch
	}

	if s.status != chatModels.StatusIdle {
		replay = append(replay, chatModels.FormatSSEFrame(chatModels.FrameChatFinished, chatModels.ChatFinished{
			RequestID: s.requestID,
			Status:    s.status,
		}))
	}
	return replay, nil
}

// Detach removes a client connection.
func (s *Session) Detach(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.clients[clientID]; ok {
		close(ch)
		delete(s.clients, clientID)
	}
}

// SwitchBranch switches the active path at depth to targetID and persists the
// result. Rejected while a run is in flight.
func (s *Session) SwitchBranch(ctx context.Context, depth int, targetID chatModels.NodeID) (*ConversationView, error) {
	s.mu.Lock()
	if s.status == chatModels.StatusRunning {
		current := s.requestID
		s.mu.Unlock()
		return nil, &domain.BusyError{CurrentRequestID: current}
	}
	s.tree = s.tree.SwitchBranch(depth, targetID)
	s.mu.Unlock()

	if err := s.persistSnapshot(ctx); err != nil {
		return nil, err
	}
	return s.View(), nil
}

// View returns a deep-copied projection of the conversation for handlers.
func (s *Session) View() *ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := s.tree.DeepCopy()
	view := &ConversationView{
		ID:        s.conversationID,
		Title:     s.title,
		Status:    s.status,
		RequestID: s.requestID,
		Path:      tree.CurrentPath,
		Messages:  tree.MessagesFromPath(tree.CurrentPath),
		Branches:  make(map[chatModels.NodeID]*chatModels.BranchInfo),
	}
	for _, id := range tree.CurrentPath {
		if info := tree.BranchInfo(id); info != nil {
			view.Branches[id] = info
		}
	}
	if len(view.Branches) == 0 {
		view.Branches = nil
	}
	return view
}

// persistSnapshot writes the current tree snapshot to durable storage. The
// snapshot is deep-copied under the lock; the write itself happens outside.
func (s *Session) persistSnapshot(ctx context.Context) error {
	s.mu.Lock()
	conv := &repositories.Conversation{
		ID:        s.conversationID,
		UserID:    s.userID,
		Title:     s.title,
		Tree:      s.tree.DeepCopy(),
		CreatedAt: s.createdAt,
		UpdatedAt: time.Now(),
	}
	s.mu.Unlock()

	return s.store.UpsertConversation(ctx, conv)
}

// broadcastLocked fans a pre-formatted SSE frame out to all attached clients.
// A full client buffer drops the frame; the client recovers via sync replay.
// Caller holds s.mu.
func (s *Session) broadcastLocked(frame string) {
	for id, ch := range s.clients {
		select {
		case ch <- frame:
		default:
			s.logger.Debug("client buffer full, dropping frame",
				"conversation_id", s.conversationID,
				"client_id", id,
			)
		}
	}
}

// deriveTitle takes a default conversation title from the first user message.
// Proper title generation is an external concern.
func deriveTitle(blocks []chatModels.ContentBlock) string {
	for _, b := range blocks {
		if b.BlockType == chatModels.BlockTypeContent && b.Text != "" {
			title := b.Text
			if len(title) > 80 {
				title = title[:80]
			}
			return title
		}
	}
	return "New conversation"
}
