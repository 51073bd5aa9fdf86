package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"arbor/internal/config"
	chatModels "arbor/internal/domain/models/chat"
	"arbor/internal/httputil"
	chatService "arbor/internal/service/chat"
)

// ChatHandler handles conversation HTTP requests.
// Handlers only talk to the session manager, never to repositories.
type ChatHandler struct {
	manager *chatService.Manager
	logger  *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(manager *chatService.Manager, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		manager: manager,
		logger:  logger,
	}
}

// SubmitChatRequest is the body of POST /api/conversations/{id}/chat.
type SubmitChatRequest struct {
	RequestID string                    `json:"request_id,omitempty"`
	Role      string                    `json:"role"`
	Blocks    []chatModels.ContentBlock `json:"blocks"`
	Edit      *EditRequest              `json:"edit,omitempty"`
	Params    *chatModels.RequestParams `json:"params,omitempty"`
}

// EditRequest selects edit-as-new-sibling semantics: the message becomes a
// sibling of target_id and the path switches to it at depth.
type EditRequest struct {
	Depth    int               `json:"depth"`
	TargetID chatModels.NodeID `json:"target_id"`
}

// Validate checks the request against input limits. Retries (an edit
// targeting an assistant node) carry no role and no blocks, so both are only
// required on plain submissions.
func (req *SubmitChatRequest) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&req.Role, validation.In(chatModels.RoleUser)),
		validation.Field(&req.Blocks, validation.Length(0, config.MaxMessageBlocks)),
	}
	if req.Edit == nil {
		rules = append(rules,
			validation.Field(&req.Role, validation.Required),
			validation.Field(&req.Blocks, validation.Required),
		)
	}
	if err := validation.ValidateStruct(req, rules...); err != nil {
		return err
	}

	textLen := 0
	for _, b := range req.Blocks {
		switch b.BlockType {
		case chatModels.BlockTypeContent:
			textLen += len(b.Text)
		case chatModels.BlockTypeAttachments:
			// accepted as-is; storage is external
		default:
			return fmt.Errorf("block type %q is not accepted on submitted messages", b.BlockType)
		}
	}
	if textLen > config.MaxMessageTextLength {
		return fmt.Errorf("message text exceeds %d characters", config.MaxMessageTextLength)
	}

	if req.Edit != nil && req.Edit.Depth < 1 {
		return fmt.Errorf("edit.depth must be at least 1")
	}

	return req.Params.Validate()
}

// SubmitChat starts a turn on a conversation.
// POST /api/conversations/{id}/chat
// Returns 202 when accepted, 409 with the in-flight request id when busy.
func (h *ChatHandler) SubmitChat(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}
	userID := httputil.GetUserID(r)

	var req SubmitChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.manager.Session(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	submit := chatService.SubmitRequest{
		RequestID: req.RequestID,
		Role:      req.Role,
		Blocks:    req.Blocks,
		Params:    req.Params,
	}
	if req.Edit != nil {
		submit.Edit = &chatService.EditTarget{
			Depth:    req.Edit.Depth,
			TargetID: req.Edit.TargetID,
		}
	}

	result, err := sess.Submit(submit)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, map[string]any{
		"request_id":        result.RequestID,
		"user_node_id":      result.UserNodeID,
		"assistant_node_id": result.AssistantNodeID,
		"stream_url":        fmt.Sprintf("/api/conversations/%s/stream", conversationID),
	})
}

// SyncEvents returns buffered events after last_event_id for catch-up.
// GET /api/conversations/{id}/events?last_event_id=N
func (h *ChatHandler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}
	userID := httputil.GetUserID(r)

	lastEventID := int64(0)
	if raw := r.URL.Query().Get("last_event_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			httputil.RespondError(w, http.StatusBadRequest, "last_event_id must be a non-negative integer")
			return
		}
		lastEventID = n
	}

	sess, err := h.manager.Existing(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, sess.Sync(lastEventID))
}

// AbortRequest is the body of POST /api/conversations/{id}/abort. An empty
// request_id aborts whatever run is current.
type AbortRequest struct {
	RequestID string `json:"request_id,omitempty"`
}

// Abort cancels the in-flight run. Stale request ids are ignored.
// POST /api/conversations/{id}/abort
func (h *ChatHandler) Abort(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}
	userID := httputil.GetUserID(r)

	var req AbortRequest
	if r.ContentLength > 0 {
		if err := httputil.ParseJSON(w, r, &req); err != nil {
			httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	sess, err := h.manager.Existing(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	sess.Abort(req.RequestID)
	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GetConversation returns the snapshot projection of the active path with
// branch info per node.
// GET /api/conversations/{id}
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}
	userID := httputil.GetUserID(r)

	sess, err := h.manager.Existing(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, sess.View())
}

// BranchRequest is the body of POST /api/conversations/{id}/branch.
type BranchRequest struct {
	Depth    int               `json:"depth"`
	TargetID chatModels.NodeID `json:"target_id"`
}

// Validate checks the branch request.
func (req *BranchRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Depth, validation.Required, validation.Min(1)),
		validation.Field(&req.TargetID, validation.Required),
	)
}

// SwitchBranch switches the active path at a depth to a sibling node. An
// unknown target is a no-op and returns the unchanged view.
// POST /api/conversations/{id}/branch
func (h *ChatHandler) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := PathParam(w, r, "id", "Conversation ID")
	if !ok {
		return
	}
	userID := httputil.GetUserID(r)

	var req BranchRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.manager.Existing(r.Context(), conversationID, userID)
	if err != nil {
		handleError(w, err)
		return
	}

	view, err := sess.SwitchBranch(r.Context(), req.Depth, req.TargetID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, view)
}

// HealthCheck responds to load balancer probes.
// GET /health
func (h *ChatHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
