package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"arbor/internal/handler/sse"
	"arbor/internal/httputil"
	chatService "arbor/internal/service/chat"
)

// SSEHandler streams conversation events via Server-Sent Events.
type SSEHandler struct {
	manager *chatService.Manager
	config  *sse.Config
	logger  *slog.Logger
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(manager *chatService.Manager, config *sse.Config, logger *slog.Logger) *SSEHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &SSEHandler{
		manager: manager,
		config:  config,
		logger:  logger,
	}
}

// Stream handles GET /api/conversations/{id}/stream.
// Buffered events after Last-Event-ID are replayed first, then live events
// until the run terminates or the client disconnects.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	lastEventID := parseLastEventID(r)
	clientID := uuid.New().String()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("SSE stream established",
		"conversation_id", conversationID,
		"client_id", clientID,
		"last_event_id", lastEventID,
	)

	// Replay and registration are atomic inside Attach, so nothing can fall
	// between the replayed frames and the live channel.
	replay, live := sess.Attach(clientID, lastEventID)
	if live != nil {
		defer sess.Detach(clientID)
	}

	for _, frame := range replay {
		fmt.Fprint(w, frame)
	}
	flusher.Flush()

	if live == nil {
		// No run in flight: the replay (including any terminal frame) is the
		// whole stream.
		return
	}

	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	defer keepAlive.Stop()
	kaWriter := sse.NewCommentWriter(w, flusher)
	kaDone := keepAlive.Start(kaWriter, h.logger)

	for {
		select {
		case frame, ok := <-live:
			if !ok {
				h.logger.Debug("event channel closed, ending stream",
					"conversation_id", conversationID,
					"client_id", clientID,
				)
				return
			}
			fmt.Fprint(w, frame)
			flusher.Flush()

		case <-kaDone:
			// Keep-alive writer hit a dead connection.
			h.logger.Info("client disconnected during keepalive",
				"conversation_id", conversationID,
				"client_id", clientID,
			)
			return

		case <-r.Context().Done():
			h.logger.Debug("client context canceled",
				"conversation_id", conversationID,
				"client_id", clientID,
			)
			return
		}
	}
}

// parseLastEventID reads the Last-Event-ID header, falling back to the
// last_event_id query parameter for clients that cannot set headers.
func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
