package sse

import (
	"fmt"
	"net/http"
)

// CommentWriter writes SSE comment pings (": keepalive") to one response.
// Clients ignore comment lines; proxies see traffic and keep the connection
// open.
type CommentWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewCommentWriter creates a keepalive writer over an SSE response.
func NewCommentWriter(w http.ResponseWriter, flusher http.Flusher) *CommentWriter {
	return &CommentWriter{w: w, flusher: flusher}
}

// WriteKeepAlive writes one comment ping and flushes. A write error means the
// client disconnected.
func (c *CommentWriter) WriteKeepAlive() error {
	if _, err := fmt.Fprint(c.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	c.flusher.Flush()
	return nil
}
