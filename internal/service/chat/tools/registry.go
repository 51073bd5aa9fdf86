package tools

import (
	"context"
	"sync"

	chatModels "arbor/internal/domain/models/chat"
)

// Handler executes one tool invocation. Implementations must be safe for
// concurrent use and respect context cancellation. onProgress may be called
// any number of times before returning; the returned string is the result
// handed back to the model.
type Handler interface {
	Execute(ctx context.Context, args map[string]any, onProgress func(chatModels.ToolProgress)) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any, onProgress func(chatModels.ToolProgress)) (string, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, args map[string]any, onProgress func(chatModels.ToolProgress)) (string, error) {
	return f(ctx, args, onProgress)
}

// Registry maps tool names to handlers and their definitions. Tool
// availability is environment-dependent and opaque to the orchestrator.
// Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

type entry struct {
	def     chatModels.ToolDefinition
	handler Handler
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. A tool with the same name is replaced.
func (r *Registry) Register(def chatModels.ToolDefinition, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.entries[def.Name] = entry{def: def, handler: handler}
}

// Resolve returns the handler for a tool name, or nil if not registered.
func (r *Registry) Resolve(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].handler
}

// Definitions returns all registered tool definitions in registration order,
// for advertising to backends.
func (r *Registry) Definitions() []chatModels.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]chatModels.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].def)
	}
	return defs
}
