package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/changeware/flowgate/internal/protocol"
)

// Invoker is the uniform invocation contract for named external tools.
// Invoke never returns a Go error: every outcome, including failure, is a
// record so it can land in the run history unmodified.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) protocol.ToolCallRecord
	Definitions() []protocol.Tool
}

// Func is one tool implementation
type Func func(ctx context.Context, args map[string]interface{}) (interface{}, error)

type entry struct {
	def protocol.Tool
	fn  Func
}

// Registry is an Invoker over in-process tool implementations
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]entry
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. Re-registering a name replaces the implementation.
func (r *Registry) Register(def protocol.Tool, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = entry{def: def, fn: fn}
}

// Has reports whether a tool name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Definitions returns the tool definitions in registration order
func (r *Registry) Definitions() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Invoke runs a named tool and records its outcome, duration included.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) protocol.ToolCallRecord {
	rec := protocol.ToolCallRecord{
		ID:        uuid.NewString(),
		Tool:      name,
		Args:      args,
		Timestamp: time.Now(),
	}

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		rec.Error = fmt.Sprintf("unknown tool: %s", name)
		return rec
	}

	start := time.Now()
	result, err := e.fn(ctx, args)
	rec.Duration = time.Since(start)
	rec.Result = result
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.OK = true
	return rec
}
