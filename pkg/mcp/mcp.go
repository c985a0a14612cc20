// Package mcp implements the Model Context Protocol surface: tool
// discovery (component K) and JSON-RPC request routing (component L).
// Tools are registered once at startup and dispatched by name; which ones
// a given caller can see is decided per request by Gate, not by the
// registry itself.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/kernel"
)

// Tool is the "tagged trait-object" shape every MCP-callable capability
// implements: a name, a JSON schema describing its parameters, and an
// executor that receives the caller's resolved identity.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	// AdminOnly tools are never returned by Gate.List outside the admin
	// tier, regardless of per-tenant catalog state.
	AdminOnly() bool
	Execute(ctx context.Context, authCtx *kernel.AuthContext, tenant *kernel.TenantContext, params json.RawMessage) (any, error)
}

// ToolDescriptor is what tools/list actually returns: name, description and
// schema, without exposing the executor.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Registry is a name-keyed collection of tools, guarded by a RWMutex so
// registration (at startup) and lookup (on every call) can't race.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, overwriting any previous tool registered under the
// same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, in no particular order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

var ErrRegistry = errx.NewRegistry("MCP")

var (
	CodeToolNotFound   = ErrRegistry.Register("TOOL_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "unknown tool")
	CodeInvalidParams  = ErrRegistry.Register("INVALID_PARAMS", errx.TypeValidation, http.StatusBadRequest, "invalid tool parameters")
)

func ErrToolNotFound(name string) *errx.Error {
	return ErrRegistry.New(CodeToolNotFound).WithDetail("tool", name)
}

func ErrInvalidParams(reason string) *errx.Error {
	return ErrRegistry.New(CodeInvalidParams).WithDetail("reason", reason)
}
