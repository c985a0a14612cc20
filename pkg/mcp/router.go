package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/auth"
	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/logx"
	"github.com/trailforge/authcore/pkg/notifyqueue"
)

// JSON-RPC 2.0 error codes, per spec.md §6.2. -32603 also carries auth
// failures (TokenExpired/TokenInvalid/TokenMalformed), to maximize
// compatibility with MCP hosts that don't special-case auth errors.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// JSONRPCRequest is one inbound MCP call.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is what Dispatch always returns, whether the call
// succeeded or not — for notifications (no ID), the caller discards it.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Router dispatches JSON-RPC 2.0 methods against the tool registry,
// resolving auth and tenant per tools/call the same way HTTP handlers do,
// then draining pending upstream-OAuth notifications into the response.
type Router struct {
	registry        *Registry
	gate            *Gate
	auth            *auth.UnifiedAuthMiddleware
	notifications   *notifyqueue.Service
	protocolVersion string
	serverName      string
	serverVersion   string
}

func NewRouter(registry *Registry, gate *Gate, authMW *auth.UnifiedAuthMiddleware, notifications *notifyqueue.Service, protocolVersion, serverName, serverVersion string) *Router {
	return &Router{
		registry:        registry,
		gate:            gate,
		auth:            authMW,
		notifications:   notifications,
		protocolVersion: protocolVersion,
		serverName:      serverName,
		serverVersion:   serverVersion,
	}
}

// Dispatch handles one JSON-RPC request. credential is the caller's
// Authorization header (HTTP transport) or equivalent out-of-band value;
// it may be empty, in which case tools/list falls back to the public tier
// and every other method that requires identity fails with AuthRequired.
func (r *Router) Dispatch(ctx context.Context, req JSONRPCRequest, credential string) JSONRPCResponse {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = &JSONRPCError{Code: codeInvalidParams, Message: "invalid JSON-RPC request envelope"}
		return resp
	}

	switch req.Method {
	case "initialize":
		resp.Result = r.initialize()
		return resp
	case "ping":
		resp.Result = map[string]any{}
		return resp
	case "tools/list":
		result, rpcErr := r.toolsList(ctx, credential)
		resp.Result, resp.Error = result, rpcErr
		return resp
	case "tools/call":
		result, rpcErr := r.toolsCall(ctx, req.Params, credential)
		resp.Result, resp.Error = result, rpcErr
		return resp
	case "resources/list", "prompts/list", "roots/list":
		resp.Result = map[string]any{"items": []any{}}
		return resp
	case "completion/complete":
		resp.Result = map[string]any{"completion": map[string]any{"values": []string{}}}
		return resp
	case "sampling/createMessage":
		// Sampling is forwarded to the connected stdio peer when available;
		// over HTTP there is no peer to forward to.
		resp.Error = &JSONRPCError{Code: codeMethodNotFound, Message: "sampling requires a stdio peer"}
		return resp
	default:
		if isSilentNotification(req.Method) {
			return JSONRPCResponse{} // no response for notifications
		}
		resp.Error = &JSONRPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
		return resp
	}
}

func isSilentNotification(method string) bool {
	switch method {
	case "notifications/initialized", "notifications/cancelled", "notifications/progress", "notifications/roots/listChanged":
		return true
	default:
		return false
	}
}

func (r *Router) initialize() map[string]any {
	return map[string]any{
		"protocolVersion": r.protocolVersion,
		"serverInfo": map[string]any{
			"name":    r.serverName,
			"version": r.serverVersion,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
	}
}

func (r *Router) toolsList(ctx context.Context, credential string) (any, *JSONRPCError) {
	authCtx, err := r.optionalAuth(ctx, credential)
	if err != nil {
		return nil, authFailureError(err)
	}
	var tenantCtx *kernel.TenantContext
	if authCtx != nil && authCtx.UserID != nil {
		tenantCtx = &kernel.TenantContext{
			TenantID: authCtx.TenantID,
			UserID:   *authCtx.UserID,
			Role:     kernel.Role{IsAdmin: authCtx.IsAdmin()},
		}
	}

	tools, err := r.gate.List(ctx, authCtx, tenantCtx)
	if err != nil {
		return nil, rpcError(err)
	}
	return map[string]any{"tools": tools}, nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Token     string          `json:"token"`
}

func (r *Router) toolsCall(ctx context.Context, raw json.RawMessage, credential string) (any, *JSONRPCError) {
	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &JSONRPCError{Code: codeInvalidParams, Message: "invalid params envelope"}
	}
	if params.Name == "" {
		return nil, &JSONRPCError{Code: codeInvalidParams, Message: "missing tool name"}
	}

	// stdio transport passes the credential inside params rather than an
	// HTTP header.
	if credential == "" {
		credential = params.Token
	}

	_, authCtx, err := r.auth.Resolve(ctx, credential)
	if err != nil {
		return nil, authFailureError(err)
	}

	tool, ok := r.registry.Get(params.Name)
	if !ok {
		return nil, &JSONRPCError{Code: codeInvalidParams, Message: "unknown tool: " + params.Name}
	}
	if tool.AdminOnly() && !authCtx.IsAdmin() {
		return nil, &JSONRPCError{Code: codeInvalidParams, Message: "tool requires admin privileges"}
	}

	tenantCtx := &kernel.TenantContext{
		TenantID: authCtx.TenantID,
		UserID:   *authCtx.UserID,
		Role:     kernel.Role{IsAdmin: authCtx.IsAdmin()},
	}

	output, err := tool.Execute(ctx, authCtx, tenantCtx, params.Arguments)
	if err != nil {
		return nil, rpcError(err)
	}

	content := []map[string]any{{"type": "text", "json": output}}

	if skip, ok := tool.(notificationManagement); !ok || !skip.IsNotificationManagement() {
		if pending, drainErr := r.notifications.DrainUnread(ctx, *authCtx.UserID); drainErr == nil {
			for _, n := range pending {
				content = append(content, map[string]any{
					"type": "text",
					"notification": map[string]any{
						"provider": n.Provider,
						"success":  n.Success,
						"message":  n.Message,
					},
				})
			}
		} else {
			logx.WithFields(logx.Fields{"error": drainErr}).Warn("failed to drain oauth notifications")
		}
	}

	return map[string]any{"content": content, "isError": false}, nil
}

// optionalAuth resolves credential if present, but doesn't fail the call
// when there isn't one — that's the public tools/list tier.
func (r *Router) optionalAuth(ctx context.Context, credential string) (*kernel.AuthContext, error) {
	if credential == "" {
		return nil, nil
	}
	_, authCtx, err := r.auth.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}
	return authCtx, nil
}

func authFailureError(err error) *JSONRPCError {
	kind := "TokenInvalid"
	var e *errx.Error
	if errors.As(err, &e) {
		switch {
		case e.Code == jwks.CodeTokenExpired.Code:
			kind = "TokenExpired"
		case e.Code == jwks.CodeTokenMalformed.Code:
			kind = "TokenMalformed"
		case e.Type == errx.TypeAuthorization:
			kind = "Unauthorized"
		}
	}
	return &JSONRPCError{
		Code:    codeInternal,
		Message: err.Error(),
		Data:    map[string]any{"kind": kind},
	}
}

func rpcError(err error) *JSONRPCError {
	return &JSONRPCError{Code: codeInternal, Message: err.Error()}
}
