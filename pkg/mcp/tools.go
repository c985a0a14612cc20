package mcp

import (
	"context"
	"encoding/json"

	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/notifyqueue"
	"github.com/trailforge/authcore/pkg/upstreamoauth"
)

// notificationManagement marks tools the router must never drain
// notifications into, since a notification tool appending notifications to
// its own response would loop.
type notificationManagement interface {
	IsNotificationManagement() bool
}

// serverInfoTool answers "what is this server" with no credential required.
type serverInfoTool struct {
	protocolVersion string
	serverName      string
	serverVersion   string
}

func NewServerInfoTool(protocolVersion, serverName, serverVersion string) Tool {
	return &serverInfoTool{protocolVersion: protocolVersion, serverName: serverName, serverVersion: serverVersion}
}

func (t *serverInfoTool) Name() string        { return "server_info" }
func (t *serverInfoTool) Description() string { return "Returns server name, version and supported MCP protocol version." }
func (t *serverInfoTool) AdminOnly() bool     { return false }
func (t *serverInfoTool) Public() bool        { return true }
func (t *serverInfoTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *serverInfoTool) Execute(_ context.Context, _ *kernel.AuthContext, _ *kernel.TenantContext, _ json.RawMessage) (any, error) {
	return map[string]any{
		"name":             t.serverName,
		"version":          t.serverVersion,
		"protocol_version": t.protocolVersion,
	}, nil
}

// listProvidersTool answers "what upstream OAuth providers exist" with no
// credential required — it never reveals per-user connection state.
type listProvidersTool struct {
	client *upstreamoauth.Client
}

func NewListProvidersTool(client *upstreamoauth.Client) Tool {
	return &listProvidersTool{client: client}
}

func (t *listProvidersTool) Name() string        { return "list_providers" }
func (t *listProvidersTool) Description() string { return "Lists the upstream OAuth providers this server is configured to connect to." }
func (t *listProvidersTool) AdminOnly() bool     { return false }
func (t *listProvidersTool) Public() bool        { return true }
func (t *listProvidersTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *listProvidersTool) Execute(_ context.Context, _ *kernel.AuthContext, _ *kernel.TenantContext, _ json.RawMessage) (any, error) {
	return map[string]any{"providers": t.client.Providers()}, nil
}

// connectionStatusTool reports the caller's own upstream connection state,
// one entry per configured provider. Requires a resolved identity, since it
// reveals per-user state.
type connectionStatusTool struct {
	client *upstreamoauth.Client
}

func NewConnectionStatusTool(client *upstreamoauth.Client) Tool {
	return &connectionStatusTool{client: client}
}

func (t *connectionStatusTool) Name() string        { return "connection_status" }
func (t *connectionStatusTool) Description() string { return "Reports whether the caller has a live connection to each configured upstream OAuth provider." }
func (t *connectionStatusTool) AdminOnly() bool     { return false }
func (t *connectionStatusTool) Public() bool        { return false }
func (t *connectionStatusTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *connectionStatusTool) Execute(ctx context.Context, authCtx *kernel.AuthContext, _ *kernel.TenantContext, _ json.RawMessage) (any, error) {
	type providerStatus struct {
		Provider  string `json:"provider"`
		Connected bool   `json:"connected"`
	}
	statuses := make([]providerStatus, 0, len(t.client.Providers()))
	for _, provider := range t.client.Providers() {
		_, connected := t.client.Connected(ctx, *authCtx.UserID, authCtx.TenantID, provider)
		statuses = append(statuses, providerStatus{Provider: provider, Connected: connected})
	}
	return map[string]any{"statuses": statuses}, nil
}

// listNotificationsTool lets a caller pull their full notification history
// on demand, separate from the router's automatic unread-drain on
// tools/call. Excluded from that drain so it can never append notifications
// to its own response.
type listNotificationsTool struct {
	notifications *notifyqueue.Service
}

func NewListNotificationsTool(notifications *notifyqueue.Service) Tool {
	return &listNotificationsTool{notifications: notifications}
}

func (t *listNotificationsTool) Name() string        { return "list_notifications" }
func (t *listNotificationsTool) Description() string { return "Lists the caller's upstream OAuth connection notifications." }
func (t *listNotificationsTool) AdminOnly() bool      { return false }
func (t *listNotificationsTool) Public() bool         { return false }
func (t *listNotificationsTool) IsNotificationManagement() bool { return true }
func (t *listNotificationsTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer"},
		},
	}
}

func (t *listNotificationsTool) Execute(ctx context.Context, authCtx *kernel.AuthContext, _ *kernel.TenantContext, params json.RawMessage) (any, error) {
	var req struct {
		Limit *int `json:"limit"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
	}
	notifications, err := t.notifications.GetAll(ctx, *authCtx.UserID, req.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"notifications": notifications}, nil
}
