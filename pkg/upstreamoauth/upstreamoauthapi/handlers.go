// Package upstreamoauthapi exposes the upstream OAuth client's HTTP surface:
// connect/callback/disconnect for each configured fitness provider.
package upstreamoauthapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/upstreamoauth"
)

// Handlers wires upstreamoauth.Client onto Fiber routes.
type Handlers struct {
	client *upstreamoauth.Client
}

func NewHandlers(client *upstreamoauth.Client) *Handlers {
	return &Handlers{client: client}
}

// RegisterRoutes mounts the connect/callback/disconnect endpoints. connect
// and disconnect require an authenticated end user; callback is reached by
// the provider's redirect and authenticates itself via the state parameter.
func (h *Handlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	app.Get("/oauth/connect/:provider", authenticate, h.connect)
	app.Get("/oauth/callback/:provider", h.callback)
	app.Post("/oauth/disconnect/:provider", authenticate, h.disconnect)
	app.Get("/api/oauth/status", authenticate, h.status)
}

func authContext(c *fiber.Ctx) *kernel.AuthContext {
	authCtx, _ := c.Locals("auth").(*kernel.AuthContext)
	return authCtx
}

func (h *Handlers) connect(c *fiber.Ctx) error {
	authCtx := authContext(c)
	if authCtx == nil || authCtx.UserID == nil {
		return upstreamoauth.ErrInvalidState()
	}

	authURL, err := h.client.BuildAuthURL(c.Context(), c.Params("provider"), *authCtx.UserID)
	if err != nil {
		return err
	}
	return c.Redirect(authURL, fiber.StatusFound)
}

func (h *Handlers) callback(c *fiber.Ctx) error {
	provider := c.Params("provider")
	stateValue := c.Query("state")
	code := c.Query("code")

	if err := h.client.HandleCallback(c.Context(), provider, stateValue, code); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "connected", "provider": provider})
}

func (h *Handlers) disconnect(c *fiber.Ctx) error {
	authCtx := authContext(c)
	if authCtx == nil || authCtx.UserID == nil {
		return upstreamoauth.ErrInvalidState()
	}

	if err := h.client.Disconnect(c.Context(), *authCtx.UserID, authCtx.TenantID, c.Params("provider")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "disconnected", "provider": c.Params("provider")})
}

// status reports, per configured provider, whether the caller has a live
// connection on record.
func (h *Handlers) status(c *fiber.Ctx) error {
	authCtx := authContext(c)
	if authCtx == nil || authCtx.UserID == nil {
		return upstreamoauth.ErrInvalidState()
	}

	type providerStatus struct {
		Provider  string     `json:"provider"`
		Connected bool       `json:"connected"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
		Scopes    []string   `json:"scopes,omitempty"`
	}

	providers := h.client.Providers()
	statuses := make([]providerStatus, 0, len(providers))
	for _, provider := range providers {
		entry := providerStatus{Provider: provider}
		if tok, connected := h.client.Connected(c.Context(), *authCtx.UserID, authCtx.TenantID, provider); connected {
			entry.Connected = true
			entry.ExpiresAt = &tok.ExpiresAt
			if tok.Scope != "" {
				entry.Scopes = strings.Fields(tok.Scope)
			}
		}
		statuses = append(statuses, entry)
	}
	return c.JSON(fiber.Map{"providers": statuses})
}
