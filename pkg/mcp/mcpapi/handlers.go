// Package mcpapi exposes pkg/mcp's JSON-RPC router over HTTP, the MCP
// "Streamable HTTP" transport. Each request is self-contained: the
// Authorization header (if any) is resolved per call rather than gated by
// middleware, since tools/list's public tier must still answer with no
// credential at all.
package mcpapi

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/trailforge/authcore/pkg/mcp"
)

type Handlers struct {
	router *mcp.Router
}

func NewHandlers(router *mcp.Router) *Handlers {
	return &Handlers{router: router}
}

func (h *Handlers) RegisterRoutes(app *fiber.App) {
	app.Post("/mcp", h.handle)
}

func (h *Handlers) handle(c *fiber.Ctx) error {
	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusOK).JSON(mcp.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &mcp.JSONRPCError{Code: -32602, Message: "malformed JSON-RPC envelope"},
		})
	}

	resp := h.router.Dispatch(c.Context(), req, c.Get("Authorization"))
	if resp.JSONRPC == "" {
		// silently-handled notification: MCP over HTTP still needs a body.
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(resp)
}
