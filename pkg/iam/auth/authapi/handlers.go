// Package authapi exposes HTTP session auth: register, login, and refresh
// for browser/interactive clients.
package authapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/auth"
	"github.com/trailforge/authcore/pkg/iam/passwordreset"
)

// Handlers wires auth.Service onto Fiber routes.
type Handlers struct {
	svc   *auth.Service
	reset *passwordreset.Service
}

func NewHandlers(svc *auth.Service, reset *passwordreset.Service) *Handlers {
	return &Handlers{svc: svc, reset: reset}
}

// RegisterRoutes mounts the session auth endpoints. None of these require
// prior authentication — that's the point of them.
func (h *Handlers) RegisterRoutes(app *fiber.App) {
	app.Post("/api/auth/register", h.register)
	app.Post("/api/auth/login", h.login)
	app.Post("/api/auth/refresh", h.refresh)
	app.Post("/api/auth/password-reset/request", h.requestPasswordReset)
	app.Post("/api/auth/password-reset/confirm", h.confirmPasswordReset)
}

type registerRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name"`
}

func (h *Handlers) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return errx.Validation("email and password are required")
	}

	u, err := h.svc.Register(c.Context(), req.Email, req.Password, req.DisplayName, c.IP())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     u.ID.String(),
		"email":  u.Email,
		"status": u.Status,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	result, err := h.svc.Login(c.Context(), req.Email, req.Password, c.IP())
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handlers) refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.RefreshToken == "" {
		return errx.Validation("refresh_token is required")
	}

	result, err := h.svc.Refresh(c.Context(), req.RefreshToken, c.IP())
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(result))
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// requestPasswordReset always answers 202 regardless of whether the email
// is on file — a differing response would let a caller enumerate accounts.
func (h *Handlers) requestPasswordReset(c *fiber.Ctx) error {
	var req passwordResetRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.Email == "" {
		return errx.Validation("email is required")
	}

	if err := h.reset.Request(c.Context(), req.Email); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "if that email has an account, a reset link was sent"})
}

type passwordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handlers) confirmPasswordReset(c *fiber.Ctx) error {
	var req passwordResetConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.Token == "" || req.NewPassword == "" {
		return errx.Validation("token and new_password are required")
	}

	if err := h.reset.Confirm(c.Context(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "password updated"})
}

func sessionResponse(result *auth.SessionResult) fiber.Map {
	return fiber.Map{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"token_type":    result.TokenType,
		"expires_in":    result.ExpiresIn,
	}
}
