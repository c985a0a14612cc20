// Package oauth2asapi exposes the authorization server's HTTP surface:
// RFC 6749 /authorize and /token, a /validate_refresh convenience endpoint,
// RFC 7591 dynamic client registration, and RFC 8414/RFC 7517 discovery
// documents.
package oauth2asapi

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/oauth2as"
)

// Handlers wires the oauth2as.Service onto Fiber routes.
type Handlers struct {
	svc       *oauth2as.Service
	signer    *jwks.Manager
	issuerURL string
}

func NewHandlers(svc *oauth2as.Service, signer *jwks.Manager, issuerURL string) *Handlers {
	return &Handlers{svc: svc, signer: signer, issuerURL: issuerURL}
}

// RegisterRoutes mounts the authorization server's endpoints. authenticate
// is applied only to /oauth2/authorize, the one endpoint that needs to know
// which end user is making the request; every other endpoint authenticates
// the OAuth2 client itself out of its own request body.
func (h *Handlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	app.Get("/oauth2/authorize", authenticate, h.authorize)
	app.Post("/oauth2/authorize", authenticate, h.authorize)
	app.Post("/oauth2/token", h.token)
	app.Post("/oauth2/validate_refresh", h.validateRefresh)
	app.Post("/oauth2/register", h.register)

	app.Get("/.well-known/oauth-authorization-server", h.discovery)
	app.Get("/.well-known/jwks.json", h.jwksDocument)
}

func param(c *fiber.Ctx, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return c.FormValue(key)
}

func (h *Handlers) authorize(c *fiber.Ctx) error {
	authCtx, _ := c.Locals("auth").(*kernel.AuthContext)
	var userID *kernel.UserID
	if authCtx != nil {
		userID = authCtx.UserID
	}

	code, state, err := h.svc.Authorize(c.Context(), oauth2as.AuthorizeRequest{
		ResponseType:        param(c, "response_type"),
		ClientID:            kernel.NewClientID(param(c, "client_id")),
		RedirectURI:         param(c, "redirect_uri"),
		Scope:               param(c, "scope"),
		State:               param(c, "state"),
		CodeChallenge:       param(c, "code_challenge"),
		CodeChallengeMethod: param(c, "code_challenge_method"),
		UserID:              userID,
	})
	if err != nil {
		return err
	}

	redirectURI := param(c, "redirect_uri")
	location := redirectURI + "?code=" + code
	if state != "" {
		location += "&state=" + state
	}
	return c.Redirect(location, fiber.StatusFound)
}

// clientCredentialsFromRequest reads client_id/client_secret from HTTP Basic
// auth (client_secret_basic) if present, falling back to the request body
// (client_secret_post).
func clientCredentialsFromRequest(c *fiber.Ctx) (clientID, clientSecret string) {
	authHeader := c.Get("Authorization")
	if strings.HasPrefix(authHeader, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authHeader, "Basic "))
		if err == nil {
			if idx := strings.IndexByte(string(decoded), ':'); idx >= 0 {
				return string(decoded[:idx]), string(decoded[idx+1:])
			}
		}
	}
	return c.FormValue("client_id"), c.FormValue("client_secret")
}

func (h *Handlers) token(c *fiber.Ctx) error {
	clientID, clientSecret := clientCredentialsFromRequest(c)

	resp, err := h.svc.Token(c.Context(), oauth2as.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		ClientID:     kernel.NewClientID(clientID),
		ClientSecret: clientSecret,
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Scope:        c.FormValue("scope"),
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"access_token":  resp.AccessToken,
		"token_type":    resp.TokenType,
		"expires_in":    resp.ExpiresIn,
		"scope":         resp.Scope,
		"refresh_token": resp.RefreshToken,
	})
}

func (h *Handlers) validateRefresh(c *fiber.Ctx) error {
	accessToken := c.FormValue("access_token")
	if accessToken == "" {
		accessToken = strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	}

	result := h.svc.ValidateRefresh(c.Context(), accessToken)
	if result.Status == oauth2as.ValidateRefreshValid {
		return c.JSON(fiber.Map{
			"status":     result.Status,
			"expires_in": result.ExpiresIn,
		})
	}
	return c.JSON(fiber.Map{
		"status":               result.Status,
		"reason":               result.Reason,
		"requires_full_reauth": result.RequiresFullReauth,
	})
}

func (h *Handlers) register(c *fiber.Ctx) error {
	var body struct {
		RedirectURIs            []string `json:"redirect_uris"`
		GrantTypes               []string `json:"grant_types"`
		Scope                    string   `json:"scope"`
		TokenEndpointAuthMethod  string   `json:"token_endpoint_auth_method"`
	}
	if err := c.BodyParser(&body); err != nil {
		return oauth2as.ErrInvalidRequest("malformed registration request body")
	}

	var scopes []string
	if body.Scope != "" {
		scopes = strings.Split(body.Scope, " ")
	}

	resp, err := h.svc.Register(c.Context(), oauth2as.ClientRegistrationRequest{
		RedirectURIs:            body.RedirectURIs,
		GrantTypes:              body.GrantTypes,
		Scopes:                  scopes,
		TokenEndpointAuthMethod: body.TokenEndpointAuthMethod,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"client_id":     resp.ClientID,
		"client_secret": resp.ClientSecret,
	})
}

// discovery serves the RFC 8414 authorization server metadata document.
func (h *Handlers) discovery(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"issuer":                                h.issuerURL,
		"authorization_endpoint":                h.issuerURL + "/oauth2/authorize",
		"token_endpoint":                        h.issuerURL + "/oauth2/token",
		"registration_endpoint":                 h.issuerURL + "/oauth2/register",
		"jwks_uri":                              h.issuerURL + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "client_credentials", "refresh_token"},
		"code_challenge_methods_supported":       []string{"S256"},
		"token_endpoint_auth_methods_supported":  []string{"client_secret_basic", "client_secret_post"},
	})
}

// jwksDocument serves the public half of every loaded signing key (RFC 7517).
func (h *Handlers) jwksDocument(c *fiber.Ctx) error {
	doc, err := h.signer.PublishJWKS()
	if err != nil {
		return err
	}
	return c.JSON(doc)
}
