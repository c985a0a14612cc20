package upstreamoauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/iam/cryptobox"
	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/logx"
	"github.com/trailforge/authcore/pkg/notifyqueue"
)

const (
	stateTTL              = 10 * time.Minute
	defaultAccessTokenTTL = time.Hour

	tokenEndpointTimeout        = 15 * time.Second
	tokenEndpointConnectTimeout = 5 * time.Second
	bridgeCallbackTimeout       = 5 * time.Second
)

// Client implements the client half of OAuth2 against a fixed set of
// configured providers. One Client is shared across all tenants/users; the
// provider registration it holds is static server configuration, not
// per-user state.
type Client struct {
	providers     map[string]ProviderConfig
	tokens        TokenRepository
	states        StateRepository
	box           *cryptobox.Box
	notifications *notifyqueue.Service
	tenants       TenantResolver
	httpClient    *http.Client
	callbackPort  int
	refreshBuffer time.Duration
}

// NewClient builds a Client from its configured providers (already filtered
// to enabled ones, e.g. via config.UpstreamOAuthConfig.Providers()). tenants
// may be nil, in which case HandleCallback falls back to the single-tenant
// convention tenant_id == user_id.
func NewClient(providers map[string]ProviderConfig, tokens TokenRepository, states StateRepository, box *cryptobox.Box, notifications *notifyqueue.Service, tenants TenantResolver, callbackPort int, refreshBuffer time.Duration) *Client {
	if refreshBuffer <= 0 {
		refreshBuffer = 10 * time.Minute
	}
	return &Client{
		providers:     providers,
		tokens:        tokens,
		states:        states,
		box:           box,
		notifications: notifications,
		tenants:       tenants,
		httpClient: &http.Client{
			Timeout: tokenEndpointTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: tokenEndpointConnectTimeout}).DialContext,
			},
		},
		callbackPort:  callbackPort,
		refreshBuffer: refreshBuffer,
	}
}

// Providers returns the configured provider names in no particular order,
// for callers (MCP discovery tools, the connection-status endpoint) that
// need to list what's available without reaching into the config package.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	return names
}

// Connected reports whether userID/tenantID has a live (non-stale) token on
// record for provider.
func (c *Client) Connected(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (*UserOAuthToken, bool) {
	tok, err := c.tokens.Find(ctx, userID, tenantID, provider)
	if err != nil || tok == nil || tok.Stale {
		return nil, false
	}
	return tok, true
}

func (c *Client) resolveTenant(ctx context.Context, userID kernel.UserID) (kernel.TenantID, error) {
	if c.tenants == nil {
		return kernel.NewTenantID(userID.String()), nil
	}
	tc, err := c.tenants.Resolve(ctx, userID, nil)
	if err != nil {
		return "", err
	}
	return tc.TenantID, nil
}

func (c *Client) provider(name string) (ProviderConfig, error) {
	p, ok := c.providers[name]
	if !ok {
		return ProviderConfig{}, ErrUnknownProvider(name)
	}
	return p, nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BuildAuthURL composes the provider's authorization URL and persists a
// one-shot CSRF state value the callback must present to redeem it.
func (c *Client) BuildAuthURL(ctx context.Context, provider string, userID kernel.UserID) (string, error) {
	p, err := c.provider(provider)
	if err != nil {
		return "", err
	}

	random, err := randomURLSafe(16)
	if err != nil {
		return "", errx.Crypto("failed to generate state")
	}
	stateValue := userID.String() + ":" + random

	var verifier string
	if p.UsePKCE {
		// Providers that require PKCE (e.g. Fitbit) get a verifier/challenge
		// pair minted per authorization attempt; the verifier travels in the
		// state store alongside the CSRF value rather than in a cookie, since
		// this flow has no browser session of its own.
		verifier, err = randomURLSafe(32)
		if err != nil {
			return "", errx.Crypto("failed to generate PKCE verifier")
		}
	}

	now := time.Now().UTC()
	if err := c.states.Save(ctx, OAuthClientState{
		StateValue:   stateValue,
		Provider:     provider,
		UserID:       userID,
		CodeVerifier: verifier,
		ExpiresAt:    now.Add(stateTTL),
		CreatedAt:    now,
	}); err != nil {
		return "", errx.Wrap(err, "failed to persist OAuth client state", errx.TypeInternal)
	}

	q := url.Values{}
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", stateValue)
	if len(p.Scopes) > 0 {
		q.Set("scope", strings.Join(p.Scopes, " "))
	}
	if p.UsePKCE {
		q.Set("code_challenge_method", "S256")
		q.Set("code_challenge", pkceChallenge(verifier))
	}

	return p.AuthURL + "?" + q.Encode(), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// providerTokenResponse is the RFC 6749 §5.1 shape every provider's token
// endpoint returns, trimmed to the fields this client consumes.
type providerTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// HandleCallback verifies the state parameter, exchanges the authorization
// code, encrypts and stores the resulting tokens, and notifies the caller.
// It is steps 2-5 of the provider connection flow. The tenant is resolved
// from the state's user_id rather than taken from the request, since the
// provider's redirect carries no authenticated session of its own.
func (c *Client) HandleCallback(ctx context.Context, provider, stateValue, code string) error {
	st, err := c.states.ConsumeState(ctx, stateValue, time.Now().UTC())
	if err != nil {
		return ErrInvalidState()
	}
	if st.Provider != provider {
		return ErrInvalidState()
	}

	tenantID, err := c.resolveTenant(ctx, st.UserID)
	if err != nil {
		return err
	}

	tok, err := c.exchangeCode(ctx, provider, code, st.CodeVerifier)
	if err != nil {
		logx.WithFields(logx.Fields{
			"user_id":  st.UserID.String(),
			"provider": provider,
		}).WithError(err).Error("failed to exchange OAuth code for token")
		c.notify(ctx, st.UserID, provider, false, err.Error(), nil)
		return ErrExchangeFailed(err)
	}

	if err := c.storeToken(ctx, st.UserID, tenantID, provider, tok); err != nil {
		c.notify(ctx, st.UserID, provider, false, err.Error(), nil)
		return err
	}

	expiresAt := time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.notify(ctx, st.UserID, provider, true, fmt.Sprintf("%s connected", provider), &expiresAt)
	c.postBridgeCallback(provider, st.UserID)
	return nil
}

// ExchangeCode performs the authorization_code grant against the provider's
// token endpoint. A missing expires_in defaults to one hour out.
func (c *Client) ExchangeCode(ctx context.Context, provider, code string) (*providerTokenResponse, error) {
	return c.exchangeCode(ctx, provider, code, "")
}

func (c *Client) exchangeCode(ctx context.Context, provider, code, codeVerifier string) (*providerTokenResponse, error) {
	p, err := c.provider(provider)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("redirect_uri", p.RedirectURI)
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}

	return c.postForm(ctx, p.TokenURL, form)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*providerTokenResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tokenEndpointTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var out providerTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = int(defaultAccessTokenTTL.Seconds())
	}
	return &out, nil
}

func (c *Client) storeToken(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string, tok *providerTokenResponse) error {
	aad := []byte(userID.String() + ":" + provider)

	accessCT, nonce, err := c.box.Encrypt([]byte(tok.AccessToken), aad)
	if err != nil {
		return errx.Wrap(err, "failed to encrypt access token", errx.TypeCrypto)
	}

	var refreshCT []byte
	if tok.RefreshToken != "" {
		// The refresh token is sealed with the same nonce and AAD as the
		// access token; a row is always replaced wholesale (see Upsert's
		// contract), so reusing the nonce within one row never repeats it
		// across two different plaintexts sealed under the same key.
		refreshCT, _, err = c.box.Encrypt([]byte(tok.RefreshToken), aad)
		if err != nil {
			return errx.Wrap(err, "failed to encrypt refresh token", errx.TypeCrypto)
		}
	}

	row := UserOAuthToken{
		ID:                    uuid.NewString(),
		UserID:                userID,
		TenantID:              tenantID,
		Provider:              provider,
		EncryptedAccessToken:  accessCT,
		EncryptedRefreshToken: refreshCT,
		Nonce:                 nonce,
		Scope:                 tok.Scope,
		ExpiresAt:             time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
		CreatedAt:             time.Now().UTC(),
		UpdatedAt:             time.Now().UTC(),
	}
	if err := c.tokens.Upsert(ctx, row); err != nil {
		return errx.Wrap(err, "failed to persist upstream OAuth token", errx.TypeInternal)
	}
	return nil
}

// RefreshIfNeeded refreshes the stored token for (userID, tenantID,
// provider) when it is within the configured buffer of expiry. It is a
// no-op, returning the existing row unchanged, when the token still has
// life left.
func (c *Client) RefreshIfNeeded(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) (*UserOAuthToken, error) {
	existing, err := c.tokens.Find(ctx, userID, tenantID, provider)
	if err != nil {
		return nil, ErrNotConnected(provider)
	}
	if time.Until(existing.ExpiresAt) > c.refreshBuffer {
		return existing, nil
	}

	p, err := c.provider(provider)
	if err != nil {
		return nil, err
	}

	refreshToken, err := c.decryptRefreshToken(existing)
	if err != nil || refreshToken == "" {
		_ = c.tokens.MarkStale(ctx, userID, tenantID, provider)
		return nil, ErrRefreshFailed(errors.New("no refresh token on record"))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)

	tok, err := c.postForm(ctx, p.TokenURL, form)
	if err != nil {
		if markErr := c.tokens.MarkStale(ctx, userID, tenantID, provider); markErr != nil {
			logx.WithError(markErr).Warn("failed to mark upstream OAuth token stale")
		}
		c.notify(ctx, userID, provider, false, fmt.Sprintf("%s requires re-authorization", provider), nil)
		return nil, ErrRefreshFailed(err)
	}
	if tok.RefreshToken == "" {
		// Some providers omit refresh_token on rotation, meaning the old one
		// remains valid; carry it forward rather than losing it.
		tok.RefreshToken = refreshToken
	}

	if err := c.storeToken(ctx, userID, tenantID, provider, tok); err != nil {
		return nil, err
	}
	return c.tokens.Find(ctx, userID, tenantID, provider)
}

func (c *Client) decryptRefreshToken(tok *UserOAuthToken) (string, error) {
	if len(tok.EncryptedRefreshToken) == 0 {
		return "", nil
	}
	aad := []byte(tok.UserID.String() + ":" + tok.Provider)
	plaintext, err := c.box.Decrypt(tok.EncryptedRefreshToken, tok.Nonce, aad)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Disconnect optionally revokes the token at the provider, then deletes the
// stored row and emits a notification regardless of whether revocation
// succeeded.
func (c *Client) Disconnect(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, provider string) error {
	p, err := c.provider(provider)
	if err != nil {
		return err
	}

	existing, err := c.tokens.Find(ctx, userID, tenantID, provider)
	if err != nil {
		return ErrNotConnected(provider)
	}

	if p.RevokeURL != "" {
		if accessToken, derr := c.decryptAccessToken(existing); derr == nil {
			form := url.Values{}
			form.Set("token", accessToken)
			form.Set("client_id", p.ClientID)
			form.Set("client_secret", p.ClientSecret)
			if _, err := c.postForm(ctx, p.RevokeURL, form); err != nil {
				logx.WithFields(logx.Fields{"user_id": userID.String(), "provider": provider}).
					WithError(err).Warn("failed to revoke upstream OAuth token, disconnecting locally anyway")
			}
		}
	}

	if err := c.tokens.Delete(ctx, userID, tenantID, provider); err != nil {
		return errx.Wrap(err, "failed to delete upstream OAuth token", errx.TypeInternal)
	}

	c.notify(ctx, userID, provider, true, fmt.Sprintf("%s disconnected", provider), nil)
	return nil
}

func (c *Client) decryptAccessToken(tok *UserOAuthToken) (string, error) {
	aad := []byte(tok.UserID.String() + ":" + tok.Provider)
	plaintext, err := c.box.Decrypt(tok.EncryptedAccessToken, tok.Nonce, aad)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (c *Client) notify(ctx context.Context, userID kernel.UserID, provider string, success bool, message string, expiresAt *time.Time) {
	if c.notifications == nil {
		return
	}
	if err := c.notifications.Store(ctx, userID, provider, success, message, expiresAt); err != nil {
		logx.WithError(err).Warn("failed to store OAuth notification")
	}
}

// postBridgeCallback is a best-effort, fire-and-forget notification to the
// local bridge process; failures are logged and never surfaced to the
// caller, since the connection itself already succeeded.
func (c *Client) postBridgeCallback(provider string, userID kernel.UserID) {
	if c.callbackPort <= 0 {
		return
	}
	endpoint := fmt.Sprintf("http://localhost:%d/oauth/provider-callback/%s", c.callbackPort, provider)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeCallbackTimeout)
		defer cancel()

		body, _ := json.Marshal(map[string]string{"user_id": userID.String(), "provider": provider})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			logx.WithError(err).Warn("failed to build bridge callback request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		client := &http.Client{Timeout: bridgeCallbackTimeout}
		resp, err := client.Do(req)
		if err != nil {
			logx.WithError(err).Warn("bridge callback notification failed")
			return
		}
		resp.Body.Close()
	}()
}
