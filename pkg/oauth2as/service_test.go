package oauth2as

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/kernel"
)

// --- fake repositories -------------------------------------------------

type memClientRepo struct {
	clients map[string]OAuth2Client
}

func newMemClientRepo() *memClientRepo { return &memClientRepo{clients: map[string]OAuth2Client{}} }

func (m *memClientRepo) FindByID(_ context.Context, clientID kernel.ClientID) (*OAuth2Client, error) {
	c, ok := m.clients[clientID.String()]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (m *memClientRepo) Save(_ context.Context, client OAuth2Client) error {
	m.clients[client.ClientID.String()] = client
	return nil
}

type memAuthCodeRepo struct {
	codes map[string]OAuth2AuthCode
}

func newMemAuthCodeRepo() *memAuthCodeRepo { return &memAuthCodeRepo{codes: map[string]OAuth2AuthCode{}} }

func (m *memAuthCodeRepo) Save(_ context.Context, code OAuth2AuthCode) error {
	m.codes[code.Code] = code
	return nil
}

func (m *memAuthCodeRepo) ConsumeAuthCode(_ context.Context, code string, clientID kernel.ClientID, redirectURI string, now time.Time) (*OAuth2AuthCode, error) {
	ac, ok := m.codes[code]
	if !ok || ac.Used || ac.ClientID != clientID || ac.RedirectURI != redirectURI || !ac.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	ac.Used = true
	m.codes[code] = ac
	return &ac, nil
}

type memRefreshRepo struct {
	tokens map[string]OAuth2RefreshToken
}

func newMemRefreshRepo() *memRefreshRepo { return &memRefreshRepo{tokens: map[string]OAuth2RefreshToken{}} }

func (m *memRefreshRepo) Save(_ context.Context, token OAuth2RefreshToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *memRefreshRepo) ConsumeRefreshToken(_ context.Context, token string, clientID kernel.ClientID, successor OAuth2RefreshToken, now time.Time) (*OAuth2RefreshToken, error) {
	rt, ok := m.tokens[token]
	if !ok || rt.Revoked || rt.ClientID != clientID || !rt.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	rt.Revoked = true
	m.tokens[token] = rt

	successor.ClientID = clientID
	successor.UserID = rt.UserID
	successor.Scope = rt.Scope
	if successor.ExpiresAt.IsZero() {
		successor.ExpiresAt = rt.ExpiresAt
	}
	m.tokens[successor.Token] = successor
	return &rt, nil
}

type memStateRepo struct {
	states map[string]OAuth2State
}

func newMemStateRepo() *memStateRepo { return &memStateRepo{states: map[string]OAuth2State{}} }

func (m *memStateRepo) Save(_ context.Context, state OAuth2State) error {
	m.states[state.StateValue] = state
	return nil
}

func (m *memStateRepo) ConsumeState(_ context.Context, stateValue string, now time.Time) (*OAuth2State, error) {
	st, ok := m.states[stateValue]
	if !ok || !st.ExpiresAt.After(now) {
		return nil, sql.ErrNoRows
	}
	delete(m.states, stateValue)
	return &st, nil
}

// --- test scaffolding ----------------------------------------------------

func newTestService(t *testing.T) (*Service, *memClientRepo, string) {
	t.Helper()

	keyRepo := newMemKeyRepoForOAuth2AS()
	manager, err := jwks.NewManager(context.Background(), keyRepo, 1024)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	clients := newMemClientRepo()
	secret := "s3cr3t-value"
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	clients.clients["client-1"] = OAuth2Client{
		ClientID:         kernel.NewClientID("client-1"),
		ClientSecretHash: string(hash),
		RedirectURIs:     []string{"https://app.example.com/callback"},
		GrantTypes:       []string{"authorization_code", "refresh_token", "client_credentials"},
	}

	svc := NewService(clients, newMemAuthCodeRepo(), newMemRefreshRepo(), newMemStateRepo(), manager, nil, "https://authcore.example.com", 10*time.Minute, 30*24*time.Hour)
	return svc, clients, secret
}

// memKeyRepoForOAuth2AS is a minimal in-memory jwks.KeyRepository, kept
// local to this package so these tests don't reach into jwks's own
// unexported test fakes.
type memKeyRepoForOAuth2AS struct {
	keys []jwks.RSAKeyPair
}

func newMemKeyRepoForOAuth2AS() *memKeyRepoForOAuth2AS {
	return &memKeyRepoForOAuth2AS{}
}

func (m *memKeyRepoForOAuth2AS) Save(_ context.Context, kp jwks.RSAKeyPair) error {
	m.keys = append(m.keys, kp)
	return nil
}

func (m *memKeyRepoForOAuth2AS) FindActive(_ context.Context) (*jwks.RSAKeyPair, error) {
	for _, k := range m.keys {
		if k.IsActive {
			return &k, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memKeyRepoForOAuth2AS) FindAll(_ context.Context) ([]jwks.RSAKeyPair, error) {
	return m.keys, nil
}

func (m *memKeyRepoForOAuth2AS) FindByKID(_ context.Context, kid string) (*jwks.RSAKeyPair, error) {
	for _, k := range m.keys {
		if k.KID == kid {
			return &k, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memKeyRepoForOAuth2AS) DeactivateAll(_ context.Context) error {
	for i := range m.keys {
		m.keys[i].IsActive = false
	}
	return nil
}

func (m *memKeyRepoForOAuth2AS) DeleteOlderThan(_ context.Context, keepCount int) error {
	if len(m.keys) <= keepCount {
		return nil
	}
	m.keys = m.keys[len(m.keys)-keepCount:]
	return nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// --- Authorize ------------------------------------------------------------

func TestAuthorizeSucceedsWithValidRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	userID := kernel.NewUserID("user-1")
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	code, state, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		State:               "xyz",
		CodeChallenge:       pkceChallenge(verifier),
		CodeChallengeMethod: "S256",
		UserID:              &userID,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if code == "" {
		t.Error("expected a non-empty authorization code")
	}
	if state != "xyz" {
		t.Errorf("expected state to be echoed back, got %q", state)
	}
}

func TestAuthorizeRejectsUnsupportedResponseType(t *testing.T) {
	svc, _, _ := newTestService(t)
	userID := kernel.NewUserID("user-1")

	_, _, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "token",
		ClientID:     kernel.NewClientID("client-1"),
		RedirectURI:  "https://app.example.com/callback",
		UserID:       &userID,
	})
	if err == nil {
		t.Fatal("expected an error for response_type != code")
	}
}

func TestAuthorizeRejectsUnknownClient(t *testing.T) {
	svc, _, _ := newTestService(t)
	userID := kernel.NewUserID("user-1")

	_, _, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     kernel.NewClientID("does-not-exist"),
		RedirectURI:  "https://app.example.com/callback",
		UserID:       &userID,
	})
	if err == nil {
		t.Fatal("expected invalid_client error")
	}
}

func TestAuthorizeRejectsMismatchedRedirectURI(t *testing.T) {
	svc, _, _ := newTestService(t)
	userID := kernel.NewUserID("user-1")

	_, _, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code",
		ClientID:     kernel.NewClientID("client-1"),
		RedirectURI:  "https://evil.example.com/callback",
		UserID:       &userID,
	})
	if err == nil {
		t.Fatal("expected invalid redirect_uri error")
	}
}

func TestAuthorizeRejectsPlainPKCEMethod(t *testing.T) {
	svc, _, _ := newTestService(t)
	userID := kernel.NewUserID("user-1")
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	_, _, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       verifier,
		CodeChallengeMethod: "plain",
		UserID:              &userID,
	})
	if err == nil {
		t.Fatal("expected plain code_challenge_method to be rejected")
	}
}

func TestAuthorizeRequiresAuthenticatedUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	_, _, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       pkceChallenge(verifier),
		CodeChallengeMethod: "S256",
	})
	if err == nil {
		t.Fatal("expected authentication_required error")
	}
}

// --- Token: authorization_code --------------------------------------------

func TestTokenAuthorizationCodeGrantRoundTrip(t *testing.T) {
	svc, _, secret := newTestService(t)
	userID := kernel.NewUserID("user-1")
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	code, _, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       pkceChallenge(verifier),
		CodeChallengeMethod: "S256",
		UserID:              &userID,
		Scope:               "profile email",
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	resp, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("expected both an access token and a refresh token")
	}
	if resp.Scope != "profile email" {
		t.Errorf("expected scope to carry through, got %q", resp.Scope)
	}
}

func TestTokenAuthorizationCodeIsSingleUse(t *testing.T) {
	svc, _, secret := newTestService(t)
	userID := kernel.NewUserID("user-1")
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	code, _, _ := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       pkceChallenge(verifier),
		CodeChallengeMethod: "S256",
		UserID:              &userID,
	})

	req := TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: verifier,
	}
	if _, err := svc.Token(context.Background(), req); err != nil {
		t.Fatalf("first Token() call: unexpected error = %v", err)
	}
	if _, err := svc.Token(context.Background(), req); err == nil {
		t.Fatal("expected replayed authorization code to be rejected")
	}
}

func TestTokenAuthorizationCodeRejectsWrongPKCEVerifier(t *testing.T) {
	svc, _, secret := newTestService(t)
	userID := kernel.NewUserID("user-1")
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	code, _, _ := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       pkceChallenge(verifier),
		CodeChallengeMethod: "S256",
		UserID:              &userID,
	})

	_, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: "a-completely-different-verifier-value-here",
	})
	if err == nil {
		t.Fatal("expected PKCE mismatch to be rejected")
	}
}

func TestTokenRejectsWrongClientSecret(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: "wrong-secret",
	})
	if err == nil {
		t.Fatal("expected invalid_client error for wrong client secret")
	}
}

// --- Token: client_credentials --------------------------------------------

func TestTokenClientCredentialsGrant(t *testing.T) {
	svc, _, secret := newTestService(t)
	resp, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		Scope:        "tools:read",
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("expected an access token")
	}
	if resp.RefreshToken != "" {
		t.Error("client_credentials grant must not return a refresh token")
	}
}

// --- Token: refresh_token --------------------------------------------------

func TestTokenRefreshGrantRotatesToken(t *testing.T) {
	svc, _, secret := newTestService(t)
	userID := kernel.NewUserID("user-1")
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	code, _, _ := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       pkceChallenge(verifier),
		CodeChallengeMethod: "S256",
		UserID:              &userID,
	})
	first, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("initial Token() error = %v", err)
	}

	second, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh Token() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("expected refresh token rotation to mint a distinct token")
	}

	// Replaying the original (now-revoked) refresh token must fail closed.
	if _, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		RefreshToken: first.RefreshToken,
	}); err == nil {
		t.Fatal("expected replay of a revoked refresh token to be rejected")
	}
}

// --- ValidateRefresh ---------------------------------------------------

func TestValidateRefreshReportsValidForFreshToken(t *testing.T) {
	svc, _, secret := newTestService(t)
	userID := kernel.NewUserID("user-1")
	verifier := "a-sufficiently-long-pkce-code-verifier-1234567"

	code, _, _ := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            kernel.NewClientID("client-1"),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       pkceChallenge(verifier),
		CodeChallengeMethod: "S256",
		UserID:              &userID,
	})
	resp, err := svc.Token(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     kernel.NewClientID("client-1"),
		ClientSecret: secret,
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	result := svc.ValidateRefresh(context.Background(), resp.AccessToken)
	if result.Status != ValidateRefreshValid {
		t.Errorf("expected Valid status, got %v (reason=%s)", result.Status, result.Reason)
	}
}

func TestValidateRefreshReportsInvalidForGarbageToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	result := svc.ValidateRefresh(context.Background(), "not-a-real-token")
	if result.Status != ValidateRefreshInvalid {
		t.Error("expected Invalid status for a malformed token")
	}
	if !result.RequiresFullReauth {
		t.Error("expected RequiresFullReauth to be true")
	}
}

// --- Register (RFC 7591) ---------------------------------------------------

func TestRegisterCreatesClientWithSecretShownOnce(t *testing.T) {
	svc, clients, _ := newTestService(t)
	resp, err := svc.Register(context.Background(), ClientRegistrationRequest{
		RedirectURIs: []string{"https://new-client.example.com/callback"},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if resp.ClientID == "" || resp.ClientSecret == "" {
		t.Fatal("expected both client_id and client_secret to be populated")
	}

	stored, ok := clients.clients[resp.ClientID]
	if !ok {
		t.Fatal("expected the new client to be persisted")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.ClientSecretHash), []byte(resp.ClientSecret)); err != nil {
		t.Error("expected stored hash to match the returned secret")
	}
}

func TestRegisterRejectsMissingRedirectURIs(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Register(context.Background(), ClientRegistrationRequest{})
	if err == nil {
		t.Fatal("expected redirect_uris to be required")
	}
}

// --- State ------------------------------------------------------------

func TestIssueAndConsumeStateRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	userID := kernel.NewUserID("user-1")

	value, err := svc.IssueState(context.Background(), kernel.NewClientID("client-1"), &userID)
	if err != nil {
		t.Fatalf("IssueState() error = %v", err)
	}

	st, err := svc.ConsumeState(context.Background(), value)
	if err != nil {
		t.Fatalf("ConsumeState() error = %v", err)
	}
	if st.UserID == nil || *st.UserID != userID {
		t.Error("expected consumed state to carry the issuing user")
	}

	if _, err := svc.ConsumeState(context.Background(), value); err == nil {
		t.Fatal("expected state to be single-use")
	}
}
