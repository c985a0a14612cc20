// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis) and wires every
// bounded-context package into the services the HTTP and MCP surfaces call.
package main

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/trailforge/authcore/pkg/audit"
	"github.com/trailforge/authcore/pkg/config"
	"github.com/trailforge/authcore/pkg/iam/apikey/apikeyinfra"
	"github.com/trailforge/authcore/pkg/iam/apikey/apikeysrv"
	"github.com/trailforge/authcore/pkg/iam/auth"
	"github.com/trailforge/authcore/pkg/iam/auth/authapi"
	"github.com/trailforge/authcore/pkg/iam/cryptobox"
	"github.com/trailforge/authcore/pkg/iam/jwks"
	"github.com/trailforge/authcore/pkg/iam/passwordreset"
	"github.com/trailforge/authcore/pkg/iam/ratelimit"
	"github.com/trailforge/authcore/pkg/iam/tenant"
	"github.com/trailforge/authcore/pkg/iam/user"
	"github.com/trailforge/authcore/pkg/kernel"
	"github.com/trailforge/authcore/pkg/logx"
	"github.com/trailforge/authcore/pkg/mcp"
	"github.com/trailforge/authcore/pkg/mcp/mcpapi"
	"github.com/trailforge/authcore/pkg/notifx"
	"github.com/trailforge/authcore/pkg/notifx/notifxconsole"
	"github.com/trailforge/authcore/pkg/notifyqueue"
	"github.com/trailforge/authcore/pkg/oauth2as"
	"github.com/trailforge/authcore/pkg/oauth2as/oauth2asapi"
	"github.com/trailforge/authcore/pkg/secretstore"
	"github.com/trailforge/authcore/pkg/storage"
	"github.com/trailforge/authcore/pkg/upstreamoauth"
	"github.com/trailforge/authcore/pkg/upstreamoauth/upstreamoauthapi"
)

// Container holds shared infrastructure and every service the HTTP/MCP
// surfaces are built from.
type Container struct {
	Config *config.Config

	DB    *sqlx.DB
	Redis *redis.Client

	Signer         *jwks.Manager
	Box            *cryptobox.Box
	Users          *user.Service
	Tenants        *tenant.Resolver
	APIKeys        *apikeysrv.Service
	MonthlyLimiter *ratelimit.MonthlyLimiter
	BurstLimiter   *ratelimit.BurstLimiter
	BurstSweeper   *ratelimit.Sweeper
	Auditor        *audit.Logger
	Mailer         *notifx.Client
	PasswordReset  *passwordreset.Service
	AuthService    *auth.Service
	UnifiedAuth    *auth.UnifiedAuthMiddleware
	OAuth2AS       *oauth2as.Service
	Notifications  *notifyqueue.Service
	UpstreamOAuth  *upstreamoauth.Client
	MCPRegistry    *mcp.Registry
	MCPGate        *mcp.Gate
	MCPRouter      *mcp.Router

	AuthAPI          *authapi.Handlers
	OAuth2API        *oauth2asapi.Handlers
	UpstreamOAuthAPI *upstreamoauthapi.Handlers
	MCPAPI           *mcpapi.Handlers
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("initializing container")

	c := &Container{Config: cfg}
	c.initInfrastructure()
	c.initServices()
	c.initHandlers()

	logx.Info("container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure — DB, Redis
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	db, err := storage.Open(c.Config.Database)
	if err != nil {
		logx.Fatalf("failed to open database: %v", err)
	}
	c.DB = db

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
		logx.Fatalf("failed to connect to redis: %v", err)
	}
	logx.Info("infrastructure ready")
}

// ---------------------------------------------------------------------------
// Services — one section per bounded context, in dependency order
// ---------------------------------------------------------------------------

func (c *Container) initServices() {
	ctx := context.Background()

	secrets := secretstore.New(secretstore.NewSQLRepository(c.DB))
	encryptionKey, err := secrets.GetOrCreate(ctx, secretstore.TokenEncryptionKey)
	if err != nil {
		logx.Fatalf("failed to provision token encryption key: %v", err)
	}
	box, err := cryptobox.New(encryptionKey)
	if err != nil {
		logx.Fatalf("failed to initialize cryptobox: %v", err)
	}
	c.Box = box

	signer, err := jwks.NewManager(ctx, jwks.NewSQLKeyRepository(c.DB), c.Config.JWT.KeySizeBits)
	if err != nil {
		logx.Fatalf("failed to initialize jwks manager: %v", err)
	}
	c.Signer = signer

	c.Users = user.NewService(user.NewSQLRepository(c.DB), c.Config.OAuth2Server.AutoApproveUsers)
	c.Tenants = tenant.NewResolver(userLookupAdapter{users: c.Users}, tenant.NewSQLRepository(c.DB))

	usageRepo := apikeyinfra.NewSQLUsageRepository(c.DB)
	c.APIKeys = apikeysrv.NewService(apikeyinfra.NewSQLRepository(c.DB))
	c.MonthlyLimiter = ratelimit.NewMonthlyLimiter(usageRepo)
	c.BurstLimiter = ratelimit.NewBurstLimiter(c.Redis, c.Config.RateLimit.BurstWindow)
	c.BurstSweeper = ratelimit.NewSweeper(c.Redis, c.Config.RateLimit.SweepInterval)

	c.Auditor = audit.NewLogger(audit.NewSQLRepository(c.DB))

	c.Mailer = notifx.NewClient(notifxconsole.NewConsoleProvider())
	c.PasswordReset = passwordreset.NewService(
		c.Users,
		passwordreset.NewSQLRepository(c.DB),
		resetMailer{
			client:      c.Mailer,
			issuerURL:   c.Config.OAuth2Server.IssuerURL,
			fromAddress: c.Config.Notifx.FromAddress,
			fromName:    c.Config.Notifx.FromName,
		},
		0, // passwordreset.NewService applies its own 30-minute default
	)

	c.AuthService = auth.NewService(
		c.Users, c.Tenants, c.Signer,
		auth.NewSQLTokenRepository(c.DB),
		c.Auditor,
		c.Config.JWT.AccessTokenTTL,
		c.Config.OAuth2Server.RefreshTokenTTL,
	)

	c.UnifiedAuth = auth.NewUnifiedAuthMiddleware(c.APIKeys, c.MonthlyLimiter, c.Signer, c.Users, c.Tenants)

	c.OAuth2AS = oauth2as.NewService(
		oauth2as.NewSQLClientRepository(c.DB),
		oauth2as.NewSQLAuthCodeRepository(c.DB),
		oauth2as.NewSQLRefreshTokenRepository(c.DB),
		oauth2as.NewSQLStateRepository(c.DB),
		c.Signer,
		c.Users,
		c.Config.OAuth2Server.IssuerURL,
		c.Config.OAuth2Server.AuthCodeTTL,
		c.Config.OAuth2Server.RefreshTokenTTL,
	)

	c.Notifications = notifyqueue.NewService(notifyqueue.NewSQLRepository(c.DB))

	c.UpstreamOAuth = upstreamoauth.NewClient(
		toProviderConfigs(c.Config.UpstreamOAuth.Providers()),
		upstreamoauth.NewSQLTokenRepository(c.DB),
		upstreamoauth.NewSQLStateRepository(c.DB),
		c.Box,
		c.Notifications,
		c.Tenants,
		c.Config.UpstreamOAuth.CallbackPort,
		time.Duration(c.Config.UpstreamOAuth.TokenRefreshBufferMinutes)*time.Minute,
	)

	c.MCPRegistry = mcp.NewRegistry()
	c.MCPRegistry.Register(mcp.NewServerInfoTool("2025-06-18", "authcore", "0.1.0"))
	c.MCPRegistry.Register(mcp.NewListProvidersTool(c.UpstreamOAuth))
	c.MCPRegistry.Register(mcp.NewConnectionStatusTool(c.UpstreamOAuth))
	c.MCPRegistry.Register(mcp.NewListNotificationsTool(c.Notifications))

	c.MCPGate = mcp.NewGate(c.MCPRegistry, mcp.NewSQLCatalogRepository(c.DB))
	c.MCPRouter = mcp.NewRouter(c.MCPRegistry, c.MCPGate, c.UnifiedAuth, c.Notifications, "2025-06-18", "authcore", "0.1.0")
}

func (c *Container) initHandlers() {
	c.AuthAPI = authapi.NewHandlers(c.AuthService, c.PasswordReset)
	c.OAuth2API = oauth2asapi.NewHandlers(c.OAuth2AS, c.Signer, c.Config.OAuth2Server.IssuerURL)
	c.UpstreamOAuthAPI = upstreamoauthapi.NewHandlers(c.UpstreamOAuth)
	c.MCPAPI = mcpapi.NewHandlers(c.MCPRouter)
}

func toProviderConfigs(configured map[string]config.UpstreamProviderConfig) map[string]upstreamoauth.ProviderConfig {
	out := make(map[string]upstreamoauth.ProviderConfig, len(configured))
	for name, p := range configured {
		out[name] = upstreamoauth.ProviderConfig{
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			RevokeURL:    p.RevokeURL,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURI:  p.RedirectURI,
			Scopes:       p.Scopes,
			UsePKCE:      p.UsePKCE,
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (c *Container) StartBackgroundServices(ctx context.Context) {
	go c.BurstSweeper.Start(ctx)
}

func (c *Container) Cleanup() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("error closing database: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("error closing redis: %v", err)
		}
	}
}

// userLookupAdapter narrows user.Service to the tenant.UserLookup port, the
// same "load the full record, project the one field the caller needs" shape
// pkg/iam/auth's test fakes already use.
type userLookupAdapter struct {
	users *user.Service
}

func (a userLookupAdapter) TenantIDOf(ctx context.Context, userID kernel.UserID) (*kernel.TenantID, error) {
	u, err := a.users.Get(ctx, userID)
	if err != nil {
		if user.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return u.TenantID, nil
}

func (a userLookupAdapter) IsAdmin(ctx context.Context, userID kernel.UserID) (bool, error) {
	u, err := a.users.Get(ctx, userID)
	if err != nil {
		if user.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin, nil
}

// resetMailer adapts notifx.Client to passwordreset.Notifier.
type resetMailer struct {
	client      *notifx.Client
	issuerURL   string
	fromAddress string
	fromName    string
}

func (m resetMailer) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	resetURL := m.issuerURL + "/reset-password?token=" + token
	return m.client.SendEmail(ctx, notifx.EmailMessage{
		From:     m.fromName + " <" + m.fromAddress + ">",
		To:       []string{toEmail},
		Subject:  "Reset your password",
		TextBody: "Use this link to reset your password: " + resetURL + "\nIf you did not request this, ignore this email.",
	})
}
