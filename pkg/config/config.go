// Package config loads authcore's runtime configuration from the
// environment. Every setting has a documented default; nothing requires an
// env var to be set to start the server in a development configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration object, assembled once at startup by
// Load() and threaded immutably through the composition root.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	APIKey        APIKeyConfig
	RateLimit     RateLimitConfig
	OAuth2Server  OAuth2ServerConfig
	UpstreamOAuth UpstreamOAuthConfig
	Notifx        NotifxConfig
}

// Load reads the process environment and returns a fully populated Config.
func Load() *Config {
	return &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		JWT:           loadJWTConfig(),
		APIKey:        loadAPIKeyConfig(),
		RateLimit:     loadRateLimitConfig(),
		OAuth2Server:  loadOAuth2ServerConfig(),
		UpstreamOAuth: loadUpstreamOAuthConfig(),
		Notifx:        loadNotifxConfig(),
	}
}

// ServerConfig configures the HTTP listener and transport-level concerns.
type ServerConfig struct {
	HTTPPort            int
	BaseURL             string
	CORSAllowedOrigins  []string
	TLSCertPath         string
	TLSKeyPath          string
	SessionCookieSecure bool
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		BaseURL:             getEnv("BASE_URL", "http://localhost:8080"),
		CORSAllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		TLSCertPath:         getEnv("TLS_CERT_PATH", ""),
		TLSKeyPath:          getEnv("TLS_KEY_PATH", ""),
		SessionCookieSecure: getEnvBool("SESSION_COOKIE_SECURE", true),
	}
}

// DatabaseConfig configures the persistence layer (component D). URL prefix
// selects the backend: "sqlite:" / "sqlite::memory:" for SQLite, "postgres://"
// / "postgresql://" for PostgreSQL. Anything else is treated as a SQLite file
// path, per spec §6.3.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", "sqlite::memory:"),
		MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("AUTO_MIGRATE", true),
	}
}

// Driver reports the sqlx/database-sql driver name implied by URL.
func (d DatabaseConfig) Driver() string {
	switch {
	case strings.HasPrefix(d.URL, "postgres://"), strings.HasPrefix(d.URL, "postgresql://"):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// DSN returns the driver-specific connection string derived from URL.
func (d DatabaseConfig) DSN() string {
	if d.Driver() == "sqlite3" {
		return strings.TrimPrefix(d.URL, "sqlite:")
	}
	return d.URL
}

// RedisConfig configures the shared Redis client used by the burst rate
// limiter (component E) and, optionally, OAuth CSRF state storage.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnvInt("REDIS_PORT", 6379),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

// JWTConfig configures the JWKS manager (component B).
type JWTConfig struct {
	Issuer         string
	Audience       string
	AccessTokenTTL time.Duration
	KeySizeBits    int
	KeepOldKeys    int
}

func loadJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:         getEnv("JWT_ISSUER", "https://authcore.local"),
		Audience:       getEnv("JWT_AUDIENCE", "authcore-api"),
		AccessTokenTTL: time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 1)) * time.Hour,
		KeySizeBits:    getEnvInt("JWT_KEY_SIZE_BITS", 2048),
		KeepOldKeys:    getEnvInt("JWT_KEEP_OLD_KEYS", 2),
	}
}

// APIKeyConfig configures key generation (component F).
type APIKeyConfig struct {
	LivePrefix        string
	TestPrefix        string
	BodyLength        int
	TrialExpiryDays   int
	Environment       string // "live" or "test"; selects which prefix GenerateAPIKey uses by default
}

func loadAPIKeyConfig() APIKeyConfig {
	return APIKeyConfig{
		LivePrefix:      getEnv("API_KEY_LIVE_PREFIX", "pk_live_"),
		TestPrefix:      getEnv("API_KEY_TEST_PREFIX", "pk_test_"),
		BodyLength:      getEnvInt("API_KEY_BODY_LENGTH", 32),
		TrialExpiryDays: getEnvInt("API_KEY_TRIAL_EXPIRY_DAYS", 14),
		Environment:     getEnv("API_KEY_ENVIRONMENT", "test"),
	}
}

// RateLimitConfig configures the sliding-window and burst limiters
// (component E).
type RateLimitConfig struct {
	OAuthAuthorizeRPM int
	OAuthTokenRPM     int
	OAuthRegisterRPM  int
	FreeTierBurstRPM  int
	ProfessionalBurstRPM int
	EnterpriseBurstRPM   int
	BurstWindow          time.Duration
	SweepInterval        time.Duration
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		OAuthAuthorizeRPM:    getEnvInt("OAUTH_AUTHORIZE_RATE_LIMIT_RPM", 60),
		OAuthTokenRPM:        getEnvInt("OAUTH_TOKEN_RATE_LIMIT_RPM", 60),
		OAuthRegisterRPM:     getEnvInt("OAUTH_REGISTER_RATE_LIMIT_RPM", 10),
		FreeTierBurstRPM:     getEnvInt("RATE_LIMIT_FREE_TIER_BURST_RPM", 30),
		ProfessionalBurstRPM: getEnvInt("RATE_LIMIT_PROFESSIONAL_BURST_RPM", 120),
		EnterpriseBurstRPM:   getEnvInt("RATE_LIMIT_ENTERPRISE_BURST_RPM", 600),
		BurstWindow:          getEnvDuration("RATE_LIMIT_BURST_WINDOW", time.Minute),
		SweepInterval:        getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
	}
}

// OAuth2ServerConfig configures the authorization server (component G).
type OAuth2ServerConfig struct {
	IssuerURL             string
	AutoApproveUsers      bool
	DynamicRegistration   bool
	AuthCodeTTL           time.Duration
	RefreshTokenTTL       time.Duration
}

func loadOAuth2ServerConfig() OAuth2ServerConfig {
	return OAuth2ServerConfig{
		IssuerURL:           getEnv("OAUTH2_ISSUER_URL", "http://localhost:8080"),
		AutoApproveUsers:    getEnvBool("AUTO_APPROVE_USERS", false),
		DynamicRegistration: getEnvBool("OAUTH2_DYNAMIC_REGISTRATION", true),
		AuthCodeTTL:         getEnvDuration("OAUTH2_AUTH_CODE_TTL", 10*time.Minute),
		RefreshTokenTTL:     getEnvDuration("OAUTH2_REFRESH_TOKEN_TTL", 30*24*time.Hour),
	}
}

// UpstreamProviderConfig is one fitness provider's OAuth client registration.
type UpstreamProviderConfig struct {
	Enabled      bool
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	UsePKCE      bool
}

// UpstreamOAuthConfig configures the upstream OAuth client (component H).
type UpstreamOAuthConfig struct {
	Strava                    UpstreamProviderConfig
	Fitbit                    UpstreamProviderConfig
	Garmin                    UpstreamProviderConfig
	CallbackPort              int
	TokenRefreshBufferMinutes int
}

// Providers returns the enabled provider configs keyed by provider name.
func (u UpstreamOAuthConfig) Providers() map[string]UpstreamProviderConfig {
	out := map[string]UpstreamProviderConfig{}
	if u.Strava.Enabled {
		out["strava"] = u.Strava
	}
	if u.Fitbit.Enabled {
		out["fitbit"] = u.Fitbit
	}
	if u.Garmin.Enabled {
		out["garmin"] = u.Garmin
	}
	return out
}

func loadUpstreamOAuthConfig() UpstreamOAuthConfig {
	strava := UpstreamProviderConfig{
		AuthURL:      "https://www.strava.com/oauth/authorize",
		TokenURL:     "https://www.strava.com/oauth/token",
		ClientID:     getEnv("OAUTH_STRAVA_CLIENT_ID", ""),
		ClientSecret: getEnv("OAUTH_STRAVA_CLIENT_SECRET", ""),
		RedirectURI:  getEnv("OAUTH_STRAVA_REDIRECT_URI", ""),
		Scopes:       getEnvStringSlice("OAUTH_STRAVA_SCOPES", []string{"read", "activity:read_all"}),
		UsePKCE:      false,
	}
	strava.Enabled = strava.ClientID != "" && strava.ClientSecret != ""

	fitbit := UpstreamProviderConfig{
		AuthURL:      "https://www.fitbit.com/oauth2/authorize",
		TokenURL:     "https://api.fitbit.com/oauth2/token",
		RevokeURL:    "https://api.fitbit.com/oauth2/revoke",
		ClientID:     getEnv("OAUTH_FITBIT_CLIENT_ID", ""),
		ClientSecret: getEnv("OAUTH_FITBIT_CLIENT_SECRET", ""),
		RedirectURI:  getEnv("OAUTH_FITBIT_REDIRECT_URI", ""),
		Scopes:       getEnvStringSlice("OAUTH_FITBIT_SCOPES", []string{"activity", "heartrate", "profile"}),
		UsePKCE:      true,
	}
	fitbit.Enabled = fitbit.ClientID != "" && fitbit.ClientSecret != ""

	garmin := UpstreamProviderConfig{
		AuthURL:      "https://connect.garmin.com/oauthConfirm",
		TokenURL:     "https://connectapi.garmin.com/oauth-service/oauth/token",
		ClientID:     getEnv("OAUTH_GARMIN_CLIENT_ID", ""),
		ClientSecret: getEnv("OAUTH_GARMIN_CLIENT_SECRET", ""),
		RedirectURI:  getEnv("OAUTH_GARMIN_REDIRECT_URI", ""),
		Scopes:       getEnvStringSlice("OAUTH_GARMIN_SCOPES", []string{}),
		UsePKCE:      false,
	}
	garmin.Enabled = garmin.ClientID != "" && garmin.ClientSecret != ""

	return UpstreamOAuthConfig{
		Strava:                    strava,
		Fitbit:                    fitbit,
		Garmin:                    garmin,
		CallbackPort:              getEnvInt("OAUTH_CALLBACK_PORT", 8080),
		TokenRefreshBufferMinutes: getEnvInt("TOKEN_REFRESH_BUFFER_MINUTES", 10),
	}
}

// ============================================================================
// env helpers
// ============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvStringSlice(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
