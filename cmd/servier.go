package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/trailforge/authcore/pkg/config"
	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/logx"
)

func main() {
	cfg := config.Load()

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		logx.SetLevel(logx.LevelDebug)
	case "warn":
		logx.SetLevel(logx.LevelWarn)
	case "error":
		logx.SetLevel(logx.LevelError)
	default:
		logx.SetLevel(logx.LevelInfo)
	}

	logx.Info("starting authcore")

	container := NewContainer(cfg)
	defer container.Cleanup()

	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	container.StartBackgroundServices(bgCtx)

	app := fiber.New(fiber.Config{
		AppName:               "authcore",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		BodyLimit:             1 * 1024 * 1024,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: func() string { return uuid.NewString() },
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: joinOrigins(cfg.Server.CORSAllowedOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
	}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	app.Use(oauthRegisterBurstGuard(container, cfg))

	app.Get("/health", healthCheckHandler(container))
	app.Get("/", infoHandler)

	container.AuthAPI.RegisterRoutes(app)
	logx.Info("registered session auth routes")

	container.OAuth2API.RegisterRoutes(app, container.UnifiedAuth.Authenticate())
	logx.Info("registered oauth2 authorization server routes")

	container.UpstreamOAuthAPI.RegisterRoutes(app, container.UnifiedAuth.Authenticate())
	logx.Info("registered upstream oauth bridge routes")

	container.MCPAPI.RegisterRoutes(app)
	logx.Info("registered mcp json-rpc route")

	app.Use(notFoundHandler)

	startServer(app, cfg.Server.HTTPPort)
}

// healthCheckHandler reports database reachability, the one dependency a
// load balancer needs to know about before routing traffic here.
func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{"status": "healthy", "service": "authcore"}

		if err := container.DB.Ping(); err != nil {
			health["status"] = "degraded"
			health["db"] = "unhealthy"
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}
		health["db"] = "healthy"
		return c.JSON(health)
	}
}

func infoHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "authcore",
		"endpoints": fiber.Map{
			"auth":         "/api/auth/*, /api/auth/password-reset/*",
			"oauth2":       "/oauth2/*",
			"oauth":        "/oauth/*, /api/oauth/status",
			"mcp":          "/mcp",
			"health":       "/health",
			"jwks":         "/.well-known/jwks.json",
			"discoveryDoc": "/.well-known/oauth-authorization-server",
		},
	})
}

func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":  "route not found",
		"code":   "NOT_FOUND",
		"path":   c.Path(),
		"method": c.Method(),
	})
}

// oauthRegisterBurstGuard protects /oauth2/register, the one AS endpoint
// with no existing client or user identity to key a limiter on, using the
// same Redis-backed fixed window the rest of ratelimit.BurstLimiter exists
// for. Every other path is a no-op pass-through.
func oauthRegisterBurstGuard(container *Container, cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost || c.Path() != "/oauth2/register" {
			return c.Next()
		}
		status, err := container.BurstLimiter.Allow(c.Context(), "oauth_register", c.IP(), cfg.RateLimit.OAuthRegisterRPM)
		if err != nil {
			return err
		}
		if status.IsRateLimited {
			return errx.RateLimit("too many registration attempts").
				WithDetail("reset_at", status.ResetAt).
				WithDetail("limit", status.Limit)
		}
		return c.Next()
	}
}

func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Get("X-Request-ID"),
	}).WithError(err).Error("request error")

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{"error": e.Message, "code": "FIBER_ERROR"})
	}

	if e, ok := err.(*errx.Error); ok {
		body := fiber.Map{"error": e.Message, "code": e.Code, "type": string(e.Type)}
		if len(e.Details) > 0 {
			body["details"] = e.Details
		}
		return c.Status(e.HTTPStatus).JSON(body)
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
		"code":  "INTERNAL_ERROR",
	})
}

func joinOrigins(origins []string) string {
	out := ""
	for i, o := range origins {
		if i > 0 {
			out += ","
		}
		out += o
	}
	return out
}

func startServer(app *fiber.App, port int) {
	addr := ":" + strconv.Itoa(port)

	go func() {
		logx.Infof("listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logx.Fatalf("server error: %v", err)
		}
	}()

	gracefulShutdown(app)
}

func gracefulShutdown(app *fiber.App) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logx.Infof("received signal: %v, shutting down", sig)

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logx.Errorf("server forced to shutdown: %v", err)
	}
	logx.Info("server exited")
}
