package routes

import (
	"context"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MIK-RC/aws-aiops/internal/api/handlers"
	"github.com/MIK-RC/aws-aiops/internal/api/middleware"
	ws "github.com/MIK-RC/aws-aiops/internal/api/websocket"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/database/repository"
	"github.com/MIK-RC/aws-aiops/internal/security"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
)

// Dependencies holds all the dependencies for the router
type Dependencies struct {
	Config   *config.Config
	Tokens   *security.TokenService // nil disables authentication
	Service  *workflow.Service
	Runs     *repository.RunRepository
	Sessions *repository.SessionRepository
	WSHub    *ws.Hub

	// Context bounds invocations started over websocket. Defaults to Background.
	Context context.Context
}

// Setup sets up the Fiber app with all routes
func Setup(deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	ctx := deps.Context
	if ctx == nil {
		ctx = context.Background()
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(middleware.SecurityHeaders(deps.Config.Server.Environment == "production"))
	app.Use(cors.New(cors.Config{
		AllowOrigins: deps.Config.Server.CORSAllowedOrigins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
		})
	})

	v1 := app.Group("/api/v1")

	// WebSocket route, authenticated before the upgrade
	v1.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if deps.Tokens == nil {
			c.Locals("subject", "anonymous")
			return c.Next()
		}

		// Format: "auth, <token>" with the query parameter as fallback
		var token string
		for _, p := range strings.Split(c.Get("Sec-WebSocket-Protocol"), ",") {
			p = strings.TrimSpace(p)
			if p != "auth" && p != "" {
				token = p
				break
			}
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing token",
			})
		}

		claims, err := deps.Tokens.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}
		if !claims.Allows(security.ScopeInvoke) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "token lacks the invoke scope",
			})
		}
		c.Locals("subject", claims.Subject)
		return c.Next()
	})

	v1.Get("/ws", websocket.New(func(c *websocket.Conn) {
		subject, _ := c.Locals("subject").(string)
		client := ws.NewClient(ctx, deps.WSHub, c, subject, deps.Service)
		deps.WSHub.Register(client)

		go client.WritePump()
		client.ReadPump()
	}, websocket.Config{
		Subprotocols: []string{"auth"},
	}))

	api := v1.Group("", middleware.AuthMiddleware(deps.Tokens), middleware.RateLimiter(deps.Config.Server.RateLimitRequestsPerMinute))

	invokeHandler := handlers.NewInvokeHandler(deps.Service)
	api.Post("/invoke", middleware.RequireScope(security.ScopeInvoke), invokeHandler.Invoke)

	agentHandler := handlers.NewAgentHandler(deps.Service.Manager())
	api.Get("/agents", middleware.RequireScope(security.ScopeRead), agentHandler.List)

	if deps.Runs != nil && deps.Sessions != nil {
		historyHandler := handlers.NewHistoryHandler(deps.Runs, deps.Sessions)
		api.Get("/runs", middleware.RequireScope(security.ScopeRead), historyHandler.ListRuns)
		api.Get("/runs/:id", middleware.RequireScope(security.ScopeRead), historyHandler.GetRun)
		api.Get("/sessions/:id", middleware.RequireScope(security.ScopeRead), historyHandler.GetSession)
		api.Delete("/sessions/:id", middleware.RequireScope(security.ScopeInvoke), historyHandler.DeleteSession)
	}

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
