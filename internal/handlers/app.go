package handlers

import (
	"context"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"qrhub/internal/config"
	"qrhub/internal/logging"
	"qrhub/internal/services"
)

// multipart headers and boundaries on top of the file itself
const uploadOverhead = 64 << 10

// HealthCheck is a named dependency probed by GET /health.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Dependencies is everything NewApp wires into the router.
type Dependencies struct {
	Config       *config.Config
	AuthService  *services.AuthService
	QRService    *services.QRService
	Logger       logging.Logger
	AccessLog    io.Writer // nil disables access logging
	HealthChecks []HealthCheck
}

// NewApp builds the Fiber app with middleware, the /api/v1 routes and the
// health endpoint.
func NewApp(deps Dependencies) *fiber.App {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "qrhub",
		BodyLimit:             cfg.App.UploadMaxBytes + uploadOverhead,
		JSONDecoder:           strictUnmarshal,
		ErrorHandler:          ErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if deps.AccessLog != nil {
		app.Use(logger.New(logger.Config{Output: deps.AccessLog}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.App.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	validate := validator.New()
	apiV1 := app.Group("/api/v1")
	NewAuthHandler(deps.AuthService, validate).RegisterRoutes(apiV1)
	NewQRHandler(deps.QRService, deps.AuthService, validate, cfg.App.UploadMaxBytes).RegisterRoutes(apiV1)

	app.Get("/health", healthHandler(deps.HealthChecks))
	return app
}

func healthHandler(checks []HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := fiber.StatusOK
		results := fiber.Map{}
		for _, check := range checks {
			if err := check.Ping(ctx); err != nil {
				status = fiber.StatusServiceUnavailable
				results[check.Name] = "unavailable"
				continue
			}
			results[check.Name] = "ok"
		}

		body := fiber.Map{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
			"checks": results,
		}
		if status != fiber.StatusOK {
			body["status"] = "degraded"
		}
		return c.Status(status).JSON(body)
	}
}
