package app

import (
	"errors"

	"texreport/internal/handlers"
	u "texreport/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"
)

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, redis *redis.Client) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	RegisterMiddleware(app, cfg)
	if err := RegisterRoutes(app, cfg, redis); err != nil {
		return nil, err
	}

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app, nil
}

// errorHandler renders every error as {"success": false, "error": "..."}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	}

	u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg u.Config, redis *redis.Client) error {
	svc, err := handlers.NewReportService(cfg, redis)
	if err != nil {
		return err
	}

	app.Get("/", svc.HandleIndex)
	app.Post("/generate-pdf", svc.HandleGenerate)
	app.Static(cfg.Paths.PublishURLPrefix, cfg.Paths.PublishDir, fiber.Static{
		ByteRange:     true,
		CacheDuration: -1, // reaped PDFs must disappear immediately
	})

	app.Get("/monitor", monitor.New())
	return nil
}
