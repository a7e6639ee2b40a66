package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewApp builds the fiber application: permissive CORS for the browser form,
// panic recovery, and the receipt/event routes.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type, Authorization",
		MaxAge:       86400,
	}))

	app.Get("/healthz", h.Health)

	api := app.Group("/api")
	api.Post("/receipts", h.CreateReceipt)
	api.Get("/receipts", h.ListReceipts)
	api.Get("/receipts/:id", h.GetReceipt)
	api.Get("/categories", h.ListCategories)
	api.Post("/events", h.IntakeEvent)

	return app
}
