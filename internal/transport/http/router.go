package http

import (
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/http/handler"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/http/middleware"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handlers struct {
	Order   *handler.OrderHandler
	Product *handler.ProductHandler
	Outbox  *handler.OutboxHandler
}

type AppConfig struct {
	Timeout      time.Duration
	LimiterMax   int
	LimiterReset time.Duration
}

func NewApp(cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	app.Use(otelfiber.Middleware())

	if cfg.LimiterMax > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.LimiterMax,
			Expiration: cfg.LimiterReset,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests. Try again later.",
					"code":  "RATE_LIMITED",
				})
			},
		}))
	}

	return app
}

func RegisterRoutes(app *fiber.App, h *Handlers, accessSecret string) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	staffOnly := middleware.NewRoleMiddleware(domain.RoleCafeteriaStaff, domain.RoleAdmin)
	adminOnly := middleware.NewRoleMiddleware(domain.RoleAdmin)

	api := app.Group("/api", middleware.NewAuthMiddleware(accessSecret))

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("", h.Order.ListMine)
	order.Get("/:id", h.Order.Get)
	order.Put("/:id/cancel", h.Order.Cancel)
	order.Put("/:id/accept", staffOnly, h.Order.Accept)
	order.Put("/:id/ready", staffOnly, h.Order.Ready)
	order.Put("/:id/complete", staffOnly, h.Order.Complete)
	order.Get("/:id/audit", staffOnly, h.Order.Audit)

	api.Get("/staff/orders", staffOnly, h.Order.ListByStatus)

	product := api.Group("/products")
	product.Get("", h.Product.List)
	product.Get("/:id", h.Product.FindByID)
	product.Post("", staffOnly, h.Product.Create)
	product.Patch("/:id/price", staffOnly, h.Product.UpdatePrice)
	product.Patch("/:id/availability", staffOnly, h.Product.SetAvailability)

	admin := api.Group("/admin", adminOnly)
	admin.Get("/outbox/quarantined", h.Outbox.ListQuarantined)
	admin.Post("/outbox/:id/requeue", h.Outbox.Requeue)
}
