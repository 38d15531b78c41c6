package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PlanPay/app/controllers"
	"github.com/ManuelReschke/PlanPay/internal/pkg/billing"
	"github.com/ManuelReschke/PlanPay/internal/pkg/cache"
	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
	"github.com/ManuelReschke/PlanPay/internal/pkg/middleware"
)

// limiterDatabase keeps rate limit counters apart from the job queue (DB 0).
const limiterDatabase = 2

// Dependencies are the services the HTTP layer is built from.
type Dependencies struct {
	Service       *billing.Service
	Auth          middleware.AuthConfig
	WebhookSecret string
	Health        map[string]HealthChecker
	Jobs          JobStats
	// RateLimitStorage overrides the Redis-backed limiter storage. Nil uses Redis
	// when RATE_LIMIT_REDIS is enabled and process memory otherwise.
	RateLimitStorage fiber.Storage
}

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("RATE_LIMIT_MAX", 60),
		Expiration: env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		Storage:    h.rateLimitStorage(),
		// Gateway retries must never be throttled.
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/api/v1/webhook"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	webhooks := controllers.NewWebhookController(h.deps.Service.Webhooks, h.deps.WebhookSecret)
	v1.Post("/webhook", webhooks.HandleWebhook)

	payments := controllers.NewPaymentController(h.deps.Service)
	v1.Get("/plans", payments.HandleListPlans)

	// The group middleware covers the whole /api/v1 prefix, so public routes
	// must be registered above it.
	protected := v1.Group("", middleware.UserContextMiddleware(h.deps.Auth), middleware.RequireAPIAuth)
	protected.Post("/orders", payments.HandleCreateOrder)
	protected.Post("/orders/verify", payments.HandleVerifyOrder)
	protected.Put("/auto-renewal", payments.HandleSetAutoRenewal)
	protected.Get("/subscription", payments.HandleGetSubscription)
	protected.Get("/payments", payments.HandleListPayments)
	protected.Get("/payments/:orderId", payments.HandleGetPayment)
}

func (h ApiRouter) rateLimitStorage() fiber.Storage {
	if h.deps.RateLimitStorage != nil {
		return h.deps.RateLimitStorage
	}
	if !env.GetEnvBool("RATE_LIMIT_REDIS", true) {
		return nil
	}
	cfg := cache.LoadConfig()
	log.Infof("[Cache] Rate limiter using Redis at %s (db %d)", cfg.Addr(), limiterDatabase)
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
