package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PlanPay/internal/pkg/archive"
	"github.com/ManuelReschke/PlanPay/internal/pkg/billing"
	"github.com/ManuelReschke/PlanPay/internal/pkg/cache"
	"github.com/ManuelReschke/PlanPay/internal/pkg/database"
	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
	"github.com/ManuelReschke/PlanPay/internal/pkg/gateway"
	"github.com/ManuelReschke/PlanPay/internal/pkg/invoice"
	"github.com/ManuelReschke/PlanPay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PlanPay/internal/pkg/mail"
	"github.com/ManuelReschke/PlanPay/internal/pkg/middleware"
	"github.com/ManuelReschke/PlanPay/internal/pkg/router"
	"github.com/ManuelReschke/PlanPay/internal/pkg/usercontext"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	manager.Stop()
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/planpay to project root
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path} user=${locals:" + usercontext.KeyUserID + "}\n",
	}))

	app.Use("/api", cors.New(cors.Config{
		AllowOrigins: env.GetEnv("CORS_ALLOW_ORIGINS", "*"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,OPTIONS",
	}))

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("public/docs not found, API docs disabled")
	}

	gatewayCfg := gateway.LoadConfig()
	if !gatewayCfg.IsConfigured() {
		log.Warn("[Gateway] GATEWAY_CLIENT_ID/GATEWAY_CLIENT_SECRET not set, orders cannot be created")
	}

	svc := billing.NewServiceFromDB(database.GetDB(), gateway.NewClient(gatewayCfg), newInvoiceDispatcher(), billing.LoadConfig())

	queue := jobqueue.NewQueue(cache.GetClient(), svc, env.GetEnvInt("JOBQUEUE_WORKERS", 3))
	svc.Webhooks.SetScheduler(queue)
	manager := jobqueue.NewManager(queue, svc, jobqueue.LoadManagerConfig())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Service:       svc,
		Auth:          middleware.LoadAuthConfig(),
		WebhookSecret: gatewayCfg.WebhookSecret,
		Health: map[string]router.HealthChecker{
			"database": router.HealthCheckFunc(func(ctx context.Context) error {
				sqlDB, err := database.GetDB().DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}),
			"cache": router.HealthCheckFunc(cache.Ping),
		},
		Jobs: queue,
	})

	return app, manager
}

// newInvoiceDispatcher builds invoice delivery. A broken template set is a
// deployment error; a missing archive only disables archiving.
func newInvoiceDispatcher() billing.InvoiceDispatcher {
	renderer, err := invoice.NewRenderer()
	if err != nil {
		log.Fatalf("[Invoice] %v", err)
	}

	var archiver invoice.Archiver
	archiveCfg, err := archive.LoadConfig()
	switch {
	case err != nil:
		log.Errorf("[Archive] Invalid configuration, archiving disabled: %v", err)
	case archiveCfg.IsEnabled():
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		client, err := archive.NewClient(ctx, archiveCfg)
		cancel()
		if err != nil {
			log.Errorf("[Archive] Archiving disabled: %v", err)
		} else {
			archiver = client
		}
	}

	return invoice.NewDispatcher(renderer, mail.NewSMTPMailer(mail.LoadConfig()), archiver, invoice.LoadConfig())
}
