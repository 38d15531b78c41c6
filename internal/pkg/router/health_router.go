package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PlanPay/internal/pkg/jobqueue"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// JobStats exposes job queue depth.
type JobStats interface {
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
}

type HealthRouter struct {
	checks map[string]HealthChecker
	jobs   JobStats
}

func NewHealthRouter(checks map[string]HealthChecker, jobs JobStats) *HealthRouter {
	return &HealthRouter{checks: checks, jobs: jobs}
}

func (h HealthRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", h.handle)
	if h.jobs != nil {
		app.Get("/health/jobs", h.handleJobs)
	}
}

func (h HealthRouter) handleJobs(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	queued, err := h.jobs.GetQueueSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": err.Error()})
	}
	processing, err := h.jobs.GetProcessingSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": err.Error()})
	}
	stats, err := h.jobs.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": err.Error()})
	}
	return c.JSON(fiber.Map{"queued": queued, "processing": processing, "totals": stats})
}

func (h HealthRouter) handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := fiber.Map{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			status = fiber.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": results})
}
