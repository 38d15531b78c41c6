package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
)

// Sweeper lists the billing work that background sweeps pick up.
type Sweeper interface {
	StalePendingPayments(ctx context.Context) ([]models.Payment, error)
	ExpireAbandonedPayments(ctx context.Context) (int, error)
	PaymentsNeedingFollowUp(ctx context.Context) ([]models.Payment, error)
	UnprocessedWebhookEvents(ctx context.Context) ([]models.BillingWebhookEvent, error)
}

// ManagerConfig holds the sweep intervals.
type ManagerConfig struct {
	PendingSweepInterval  time.Duration
	WebhookSweepInterval  time.Duration
	FollowUpSweepInterval time.Duration
	ExpirySweepInterval   time.Duration
	SweepTimeout          time.Duration
}

// DefaultManagerConfig returns the built-in sweep intervals.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PendingSweepInterval:  2 * time.Minute,
		WebhookSweepInterval:  time.Minute,
		FollowUpSweepInterval: 5 * time.Minute,
		ExpirySweepInterval:   15 * time.Minute,
		SweepTimeout:          2 * time.Minute,
	}
}

// LoadManagerConfig reads JOBQUEUE_* overrides from the environment.
func LoadManagerConfig() ManagerConfig {
	def := DefaultManagerConfig()
	return ManagerConfig{
		PendingSweepInterval:  env.GetEnvDuration("JOBQUEUE_PENDING_SWEEP_INTERVAL", def.PendingSweepInterval),
		WebhookSweepInterval:  env.GetEnvDuration("JOBQUEUE_WEBHOOK_SWEEP_INTERVAL", def.WebhookSweepInterval),
		FollowUpSweepInterval: env.GetEnvDuration("JOBQUEUE_FOLLOWUP_SWEEP_INTERVAL", def.FollowUpSweepInterval),
		ExpirySweepInterval:   env.GetEnvDuration("JOBQUEUE_EXPIRY_SWEEP_INTERVAL", def.ExpirySweepInterval),
		SweepTimeout:          env.GetEnvDuration("JOBQUEUE_SWEEP_TIMEOUT", def.SweepTimeout),
	}
}

// scheduler is the part of Queue the sweeps feed.
type scheduler interface {
	ScheduleWebhookEvent(ctx context.Context, eventID uint) error
	SchedulePaymentReconcile(ctx context.Context, transactionID string) (bool, error)
	SchedulePaymentFollowUp(ctx context.Context, transactionID string) (bool, error)
}

// Manager runs the job queue together with the periodic billing sweeps
type Manager struct {
	queue     *Queue
	scheduler scheduler
	sweeper   Sweeper
	cfg       ManagerConfig
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewManager creates a manager for queue. Sweeps list work through sweeper.
func NewManager(queue *Queue, sweeper Sweeper, cfg ManagerConfig) *Manager {
	m := &Manager{
		queue:   queue,
		sweeper: sweeper,
		cfg:     cfg,
	}
	if queue != nil {
		m.scheduler = queue
	}
	return m
}

// Start starts the job queue and background sweeps
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background sweeps")

	if m.queue != nil {
		m.queue.Start()
	}

	m.every("pending payments", m.cfg.PendingSweepInterval, m.RunPendingSweepOnce)
	m.every("webhook events", m.cfg.WebhookSweepInterval, m.RunWebhookSweepOnce)
	m.every("payment follow-ups", m.cfg.FollowUpSweepInterval, m.RunFollowUpSweepOnce)
	m.every("abandoned payments", m.cfg.ExpirySweepInterval, m.RunExpirySweepOnce)

	log.Info("[JobQueue Manager] Started successfully")
}

// every runs fn on its own ticker until Stop. A non-positive interval
// disables the sweep.
func (m *Manager) every(name string, interval time.Duration, fn func(ctx context.Context) (int, error)) {
	if interval <= 0 {
		log.Infof("[JobQueue Manager] Sweep %q disabled", name)
		return
	}

	stopCh := m.stopCh
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Infof("[JobQueue Manager] Started %s sweep (interval: %s)", name, interval)

		for {
			select {
			case <-stopCh:
				log.Infof("[JobQueue Manager] %s sweep stopping", name)
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.sweepTimeout())
				n, err := fn(ctx)
				cancel()
				if err != nil {
					log.Errorf("[JobQueue Manager] Error in %s sweep: %v", name, err)
				} else if n > 0 {
					log.Infof("[JobQueue Manager] %s sweep handled %d items", name, n)
				}
			}
		}
	}()
}

func (m *Manager) sweepTimeout() time.Duration {
	if m.cfg.SweepTimeout > 0 {
		return m.cfg.SweepTimeout
	}
	return DefaultManagerConfig().SweepTimeout
}

// Stop stops the background sweeps and the job queue
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background sweeps...")
	close(m.stopCh)
	m.stopCh = nil
	m.running = false
	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunPendingSweepOnce queues a gateway recheck for every stale pending payment.
func (m *Manager) RunPendingSweepOnce(ctx context.Context) (int, error) {
	payments, err := m.sweeper.StalePendingPayments(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, p := range payments {
		ok, err := m.scheduler.SchedulePaymentReconcile(ctx, p.TransactionID)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	return queued, nil
}

// RunWebhookSweepOnce requeues recorded webhook events that were never settled.
func (m *Manager) RunWebhookSweepOnce(ctx context.Context) (int, error) {
	events, err := m.sweeper.UnprocessedWebhookEvents(ctx)
	if err != nil {
		return 0, err
	}
	for i, ev := range events {
		if err := m.scheduler.ScheduleWebhookEvent(ctx, ev.ID); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// RunFollowUpSweepOnce queues successful payments whose plan or invoice is outstanding.
func (m *Manager) RunFollowUpSweepOnce(ctx context.Context) (int, error) {
	payments, err := m.sweeper.PaymentsNeedingFollowUp(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, p := range payments {
		ok, err := m.scheduler.SchedulePaymentFollowUp(ctx, p.TransactionID)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	return queued, nil
}

// RunExpirySweepOnce fails pending payments past their maximum age.
func (m *Manager) RunExpirySweepOnce(ctx context.Context) (int, error) {
	return m.sweeper.ExpireAbandonedPayments(ctx)
}
