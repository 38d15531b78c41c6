package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/app/repository"
)

// Dependencies are the collaborators of the billing service.
type Dependencies struct {
	Repo     Repository
	Plans    repository.PlanRepository
	Users    repository.UserRepository
	Gateway  Gateway
	Invoices InvoiceDispatcher
	Config   Config
}

// Service bundles the payment lifecycle components.
type Service struct {
	Catalog       *Catalog
	Orders        *OrderCreator
	Reconciler    *Reconciler
	Subscriptions *SubscriptionUpdater
	Renewals      *RenewalToggle
	Webhooks      *WebhookIngester

	repo    Repository
	users   repository.UserRepository
	gateway Gateway
	cfg     Config
	now     func() time.Time
}

// NewService creates a billing service from injected dependencies.
func NewService(deps Dependencies) *Service {
	deps.Config = deps.Config.withDefaults()
	catalog := NewCatalog(deps.Plans)
	subscriptions := NewSubscriptionUpdater(catalog, deps.Users)
	reconciler := NewReconciler(deps.Repo, deps.Users, deps.Gateway, subscriptions, deps.Invoices, deps.Config)

	return &Service{
		Catalog:       catalog,
		Orders:        NewOrderCreator(catalog, deps.Repo, deps.Users, deps.Gateway, deps.Config),
		Reconciler:    reconciler,
		Subscriptions: subscriptions,
		Renewals:      NewRenewalToggle(deps.Repo),
		Webhooks:      NewWebhookIngester(deps.Repo, reconciler),
		repo:          deps.Repo,
		users:         deps.Users,
		gateway:       deps.Gateway,
		cfg:           deps.Config,
		now:           utcNow,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, invoices InvoiceDispatcher, cfg Config) *Service {
	repos := repository.NewRepositories(db)
	return NewService(Dependencies{
		Repo:     NewRepository(db),
		Plans:    repos.Plan,
		Users:    repos.User,
		Gateway:  gateway,
		Invoices: invoices,
		Config:   cfg,
	})
}

// GetPayment returns one of the user's payments.
func (s *Service) GetPayment(ctx context.Context, userID uint, transactionID string) (*models.Payment, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	p, err := s.repo.GetUserPayment(ctx, userID, transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// ListPayments pages through the user's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, userID uint, page, perPage int) ([]models.Payment, int64, error) {
	if userID == 0 {
		return nil, 0, ErrUnauthenticated
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.repo.ListUserPayments(ctx, userID, (page-1)*perPage, perPage)
}

// GetSubscription returns the user's current subscription fields.
func (s *Service) GetSubscription(ctx context.Context, userID uint) (*models.User, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// StalePendingPayments lists pending payments old enough to be rechecked
// with the gateway but not yet abandoned.
func (s *Service) StalePendingPayments(ctx context.Context) ([]models.Payment, error) {
	now := s.now()
	return s.repo.ListPendingPayments(ctx, now.Add(-s.cfg.PendingSweepMinAge), now.Add(-s.cfg.PendingMaxAge), s.cfg.SweepBatchSize)
}

// ExpireAbandonedPayments closes pending payments older than the maximum
// age. Each gets a final gateway check; orders still open are terminated at
// the gateway, and a payment is failed only once the gateway reports the
// order closed. Anything else is left pending for the next run.
func (s *Service) ExpireAbandonedPayments(ctx context.Context) (int, error) {
	payments, err := s.repo.ListPendingPayments(ctx, s.now().Add(-s.cfg.PendingMaxAge), time.Time{}, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range payments {
		res, err := s.Reconciler.Reconcile(ctx, ReconcileRequest{TransactionID: p.TransactionID, Source: SourceSweeper})
		if err != nil {
			log.Warnf("[Billing] Skipping expiry of %s: %v", p.TransactionID, err)
			continue
		}
		if res.Payment.IsTerminal() {
			if res.Transitioned && res.Payment.Status == models.PaymentStatusFailed {
				expired++
			}
			continue
		}
		if s.terminate(ctx, p.TransactionID) {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) terminate(ctx context.Context, transactionID string) bool {
	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	order, err := s.gateway.TerminateOrder(gwCtx, transactionID)
	cancel()
	if err != nil {
		// A payment that completed in the meantime makes termination fail;
		// the next check picks it up.
		log.Warnf("[Billing] Could not terminate order %s: %v", transactionID, err)
		return false
	}
	if order.State != OrderStateFailed {
		log.Infof("[Billing] Termination of %s pending at gateway (status %s)", transactionID, order.RawStatus)
		return false
	}

	won, err := s.repo.MarkPaymentFailed(ctx, transactionID, "expired without confirmation (gateway status "+order.RawStatus+")")
	if err != nil {
		log.Errorf("[Billing] Failed to expire payment %s: %v", transactionID, err)
		return false
	}
	if won {
		log.Infof("[Billing] Payment %s expired", transactionID)
	}
	return won
}

// PaymentsNeedingFollowUp lists successful payments with outstanding plan
// application or invoice delivery.
func (s *Service) PaymentsNeedingFollowUp(ctx context.Context) ([]models.Payment, error) {
	now := s.now()
	return s.repo.ListPaymentsNeedingFollowUp(ctx, now.Add(-time.Minute), now.Add(-s.cfg.InvoiceClaimTimeout), s.cfg.InvoiceMaxAttempts, s.cfg.SweepBatchSize)
}

// UnprocessedWebhookEvents lists recorded events that still need processing.
func (s *Service) UnprocessedWebhookEvents(ctx context.Context) ([]models.BillingWebhookEvent, error) {
	return s.repo.ListUnprocessedWebhookEvents(ctx, s.now().Add(-s.cfg.WebhookRetryMinAge), s.cfg.WebhookMaxAttempts, s.cfg.SweepBatchSize)
}

// ProcessWebhookEvent settles the payment referenced by a recorded event.
func (s *Service) ProcessWebhookEvent(ctx context.Context, eventID uint) error {
	return s.Webhooks.ProcessEvent(ctx, eventID)
}

// ReconcilePayment rechecks one payment on behalf of a background sweep.
// A payment the gateway still reports as pending is not an error.
func (s *Service) ReconcilePayment(ctx context.Context, transactionID string) error {
	_, err := s.Reconciler.Reconcile(ctx, ReconcileRequest{TransactionID: transactionID, Source: SourceSweeper})
	if errors.Is(err, ErrPaymentNotFound) {
		log.Warnf("[Billing] Sweep skipped unknown payment %s", transactionID)
		return nil
	}
	return err
}

// CompleteFollowUp retries outstanding side effects of a successful payment.
func (s *Service) CompleteFollowUp(ctx context.Context, transactionID string) error {
	return s.Reconciler.CompleteFollowUp(ctx, transactionID)
}
