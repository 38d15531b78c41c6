package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/app/repository"
)

const sideEffectTimeout = 30 * time.Second

// Reconciler settles pending payments against the gateway. Verify calls,
// webhooks and background sweeps all go through Reconcile, and the
// conditional status update guarantees a single winner per payment.
type Reconciler struct {
	repo          Repository
	users         repository.UserRepository
	gateway       Gateway
	subscriptions *SubscriptionUpdater
	invoices      InvoiceDispatcher
	cfg           Config
	now           func() time.Time
}

// NewReconciler wires a reconciler. A nil dispatcher disables invoices.
func NewReconciler(repo Repository, users repository.UserRepository, gateway Gateway, subscriptions *SubscriptionUpdater, invoices InvoiceDispatcher, cfg Config) *Reconciler {
	if invoices == nil {
		invoices = noopDispatcher{}
	}
	return &Reconciler{
		repo:          repo,
		users:         users,
		gateway:       gateway,
		subscriptions: subscriptions,
		invoices:      invoices,
		cfg:           cfg.withDefaults(),
		now:           utcNow,
	}
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, *models.Payment, *models.User) (string, error) {
	return "", nil
}

// Verify reconciles a payment on behalf of its owner. Optional plan and
// cycle hints must agree with the stored order.
func (r *Reconciler) Verify(ctx context.Context, userID uint, transactionID, planHint, cycleHint string) (*ReconcileResult, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, newValidationError("orderId", "is required")
	}

	payment, err := r.load(ctx, ReconcileRequest{TransactionID: transactionID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if hint := strings.TrimSpace(planHint); hint != "" && !strings.EqualFold(hint, payment.PlanID) && !strings.EqualFold(hint, payment.PlanName) {
		return nil, newValidationError("planId", "order %s was placed for plan %q", transactionID, payment.PlanID)
	}
	if strings.TrimSpace(cycleHint) != "" {
		cycle, ok := normalizeCycle(cycleHint)
		if !ok || cycle != payment.BillingCycle {
			return nil, newValidationError("billingCycle", "order %s was placed for a %s cycle", transactionID, payment.BillingCycle)
		}
	}

	return r.Reconcile(ctx, ReconcileRequest{TransactionID: transactionID, UserID: userID, Source: SourceVerify})
}

// Reconcile brings the stored payment in line with the gateway. Terminal
// payments are returned untouched. Gateway trouble never fails a payment; it
// yields a RetryableError while the payment stays pending.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		return nil, newValidationError("orderId", "is required")
	}

	payment, err := r.load(ctx, req)
	if err != nil {
		return nil, err
	}
	if payment.IsTerminal() {
		return r.settled(ctx, payment, false, nil), nil
	}

	gwCtx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
	order, err := r.gateway.GetOrder(gwCtx, req.TransactionID)
	cancel()
	if err != nil {
		log.Warnf("[Reconciler] Gateway lookup for %s failed (source=%s): %v", req.TransactionID, req.Source, err)
		// Another caller may have settled the payment in the meantime.
		if stored, loadErr := r.load(ctx, req); loadErr == nil && stored.IsTerminal() {
			return r.settled(ctx, stored, false, nil), nil
		}
		return nil, &RetryableError{TransactionID: req.TransactionID, Err: err}
	}

	switch order.State {
	case OrderStatePaid:
		return r.confirm(ctx, req, payment, order)
	case OrderStateFailed:
		won, err := r.repo.MarkPaymentFailed(ctx, req.TransactionID, "gateway reported order status "+order.RawStatus)
		if err != nil {
			return nil, &RetryableError{TransactionID: req.TransactionID, Err: err}
		}
		if won {
			log.Infof("[Reconciler] Payment %s failed (gateway status %s, source=%s)", req.TransactionID, order.RawStatus, req.Source)
		}
		stored, err := r.load(ctx, req)
		if err != nil {
			return nil, err
		}
		return r.settled(ctx, stored, won, nil), nil
	default:
		if err := r.repo.TouchPaymentChecked(ctx, req.TransactionID, r.now()); err != nil {
			log.Warnf("[Reconciler] Could not record check time for %s: %v", req.TransactionID, err)
		}
		return r.settled(ctx, payment, false, nil), nil
	}
}

func (r *Reconciler) confirm(ctx context.Context, req ReconcileRequest, payment *models.Payment, order *GatewayOrder) (*ReconcileResult, error) {
	now := r.now()
	expiry := addCycle(now, payment.BillingCycle)

	won, err := r.repo.MarkPaymentSucceeded(ctx, req.TransactionID, now, expiry, order.PaymentMethod)
	if err != nil {
		return nil, &RetryableError{TransactionID: req.TransactionID, Err: err}
	}

	stored, err := r.load(ctx, req)
	if err != nil {
		return nil, err
	}
	if !won {
		return r.settled(ctx, stored, false, nil), nil
	}

	log.Infof("[Reconciler] Payment %s confirmed (user=%d plan=%s source=%s)", stored.TransactionID, stored.UserID, stored.PlanID, req.Source)

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	user, sideErrs := r.runSideEffects(sideCtx, stored)

	result := r.settled(ctx, stored, true, sideErrs)
	if user != nil {
		result.User = user
	}
	return result, nil
}

// CompleteFollowUp finishes plan application and invoice delivery for a
// payment that already succeeded. It is safe to call repeatedly.
func (r *Reconciler) CompleteFollowUp(ctx context.Context, transactionID string) error {
	payment, err := r.load(ctx, ReconcileRequest{TransactionID: transactionID})
	if err != nil {
		return err
	}
	if payment.Status != models.PaymentStatusSuccess {
		return nil
	}

	var user *models.User
	var errs []error
	if payment.PlanAppliedAt == nil {
		user, errs = r.applyPlan(ctx, payment)
	}
	if err := r.dispatchInvoice(ctx, payment, user); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Reconciler) runSideEffects(ctx context.Context, payment *models.Payment) (*models.User, []error) {
	user, errs := r.applyPlan(ctx, payment)
	if err := r.dispatchInvoice(ctx, payment, user); err != nil {
		errs = append(errs, err)
	}
	return user, errs
}

func (r *Reconciler) applyPlan(ctx context.Context, payment *models.Payment) (*models.User, []error) {
	if user := r.supersedingUser(ctx, payment); user != nil {
		log.Infof("[Reconciler] Plan of payment %s superseded by a later payment of user %d", payment.TransactionID, payment.UserID)
		if err := r.repo.MarkPlanApplied(ctx, payment.TransactionID, r.now()); err != nil {
			log.Warnf("[Reconciler] Could not mark plan applied for %s: %v", payment.TransactionID, err)
		}
		return user, nil
	}

	user, err := r.subscriptions.ApplyConfirmedPayment(ctx, payment.UserID, payment)
	if err != nil {
		log.Errorf("[Reconciler] Plan application for payment %s (user %d) failed: %v", payment.TransactionID, payment.UserID, err)
		if recErr := r.repo.RecordPlanApplyError(ctx, payment.TransactionID, err.Error()); recErr != nil {
			log.Errorf("[Reconciler] Could not record plan error for %s: %v", payment.TransactionID, recErr)
		}
		return nil, []error{fmt.Errorf("apply plan: %w", err)}
	}
	if err := r.repo.MarkPlanApplied(ctx, payment.TransactionID, r.now()); err != nil {
		log.Warnf("[Reconciler] Could not mark plan applied for %s: %v", payment.TransactionID, err)
	}
	return user, nil
}

// supersedingUser returns the owner when their subscription already
// reflects a payment made after this one.
func (r *Reconciler) supersedingUser(ctx context.Context, payment *models.Payment) *models.User {
	if payment.PaidAt == nil {
		return nil
	}
	user, err := r.users.GetByID(ctx, payment.UserID)
	if err != nil || user.LastPaymentDate == nil || !user.LastPaymentDate.After(*payment.PaidAt) {
		return nil
	}
	return user
}

// dispatchInvoice sends the invoice if this call wins the invoice claim.
func (r *Reconciler) dispatchInvoice(ctx context.Context, payment *models.Payment, user *models.User) error {
	now := r.now()
	claimed, err := r.repo.ClaimInvoice(ctx, payment.TransactionID, now, now.Add(-r.cfg.InvoiceClaimTimeout), r.cfg.InvoiceMaxAttempts)
	if err != nil {
		return fmt.Errorf("claim invoice: %w", err)
	}
	if !claimed {
		return nil
	}

	if user == nil {
		user, err = r.users.GetByID(ctx, payment.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				err = ErrUserNotFound
			}
			r.failInvoice(ctx, payment.TransactionID, err)
			return fmt.Errorf("invoice recipient: %w", err)
		}
	}

	objectKey, err := r.invoices.Dispatch(ctx, payment, user)
	if err != nil {
		r.failInvoice(ctx, payment.TransactionID, err)
		return fmt.Errorf("dispatch invoice: %w", err)
	}
	if err := r.repo.MarkInvoiceSent(ctx, payment.TransactionID, objectKey, r.now()); err != nil {
		log.Errorf("[Reconciler] Invoice for %s sent but not recorded: %v", payment.TransactionID, err)
		return fmt.Errorf("record invoice: %w", err)
	}
	log.Infof("[Reconciler] Invoice for payment %s dispatched", payment.TransactionID)
	return nil
}

func (r *Reconciler) failInvoice(ctx context.Context, transactionID string, cause error) {
	log.Errorf("[Reconciler] Invoice for payment %s failed: %v", transactionID, cause)
	if err := r.repo.MarkInvoiceFailed(ctx, transactionID, cause.Error()); err != nil {
		log.Errorf("[Reconciler] Could not record invoice failure for %s: %v", transactionID, err)
	}
}

func (r *Reconciler) load(ctx context.Context, req ReconcileRequest) (*models.Payment, error) {
	var (
		payment *models.Payment
		err     error
	)
	if req.UserID != 0 {
		payment, err = r.repo.GetUserPayment(ctx, req.UserID, req.TransactionID)
	} else {
		payment, err = r.repo.GetPaymentByTransactionID(ctx, req.TransactionID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		// A store timeout leaves the payment where it was; callers may retry.
		return nil, &RetryableError{TransactionID: req.TransactionID, Err: err}
	}
	return payment, nil
}

// settled builds the result for a payment, attaching the owner's current
// subscription when it can be read.
func (r *Reconciler) settled(ctx context.Context, payment *models.Payment, transitioned bool, sideErrs []error) *ReconcileResult {
	result := &ReconcileResult{
		Payment:          payment,
		Transitioned:     transitioned,
		SideEffectErrors: sideErrs,
	}
	if user, err := r.users.GetByID(ctx, payment.UserID); err == nil {
		result.User = user
	}
	return result
}
