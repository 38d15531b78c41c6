package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/app/repository"
)

// OrderCreator opens gateway orders backed by a pending payment record.
type OrderCreator struct {
	catalog *Catalog
	repo    Repository
	users   repository.UserRepository
	gateway Gateway
	cfg     Config
	now     func() time.Time
	newID   func() string
}

// NewOrderCreator wires an order creator from its collaborators.
func NewOrderCreator(catalog *Catalog, repo Repository, users repository.UserRepository, gateway Gateway, cfg Config) *OrderCreator {
	return &OrderCreator{
		catalog: catalog,
		repo:    repo,
		users:   users,
		gateway: gateway,
		cfg:     cfg.withDefaults(),
		now:     utcNow,
		newID:   newTransactionID,
	}
}

func newTransactionID() string {
	return "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// CreateOrder validates the request, stores a pending payment and opens the
// matching gateway order. The payment exists before the gateway is called so
// a confirmation can never arrive for an unknown transaction.
func (o *OrderCreator) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if in.UserID == 0 {
		return nil, ErrUnauthenticated
	}

	cycle, ok := normalizeCycle(in.BillingCycle)
	if !ok {
		return nil, newValidationError("billingCycle", "must be monthly or annual, got %q", in.BillingCycle)
	}
	if strings.TrimSpace(in.PlanID) == "" {
		return nil, newValidationError("planId", "is required")
	}

	plan, err := o.catalog.Resolve(ctx, in.PlanID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, newValidationError("planId", "unknown plan %q", in.PlanID)
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, newValidationError("planId", "plan %q is not available", plan.PlanKey)
	}

	currency := normalizeCurrency(in.Currency)
	if currency == "" {
		currency = normalizeCurrency(plan.Currency)
	}
	if currency != normalizeCurrency(plan.Currency) {
		return nil, newValidationError("currency", "plan %q is only sold in %s", plan.PlanKey, plan.Currency)
	}

	base := roundAmount(plan.PriceFor(cycle))
	surcharge := roundAmount(base * o.cfg.SurchargePercent / 100)
	amount := roundAmount(base + surcharge)
	if !isUsableAmount(amount) {
		return nil, newValidationError("amount", "plan %q has no positive %s price", plan.PlanKey, cycle)
	}

	now := o.now()
	active, err := o.repo.HasActivePayment(ctx, in.UserID, plan.PlanKey, now)
	if err != nil {
		return nil, fmt.Errorf("check active payment: %w", err)
	}
	if active {
		return nil, &ConflictError{Reason: fmt.Sprintf("an active subscription already covers plan %q", plan.PlanKey)}
	}

	user, err := o.users.GetByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	expiry := addCycle(now, cycle)
	payment := &models.Payment{
		TransactionID:   o.newID(),
		UserID:          in.UserID,
		PlanID:          plan.PlanKey,
		PlanName:        plan.Name,
		BillingCycle:    cycle,
		BaseAmount:      base,
		SurchargeAmount: surcharge,
		Amount:          amount,
		Currency:        currency,
		Status:          models.PaymentStatusPending,
		AutoRenewal:     true,
		RenewalStatus:   models.RenewalStatusScheduled,
		ExpiryDate:      &expiry,
		InvoiceStatus:   models.InvoiceStatusNone,
	}
	if err := o.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()

	order, err := o.gateway.CreateOrder(gwCtx, GatewayOrderRequest{
		TransactionID: payment.TransactionID,
		Amount:        amount,
		Currency:      currency,
		CustomerID:    strconv.FormatUint(uint64(user.ID), 10),
		CustomerName:  user.Name,
		CustomerEmail: user.Email,
		Description:   fmt.Sprintf("%s (%s)", plan.Name, cycle),
	})
	if err != nil {
		log.Errorf("[Billing] Gateway order creation failed for %s: %v", payment.TransactionID, err)
		if _, markErr := o.repo.MarkPaymentFailed(ctx, payment.TransactionID, "gateway order creation failed: "+err.Error()); markErr != nil {
			log.Errorf("[Billing] Failed to mark payment %s failed: %v", payment.TransactionID, markErr)
		}
		return nil, &GatewayError{TransactionID: payment.TransactionID, Err: err}
	}

	if err := o.repo.SetGatewayOrder(ctx, payment.TransactionID, order.GatewayRef, order.PaymentLink); err != nil {
		log.Warnf("[Billing] Could not store gateway reference for %s: %v", payment.TransactionID, err)
	}
	payment.GatewayOrderRef = order.GatewayRef
	payment.PaymentLink = order.PaymentLink

	log.Infof("[Billing] Created order %s for user %d (plan=%s cycle=%s amount=%.2f %s)",
		payment.TransactionID, in.UserID, plan.PlanKey, cycle, amount, currency)

	return &CreateOrderResult{
		Payment:          payment,
		Plan:             plan,
		PaymentLink:      order.PaymentLink,
		PaymentSessionID: order.PaymentSessionID,
	}, nil
}
