package billing

import (
	"context"

	"github.com/ManuelReschke/PlanPay/app/models"
)

// OrderState is the gateway's view of an order, reduced to what the
// reconciler acts on.
type OrderState string

const (
	OrderStatePending OrderState = "pending"
	OrderStatePaid    OrderState = "paid"
	OrderStateFailed  OrderState = "failed"
)

// GatewayOrderRequest describes an order to open with the payment gateway.
type GatewayOrderRequest struct {
	TransactionID string
	Amount        float64
	Currency      string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	Description   string
}

// GatewayOrder is the gateway's record of an order.
type GatewayOrder struct {
	OrderID          string
	GatewayRef       string
	State            OrderState
	RawStatus        string
	PaymentLink      string
	PaymentSessionID string
	PaymentMethod    string
	Amount           float64
	Currency         string
}

// Gateway opens orders and reports their status. TerminateOrder asks the
// gateway to stop accepting payment for an order and returns the order as
// the gateway reports it afterwards; a paid order cannot be terminated.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
	GetOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
	TerminateOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
}

// InvoiceDispatcher renders and delivers the invoice for a confirmed payment.
// It returns a reference to the archived document, if any.
type InvoiceDispatcher interface {
	Dispatch(ctx context.Context, payment *models.Payment, user *models.User) (string, error)
}

// WebhookScheduler hands a recorded webhook event to background processing.
type WebhookScheduler interface {
	ScheduleWebhookEvent(ctx context.Context, eventID uint) error
}

// CreateOrderInput is the caller's request for a new order.
type CreateOrderInput struct {
	UserID       uint
	PlanID       string
	BillingCycle string
	Currency     string
}

// CreateOrderResult is returned once the gateway order exists.
type CreateOrderResult struct {
	Payment          *models.Payment
	Plan             *models.PricingPlan
	PaymentLink      string
	PaymentSessionID string
}

// ReconcileSource names the caller driving a reconciliation.
type ReconcileSource string

const (
	SourceVerify  ReconcileSource = "verify"
	SourceWebhook ReconcileSource = "webhook"
	SourceSweeper ReconcileSource = "sweeper"
)

// ReconcileRequest identifies the payment to reconcile. UserID scopes the
// lookup to one user; zero means unscoped (webhooks and sweeps).
type ReconcileRequest struct {
	TransactionID string
	UserID        uint
	Source        ReconcileSource
}

// ReconcileResult is the settled view after a reconciliation attempt.
type ReconcileResult struct {
	Payment *models.Payment
	User    *models.User
	// Transitioned is true only for the call that moved the payment out of pending.
	Transitioned bool
	// SideEffectErrors holds plan application or invoice failures. They never
	// change the payment status.
	SideEffectErrors []error
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	OrderID         string
	Payload         []byte
	SignatureValid  bool
}

// WebhookIngestResult describes what happened to an incoming delivery.
type WebhookIngestResult struct {
	Event     *models.BillingWebhookEvent
	Duplicate bool
	Ignored   bool
	Scheduled bool
}

// AutoRenewalScope selects which payments a renewal toggle touches.
type AutoRenewalScope string

const (
	AutoRenewalScopeLatest AutoRenewalScope = "latest"
	AutoRenewalScopeAll    AutoRenewalScope = "all"
)

// AutoRenewalResult reports the new renewal preference.
type AutoRenewalResult struct {
	AutoRenewal   bool
	RenewalStatus string
	Updated       int64
	Payment       *models.Payment
}
