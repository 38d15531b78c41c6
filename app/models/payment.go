package models

import "time"

const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleAnnual  = "annual"
)

const (
	RenewalStatusScheduled = "scheduled"
	RenewalStatusCancelled = "cancelled"
)

const (
	InvoiceStatusNone    = "none"
	InvoiceStatusSending = "sending"
	InvoiceStatusSent    = "sent"
	InvoiceStatusFailed  = "failed"
)

// Payment is one attempted purchase of a plan. TransactionID is the
// idempotency key for the whole confirmation flow. Status only ever moves
// from pending to success or failed.
type Payment struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	TransactionID   string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"transaction_id"`
	UserID          uint       `gorm:"not null;index:idx_payments_user_plan_status,priority:1" json:"user_id"`
	PlanID          string     `gorm:"type:varchar(50);not null;index:idx_payments_user_plan_status,priority:2" json:"plan_id"`
	PlanName        string     `gorm:"type:varchar(100);not null" json:"plan_name"`
	BillingCycle    string     `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	BaseAmount      float64    `gorm:"type:decimal(12,2);not null;default:0" json:"base_amount"`
	SurchargeAmount float64    `gorm:"type:decimal(12,2);not null;default:0" json:"surcharge_amount"`
	Amount          float64    `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency        string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_payments_user_plan_status,priority:3;index:idx_payments_status_created,priority:1" json:"status"`
	PaymentMethod   string     `gorm:"type:varchar(50)" json:"payment_method"`
	AutoRenewal     bool       `gorm:"not null" json:"auto_renewal"`
	RenewalStatus   string     `gorm:"type:varchar(16);not null;default:'scheduled'" json:"renewal_status"`
	PaidAt          *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	ExpiryDate      *time.Time `gorm:"type:timestamp;default:null" json:"expiry_date,omitempty"`
	AdminNotes      string     `gorm:"type:text" json:"admin_notes,omitempty"`
	GatewayOrderRef string     `gorm:"type:varchar(191);index" json:"-"`
	PaymentLink     string     `gorm:"type:varchar(1024)" json:"payment_link,omitempty"`
	FailureReason   string     `gorm:"type:text" json:"failure_reason,omitempty"`
	LastCheckedAt   *time.Time `gorm:"type:timestamp;default:null" json:"-"`

	PlanAppliedAt    *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	PlanApplyError   string     `gorm:"type:text" json:"-"`
	InvoiceStatus    string     `gorm:"type:varchar(16);not null;default:'none';index" json:"invoice_status"`
	InvoiceAttempts  int        `gorm:"not null;default:0" json:"-"`
	InvoiceClaimedAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	InvoiceSentAt    *time.Time `gorm:"type:timestamp;default:null" json:"invoice_sent_at,omitempty"`
	InvoiceError     string     `gorm:"type:text" json:"-"`
	InvoiceObjectKey string     `gorm:"type:varchar(255)" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_payments_status_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the payment can no longer change status.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusFailed
}

// IsActiveAt reports whether this payment currently grants its plan.
func (p *Payment) IsActiveAt(now time.Time) bool {
	return p.Status == PaymentStatusSuccess && p.ExpiryDate != nil && p.ExpiryDate.After(now)
}
