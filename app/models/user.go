package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusInactive  = "inactive"
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusCancelled = "cancelled"
)

// User is owned by the account service. This service only writes the
// subscription columns, and only through ApplySubscription.
type User struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email  string `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Role   string `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`

	Plan               string     `gorm:"type:varchar(100);not null;default:'Free'" json:"plan"`
	PlanID             string     `gorm:"type:varchar(50);not null;default:'free'" json:"plan_id"`
	CurrentPlanID      string     `gorm:"type:varchar(50);not null;default:'free'" json:"current_plan_id"`
	BillingCycle       string     `gorm:"type:varchar(16)" json:"billing_cycle"`
	SubscriptionStatus string     `gorm:"type:varchar(16);not null;default:'inactive'" json:"subscription_status" validate:"omitempty,oneof=active inactive trial cancelled"`
	IsPremium          bool       `gorm:"not null;default:false" json:"is_premium"`
	PlanExpiryDate     *time.Time `gorm:"type:timestamp;default:null" json:"plan_expiry_date,omitempty"`
	LastPaymentDate    *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_date,omitempty"`
	NextPaymentDate    *time.Time `gorm:"type:timestamp;default:null" json:"next_payment_date,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// SubscriptionSnapshot is the subscription view returned to API clients.
type SubscriptionSnapshot struct {
	Plan               string     `json:"plan"`
	PlanID             string     `json:"planId"`
	CurrentPlanID      string     `json:"currentPlanId"`
	BillingCycle       string     `json:"billingCycle"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	IsPremium          bool       `json:"isPremium"`
	PlanExpiryDate     *time.Time `json:"planExpiryDate"`
	LastPaymentDate    *time.Time `json:"lastPaymentDate"`
	NextPaymentDate    *time.Time `json:"nextPaymentDate"`
}

func (u *User) Subscription() SubscriptionSnapshot {
	return SubscriptionSnapshot{
		Plan:               u.Plan,
		PlanID:             u.PlanID,
		CurrentPlanID:      u.CurrentPlanID,
		BillingCycle:       u.BillingCycle,
		SubscriptionStatus: u.SubscriptionStatus,
		IsPremium:          u.IsPremium,
		PlanExpiryDate:     u.PlanExpiryDate,
		LastPaymentDate:    u.LastPaymentDate,
		NextPaymentDate:    u.NextPaymentDate,
	}
}
