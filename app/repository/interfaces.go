package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PlanPay/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the user operations the billing flow relies on.
// Account creation and credentials live in the account service.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	ApplySubscription(ctx context.Context, userID uint, update SubscriptionUpdate) error
}

// PlanRepository defines read access to the pricing catalog.
type PlanRepository interface {
	GetByKey(ctx context.Context, key string) (*models.PricingPlan, error)
	GetByName(ctx context.Context, name string) (*models.PricingPlan, error)
	GetByID(ctx context.Context, id uint) (*models.PricingPlan, error)
	ListActive(ctx context.Context) ([]models.PricingPlan, error)
	Upsert(ctx context.Context, plan *models.PricingPlan) error
}

// SubscriptionUpdate carries the full set of subscription columns. Every
// field is written, so applying the same update twice is a no-op.
type SubscriptionUpdate struct {
	Plan               string
	PlanID             string
	CurrentPlanID      string
	BillingCycle       string
	SubscriptionStatus string
	IsPremium          bool
	PlanExpiryDate     *time.Time
	LastPaymentDate    *time.Time
	NextPaymentDate    *time.Time
}

// Repositories struct holds all repository instances
type Repositories struct {
	User UserRepository
	Plan PlanRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User: NewUserRepository(db),
		Plan: NewPlanRepository(db),
	}
}
