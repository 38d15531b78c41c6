package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/app/repository"
)

// SubscriptionUpdater is the only writer of user subscription fields.
type SubscriptionUpdater struct {
	catalog *Catalog
	users   repository.UserRepository
	now     func() time.Time
}

// NewSubscriptionUpdater creates an updater over the user repository.
func NewSubscriptionUpdater(catalog *Catalog, users repository.UserRepository) *SubscriptionUpdater {
	return &SubscriptionUpdater{catalog: catalog, users: users, now: utcNow}
}

// ApplyConfirmedPayment grants the plan bought by payment to the user. All
// dates derive from the payment itself, so repeated calls with the same
// payment leave the user in the same state.
func (u *SubscriptionUpdater) ApplyConfirmedPayment(ctx context.Context, userID uint, payment *models.Payment) (*models.User, error) {
	if payment == nil {
		return nil, errors.New("payment is required")
	}
	if userID == 0 {
		return nil, ErrUserNotFound
	}

	planID := payment.PlanID
	planName := payment.PlanName
	isPremium := planID != models.PlanKeyFree

	plan, err := u.catalog.Resolve(ctx, payment.PlanID)
	if errors.Is(err, ErrPlanNotFound) && payment.PlanName != "" {
		plan, err = u.catalog.Resolve(ctx, payment.PlanName)
	}
	switch {
	case err == nil:
		planID = plan.PlanKey
		planName = plan.Name
		isPremium = !plan.IsFreeTier()
	case errors.Is(err, ErrPlanNotFound):
		// Retired plans still grant what the payment snapshot says.
	default:
		return nil, fmt.Errorf("resolve plan %q: %w", payment.PlanID, err)
	}

	cycle, ok := normalizeCycle(payment.BillingCycle)
	if !ok {
		cycle = models.BillingCycleMonthly
	}

	paidAt := u.now()
	if payment.PaidAt != nil {
		paidAt = payment.PaidAt.UTC()
	}
	expiry := addCycle(paidAt, cycle)
	if payment.ExpiryDate != nil {
		expiry = payment.ExpiryDate.UTC()
	}
	next := addCycle(paidAt, cycle)

	err = u.users.ApplySubscription(ctx, userID, repository.SubscriptionUpdate{
		Plan:               planName,
		PlanID:             planID,
		CurrentPlanID:      planID,
		BillingCycle:       cycle,
		SubscriptionStatus: models.SubscriptionStatusActive,
		IsPremium:          isPremium,
		PlanExpiryDate:     &expiry,
		LastPaymentDate:    &paidAt,
		NextPaymentDate:    &next,
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("apply subscription: %w", err)
	}

	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}
