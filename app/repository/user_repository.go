package repository

import (
	"context"

	"github.com/ManuelReschke/PlanPay/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ApplySubscription overwrites the subscription columns of a user. It returns
// gorm.ErrRecordNotFound when the user does not exist.
func (r *userRepository) ApplySubscription(ctx context.Context, userID uint, update SubscriptionUpdate) error {
	db := r.db.WithContext(ctx)
	tx := db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"plan":                update.Plan,
		"plan_id":             update.PlanID,
		"current_plan_id":     update.CurrentPlanID,
		"billing_cycle":       update.BillingCycle,
		"subscription_status": update.SubscriptionStatus,
		"is_premium":          update.IsPremium,
		"plan_expiry_date":    update.PlanExpiryDate,
		"last_payment_date":   update.LastPaymentDate,
		"next_payment_date":   update.NextPaymentDate,
	})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when nothing changed.
	var count int64
	if err := db.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
