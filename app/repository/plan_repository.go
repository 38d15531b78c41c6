package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/PlanPay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new pricing plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByKey(ctx context.Context, key string) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	err := r.db.WithContext(ctx).
		Where("LOWER(plan_key) = ?", strings.ToLower(strings.TrimSpace(key))).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetByName(ctx context.Context, name string) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).
		Order("version DESC").
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetByID(ctx context.Context, id uint) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListActive returns the purchasable catalog ordered by monthly price.
func (r *planRepository) ListActive(ctx context.Context) ([]models.PricingPlan, error) {
	var plans []models.PricingPlan
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("monthly_price ASC").
		Find(&plans).Error
	return plans, err
}

// Upsert creates a plan or updates the existing entry with the same key.
func (r *planRepository) Upsert(ctx context.Context, plan *models.PricingPlan) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "plan_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"description",
			"monthly_price",
			"yearly_price",
			"currency",
			"is_premium",
			"is_active",
			"version",
			"updated_at",
		}),
	}).Create(plan).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return db.Where("plan_key = ?", plan.PlanKey).First(plan).Error
}
