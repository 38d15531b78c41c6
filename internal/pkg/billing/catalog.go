package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/app/repository"
	"gorm.io/gorm"
)

// Catalog resolves plan references coming from clients, stored payments and
// legacy user records.
type Catalog struct {
	plans repository.PlanRepository
}

// NewCatalog creates a plan catalog over the given repository.
func NewCatalog(plans repository.PlanRepository) *Catalog {
	return &Catalog{plans: plans}
}

// Resolve looks a plan up by key, then by display name, then by numeric id.
func (c *Catalog) Resolve(ctx context.Context, ref string) (*models.PricingPlan, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrPlanNotFound
	}

	plan, err := c.plans.GetByKey(ctx, ref)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plan, err = c.plans.GetByName(ctx, ref)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	id, convErr := strconv.ParseUint(ref, 10, 64)
	if convErr != nil || id == 0 {
		return nil, ErrPlanNotFound
	}
	plan, err = c.plans.GetByID(ctx, uint(id))
	if err == nil {
		return plan, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	return nil, err
}

// ListActive returns the purchasable plans.
func (c *Catalog) ListActive(ctx context.Context) ([]models.PricingPlan, error) {
	return c.plans.ListActive(ctx)
}
