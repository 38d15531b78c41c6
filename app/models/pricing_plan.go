package models

import (
	"strings"
	"time"
)

// PlanKeyFree identifies the free tier in the catalog.
const PlanKeyFree = "free"

// PricingPlan is a catalog entry a user can subscribe to. Payment flows only
// read plans; price changes are rolled out as a new Version.
type PricingPlan struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PlanKey      string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"plan_id" validate:"required,max=50"`
	Name         string    `gorm:"type:varchar(100);not null;index" json:"name" validate:"required,max=100"`
	Description  string    `gorm:"type:text" json:"description"`
	MonthlyPrice float64   `gorm:"type:decimal(12,2);not null;default:0" json:"monthly_price" validate:"gte=0"`
	YearlyPrice  float64   `gorm:"type:decimal(12,2);not null;default:0" json:"yearly_price" validate:"gte=0"`
	Currency     string    `gorm:"type:varchar(3);not null;default:'INR'" json:"currency" validate:"required,len=3"`
	IsPremium    bool      `gorm:"not null;default:false" json:"is_premium"`
	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
	Version      int       `gorm:"not null;default:1" json:"version"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFreeTier reports whether the plan grants no premium features.
func (p *PricingPlan) IsFreeTier() bool {
	return strings.EqualFold(strings.TrimSpace(p.PlanKey), PlanKeyFree)
}

// PriceFor returns the list price for the given billing cycle.
func (p *PricingPlan) PriceFor(cycle string) float64 {
	if cycle == BillingCycleAnnual {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}
