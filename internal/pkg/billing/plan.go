package billing

import (
	"math"
	"strings"
	"time"

	"github.com/ManuelReschke/PlanPay/app/models"
)

// normalizeCycle maps caller input to a billing cycle. Empty input means
// monthly; ok is false for anything unrecognized.
func normalizeCycle(cycle string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "", "monthly", "month":
		return models.BillingCycleMonthly, true
	case "annual", "annually", "yearly", "year":
		return models.BillingCycleAnnual, true
	default:
		return "", false
	}
}

// addCycle returns the end of one billing cycle starting at t.
func addCycle(t time.Time, cycle string) time.Time {
	if cycle == models.BillingCycleAnnual {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func roundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}

func isUsableAmount(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
