package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ParseAutoRenewalScope maps caller input to a scope. Empty means latest.
func ParseAutoRenewalScope(raw string) (AutoRenewalScope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(AutoRenewalScopeLatest):
		return AutoRenewalScopeLatest, nil
	case string(AutoRenewalScopeAll):
		return AutoRenewalScopeAll, nil
	default:
		return "", newValidationError("scope", "must be latest or all, got %q", raw)
	}
}

// RenewalToggle records a user's auto-renewal preference on their payments.
// It does not touch payment status.
type RenewalToggle struct {
	repo Repository
}

func NewRenewalToggle(repo Repository) *RenewalToggle {
	return &RenewalToggle{repo: repo}
}

func (t *RenewalToggle) SetAutoRenewal(ctx context.Context, userID uint, enabled bool, scope AutoRenewalScope) (*AutoRenewalResult, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	if scope == "" {
		scope = AutoRenewalScopeLatest
	}

	updated, latest, err := t.repo.SetAutoRenewal(ctx, userID, enabled, scope == AutoRenewalScopeAll)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActivePayment
		}
		return nil, err
	}

	log.Infof("[Billing] User %d set auto-renewal=%t (scope=%s, payments=%d)", userID, enabled, scope, updated)
	return &AutoRenewalResult{
		AutoRenewal:   latest.AutoRenewal,
		RenewalStatus: latest.RenewalStatus,
		Updated:       updated,
		Payment:       latest,
	}, nil
}
