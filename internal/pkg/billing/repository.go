package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/PlanPay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	GetUserPayment(ctx context.Context, userID uint, transactionID string) (*models.Payment, error)
	ListUserPayments(ctx context.Context, userID uint, offset, limit int) ([]models.Payment, int64, error)
	HasActivePayment(ctx context.Context, userID uint, planID string, now time.Time) (bool, error)
	SetGatewayOrder(ctx context.Context, transactionID, gatewayRef, paymentLink string) error

	MarkPaymentSucceeded(ctx context.Context, transactionID string, paidAt, expiry time.Time, paymentMethod string) (bool, error)
	MarkPaymentFailed(ctx context.Context, transactionID, reason string) (bool, error)
	TouchPaymentChecked(ctx context.Context, transactionID string, at time.Time) error

	MarkPlanApplied(ctx context.Context, transactionID string, at time.Time) error
	RecordPlanApplyError(ctx context.Context, transactionID, message string) error
	ClaimInvoice(ctx context.Context, transactionID string, now, staleClaimBefore time.Time, maxAttempts int) (bool, error)
	MarkInvoiceSent(ctx context.Context, transactionID, objectKey string, at time.Time) error
	MarkInvoiceFailed(ctx context.Context, transactionID, message string) error

	ListPendingPayments(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Payment, error)
	ListPaymentsNeedingFollowUp(ctx context.Context, paidBefore, staleClaimBefore time.Time, maxAttempts, limit int) ([]models.Payment, error)
	SetAutoRenewal(ctx context.Context, userID uint, enabled, allPayments bool) (int64, *models.Payment, error)

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	RecordWebhookAttempt(ctx context.Context, id uint, processingError string) error
	ListUnprocessedWebhookEvents(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error)
}

type gormRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *gormRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *gormRepository) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetUserPayment(ctx context.Context, userID uint, transactionID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND user_id = ?", transactionID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListUserPayments(ctx context.Context, userID uint, offset, limit int) ([]models.Payment, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.Payment{}).Where("user_id = ?", userID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&payments).Error
	return payments, total, err
}

func (r *gormRepository) HasActivePayment(ctx context.Context, userID uint, planID string, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("user_id = ? AND plan_id = ? AND status = ? AND expiry_date > ?", userID, planID, models.PaymentStatusSuccess, now).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) SetGatewayOrder(ctx context.Context, transactionID, gatewayRef, paymentLink string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]interface{}{
			"gateway_order_ref": gatewayRef,
			"payment_link":      paymentLink,
		}).Error
}

// MarkPaymentSucceeded moves a pending payment to success. Only one caller
// can win; the return value reports whether this call did.
func (r *gormRepository) MarkPaymentSucceeded(ctx context.Context, transactionID string, paidAt, expiry time.Time, paymentMethod string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":          models.PaymentStatusSuccess,
			"paid_at":         gorm.Expr("COALESCE(paid_at, ?)", paidAt),
			"expiry_date":     expiry,
			"payment_method":  gorm.Expr("COALESCE(NULLIF(payment_method, ''), ?)", paymentMethod),
			"last_checked_at": paidAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) MarkPaymentFailed(ctx context.Context, transactionID, reason string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":          models.PaymentStatusFailed,
			"failure_reason":  reason,
			"last_checked_at": r.now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) TouchPaymentChecked(ctx context.Context, transactionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.PaymentStatusPending).
		Update("last_checked_at", at).Error
}

func (r *gormRepository) MarkPlanApplied(ctx context.Context, transactionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]interface{}{
			"plan_applied_at":  at,
			"plan_apply_error": "",
		}).Error
}

func (r *gormRepository) RecordPlanApplyError(ctx context.Context, transactionID, message string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ?", transactionID).
		Update("plan_apply_error", message).Error
}

// ClaimInvoice reserves the invoice of a successful payment for sending.
// A claim is granted for unsent or failed invoices, and for sends whose
// claim is older than staleClaimBefore.
func (r *gormRepository) ClaimInvoice(ctx context.Context, transactionID string, now, staleClaimBefore time.Time, maxAttempts int) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.PaymentStatusSuccess).
		Where("invoice_attempts < ?", maxAttempts).
		Where(
			r.db.Where("invoice_status IN ?", []string{models.InvoiceStatusNone, models.InvoiceStatusFailed}).
				Or("invoice_status = ? AND invoice_claimed_at < ?", models.InvoiceStatusSending, staleClaimBefore),
		).
		Updates(map[string]interface{}{
			"invoice_status":     models.InvoiceStatusSending,
			"invoice_claimed_at": now,
			"invoice_attempts":   gorm.Expr("invoice_attempts + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *gormRepository) MarkInvoiceSent(ctx context.Context, transactionID, objectKey string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ? AND invoice_status = ?", transactionID, models.InvoiceStatusSending).
		Updates(map[string]interface{}{
			"invoice_status":     models.InvoiceStatusSent,
			"invoice_sent_at":    at,
			"invoice_error":      "",
			"invoice_object_key": objectKey,
		}).Error
}

func (r *gormRepository) MarkInvoiceFailed(ctx context.Context, transactionID, message string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ? AND invoice_status = ?", transactionID, models.InvoiceStatusSending).
		Updates(map[string]interface{}{
			"invoice_status": models.InvoiceStatusFailed,
			"invoice_error":  message,
		}).Error
}

func (r *gormRepository) ListPendingPayments(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, createdBefore)
	if !createdAfter.IsZero() {
		q = q.Where("created_at >= ?", createdAfter)
	}
	err := q.Order("created_at ASC").Limit(limit).Find(&payments).Error
	return payments, err
}

// ListPaymentsNeedingFollowUp returns successful payments whose plan was not
// applied yet or whose invoice still has to go out.
func (r *gormRepository) ListPaymentsNeedingFollowUp(ctx context.Context, paidBefore, staleClaimBefore time.Time, maxAttempts, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND paid_at < ?", models.PaymentStatusSuccess, paidBefore).
		Where(
			r.db.Where("plan_applied_at IS NULL").
				Or("invoice_status IN ? AND invoice_attempts < ?", []string{models.InvoiceStatusNone, models.InvoiceStatusFailed}, maxAttempts).
				Or("invoice_status = ? AND invoice_claimed_at < ? AND invoice_attempts < ?", models.InvoiceStatusSending, staleClaimBefore, maxAttempts),
		).
		Order("paid_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// SetAutoRenewal updates the renewal preference on the latest successful
// payment, or on every successful payment of the user when allPayments is set.
func (r *gormRepository) SetAutoRenewal(ctx context.Context, userID uint, enabled, allPayments bool) (int64, *models.Payment, error) {
	db := r.db.WithContext(ctx)

	var latest models.Payment
	err := db.Where("user_id = ? AND status = ?", userID, models.PaymentStatusSuccess).
		Order("paid_at DESC").Order("id DESC").
		First(&latest).Error
	if err != nil {
		return 0, nil, err
	}

	renewalStatus := models.RenewalStatusCancelled
	if enabled {
		renewalStatus = models.RenewalStatusScheduled
	}

	q := db.Model(&models.Payment{})
	if allPayments {
		q = q.Where("user_id = ? AND status = ?", userID, models.PaymentStatusSuccess)
	} else {
		q = q.Where("id = ?", latest.ID)
	}
	tx := q.Updates(map[string]interface{}{
		"auto_renewal":   enabled,
		"renewal_status": renewalStatus,
	})
	if tx.Error != nil {
		return 0, nil, tx.Error
	}

	if err := db.First(&latest, latest.ID).Error; err != nil {
		return tx.RowsAffected, nil, err
	}
	return tx.RowsAffected, &latest, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	var event models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := r.now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RecordWebhookAttempt counts a failed processing attempt and leaves the event
// open for the retry sweep.
func (r *gormRepository) RecordWebhookAttempt(ctx context.Context, id uint, processingError string) error {
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"attempts":         gorm.Expr("attempts + 1"),
			"processing_error": processingError,
		}).Error
}

func (r *gormRepository) ListUnprocessedWebhookEvents(ctx context.Context, createdBefore time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	var events []models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND signature_valid = ? AND created_at < ? AND attempts < ?", true, createdBefore, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
