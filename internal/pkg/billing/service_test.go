package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlanPay/app/models"
)

func TestStalePendingPaymentsWindow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	fresh := e.createOrder(t, "pro", "monthly")
	stale := e.createOrder(t, "business", "monthly")
	abandoned := e.createOrder(t, "pro", "annual")
	e.ageRow(t, &models.Payment{}, "created_at", stale.Payment.ID, 10*time.Minute)
	e.ageRow(t, &models.Payment{}, "created_at", abandoned.Payment.ID, 8*24*time.Hour)

	payments, err := e.svc.StalePendingPayments(ctx)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, stale.Payment.TransactionID, payments[0].TransactionID)
	assert.NotEqual(t, fresh.Payment.TransactionID, payments[0].TransactionID)
}

func TestExpireAbandonedPayments(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	open := e.createOrder(t, "pro", "monthly")
	paidLate := e.createOrder(t, "business", "monthly")
	e.ageRow(t, &models.Payment{}, "created_at", open.Payment.ID, 8*24*time.Hour)
	e.ageRow(t, &models.Payment{}, "created_at", paidLate.Payment.ID, 8*24*time.Hour)
	e.gateway.setState(paidLate.Payment.TransactionID, OrderStatePaid, "PAID")

	expired, err := e.svc.ExpireAbandonedPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	// The open order is closed at the gateway before it is failed here.
	assert.Equal(t, 1, e.gateway.terminateCalls)
	p := e.payment(t, open.Payment.TransactionID)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Contains(t, p.FailureReason, "expired")
	assert.Contains(t, p.FailureReason, "TERMINATED")

	// The final gateway check confirms payments that did go through.
	assert.Equal(t, models.PaymentStatusSuccess, e.payment(t, paidLate.Payment.TransactionID).Status)
}

func TestExpireAbandonedPaymentsKeepsOrderAwaitingTermination(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	order := e.createOrder(t, "pro", "monthly")
	txID := order.Payment.TransactionID
	e.ageRow(t, &models.Payment{}, "created_at", order.Payment.ID, 8*24*time.Hour)
	e.gateway.terminateRaw = "TERMINATION_REQUESTED"

	expired, err := e.svc.ExpireAbandonedPayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, models.PaymentStatusPending, e.payment(t, txID).Status)

	// Paid before the gateway finished closing it: the next run settles it.
	e.gateway.setState(txID, OrderStatePaid, "PAID")
	expired, err = e.svc.ExpireAbandonedPayments(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, models.PaymentStatusSuccess, e.payment(t, txID).Status)
	assert.True(t, e.reloadUser(t).IsPremium)
}

func TestExpireAbandonedPaymentsCountsGatewayExpiry(t *testing.T) {
	e := newTestEnv(t)
	order := e.createOrder(t, "pro", "monthly")
	e.ageRow(t, &models.Payment{}, "created_at", order.Payment.ID, 8*24*time.Hour)
	e.gateway.setState(order.Payment.TransactionID, OrderStateFailed, "EXPIRED")

	expired, err := e.svc.ExpireAbandonedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Zero(t, e.gateway.terminateCalls)
	assert.Equal(t, models.PaymentStatusFailed, e.payment(t, order.Payment.TransactionID).Status)
}

func TestExpireAbandonedPaymentsSkipsOnGatewayError(t *testing.T) {
	e := newTestEnv(t)
	order := e.createOrder(t, "pro", "monthly")
	e.ageRow(t, &models.Payment{}, "created_at", order.Payment.ID, 8*24*time.Hour)
	e.gateway.setGetErr(context.DeadlineExceeded)

	expired, err := e.svc.ExpireAbandonedPayments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Zero(t, e.gateway.terminateCalls)
	assert.Equal(t, models.PaymentStatusPending, e.payment(t, order.Payment.TransactionID).Status)
}

func TestPaymentsNeedingFollowUp(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	order := e.createOrder(t, "pro", "monthly")
	txID := order.Payment.TransactionID
	e.gateway.setState(txID, OrderStatePaid, "PAID")
	e.invoice.setErr(assert.AnError)
	_, err := e.svc.Reconciler.Reconcile(ctx, ReconcileRequest{TransactionID: txID})
	require.NoError(t, err)

	done := e.createOrder(t, "business", "monthly")
	e.gateway.setState(done.Payment.TransactionID, OrderStatePaid, "PAID")
	e.invoice.setErr(nil)
	_, err = e.svc.Reconciler.Reconcile(ctx, ReconcileRequest{TransactionID: done.Payment.TransactionID})
	require.NoError(t, err)

	// Recently paid payments are left to the request that settled them.
	payments, err := e.svc.PaymentsNeedingFollowUp(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)

	p := e.payment(t, txID)
	e.ageRow(t, &models.Payment{}, "paid_at", p.ID, 5*time.Minute)
	e.ageRow(t, &models.Payment{}, "paid_at", e.payment(t, done.Payment.TransactionID).ID, 5*time.Minute)

	payments, err = e.svc.PaymentsNeedingFollowUp(ctx)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, txID, payments[0].TransactionID)

	require.NoError(t, e.svc.Reconciler.CompleteFollowUp(ctx, txID))
	payments, err = e.svc.PaymentsNeedingFollowUp(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestUnprocessedWebhookEvents(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.svc.Webhooks.SetScheduler(&recordingScheduler{})

	open, err := e.svc.Webhooks.Ingest(ctx, webhookInput("evt_open", "order_a"), true)
	require.NoError(t, err)
	ignored, err := e.svc.Webhooks.Ingest(ctx, webhookInput("evt_ignored", "order_b"), false)
	require.NoError(t, err)
	e.ageRow(t, &models.BillingWebhookEvent{}, "created_at", open.Event.ID, 5*time.Minute)
	e.ageRow(t, &models.BillingWebhookEvent{}, "created_at", ignored.Event.ID, 5*time.Minute)

	events, err := e.svc.UnprocessedWebhookEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, open.Event.ID, events[0].ID)

	require.NoError(t, e.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", open.Event.ID).
		Update("attempts", DefaultConfig().WebhookMaxAttempts).Error)
	events, err = e.svc.UnprocessedWebhookEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadEndpointsAreScopedToUser(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	first := e.createOrder(t, "pro", "monthly")
	e.createOrder(t, "business", "monthly")

	payments, total, err := e.svc.ListPayments(ctx, e.user.ID, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, payments, 1)

	p, err := e.svc.GetPayment(ctx, e.user.ID, first.Payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "pro", p.PlanID)

	_, err = e.svc.GetPayment(ctx, e.user.ID+1, first.Payment.TransactionID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	u, err := e.svc.GetSubscription(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusInactive, u.SubscriptionStatus)

	_, err = e.svc.GetSubscription(ctx, 0)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
