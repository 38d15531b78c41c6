package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlanPay/app/models"
)

func TestParseAutoRenewalScope(t *testing.T) {
	cases := map[string]AutoRenewalScope{
		"":        AutoRenewalScopeLatest,
		"latest":  AutoRenewalScopeLatest,
		" ALL ":   AutoRenewalScopeAll,
		"all":     AutoRenewalScopeAll,
		"LATEST ": AutoRenewalScopeLatest,
	}
	for in, want := range cases {
		got, err := ParseAutoRenewalScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAutoRenewalScope("everything")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func paidOrder(t *testing.T, e *testEnv, planID string) string {
	t.Helper()
	order := e.createOrder(t, planID, "monthly")
	e.gateway.setState(order.Payment.TransactionID, OrderStatePaid, "PAID")
	_, err := e.svc.Reconciler.Reconcile(context.Background(), ReconcileRequest{TransactionID: order.Payment.TransactionID})
	require.NoError(t, err)
	return order.Payment.TransactionID
}

func TestSetAutoRenewalLatestOnly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	first := paidOrder(t, e, "pro")
	second := paidOrder(t, e, "business")

	res, err := e.svc.Renewals.SetAutoRenewal(ctx, e.user.ID, false, AutoRenewalScopeLatest)
	require.NoError(t, err)
	assert.False(t, res.AutoRenewal)
	assert.Equal(t, models.RenewalStatusCancelled, res.RenewalStatus)
	assert.EqualValues(t, 1, res.Updated)
	assert.Equal(t, second, res.Payment.TransactionID)

	assert.True(t, e.payment(t, first).AutoRenewal)
	latest := e.payment(t, second)
	assert.False(t, latest.AutoRenewal)
	assert.Equal(t, models.PaymentStatusSuccess, latest.Status)
}

func TestSetAutoRenewalAllPayments(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	first := paidOrder(t, e, "pro")
	second := paidOrder(t, e, "business")

	res, err := e.svc.Renewals.SetAutoRenewal(ctx, e.user.ID, false, AutoRenewalScopeAll)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Updated)
	assert.False(t, e.payment(t, first).AutoRenewal)
	assert.False(t, e.payment(t, second).AutoRenewal)

	res, err = e.svc.Renewals.SetAutoRenewal(ctx, e.user.ID, true, "")
	require.NoError(t, err)
	assert.True(t, res.AutoRenewal)
	assert.Equal(t, models.RenewalStatusScheduled, res.RenewalStatus)
}

func TestSetAutoRenewalWithoutSuccessfulPayment(t *testing.T) {
	e := newTestEnv(t)
	e.createOrder(t, "pro", "monthly")

	_, err := e.svc.Renewals.SetAutoRenewal(context.Background(), e.user.ID, false, AutoRenewalScopeLatest)
	assert.ErrorIs(t, err, ErrNoActivePayment)

	_, err = e.svc.Renewals.SetAutoRenewal(context.Background(), 0, false, AutoRenewalScopeLatest)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
