package controllers

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/internal/pkg/billing"
	"github.com/ManuelReschke/PlanPay/internal/pkg/gateway"
)

const testWebhookSecret = "whsec_test"

func successPayload(orderID string, paymentID int) []byte {
	return []byte(fmt.Sprintf(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":%q},"payment":{"cf_payment_id":%d,"payment_status":"SUCCESS"}}}`, orderID, paymentID))
}

func (e *apiEnv) postWebhook(t *testing.T, payload []byte, secret string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if secret != "" {
		ts := "1760600000"
		req.Header.Set(headerWebhookTimestamp, ts)
		req.Header.Set(headerWebhookSignature, gateway.SignWebhook(payload, ts, secret))
	}
	return doRequest(t, e.app, req)
}

func (e *apiEnv) webhookEvents(t *testing.T) []models.BillingWebhookEvent {
	t.Helper()
	var events []models.BillingWebhookEvent
	require.NoError(t, e.db.Order("id").Find(&events).Error)
	return events
}

func TestWebhookSignedSuccessIsScheduled(t *testing.T) {
	e := newAPIEnv(t, testWebhookSecret)
	orderID := e.createOrder(t)

	status, body := e.postWebhook(t, successPayload(orderID, 101), testWebhookSecret)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["success"])

	events := e.webhookEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, orderID, events[0].OrderID)
	assert.Equal(t, "PAYMENT_SUCCESS_WEBHOOK:101", events[0].ProviderEventID)
	assert.True(t, events[0].SignatureValid)
	assert.Equal(t, []uint{events[0].ID}, e.scheduler.ids)

	// Processing the scheduled event settles the payment
	e.gateway.set(orderID, billing.OrderStatePaid)
	require.NoError(t, e.svc.ProcessWebhookEvent(context.Background(), events[0].ID))
	p, err := e.svc.GetPayment(context.Background(), e.user.ID, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, p.Status)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	e := newAPIEnv(t, testWebhookSecret)
	orderID := e.createOrder(t)
	payload := successPayload(orderID, 202)

	status, _ := e.postWebhook(t, payload, testWebhookSecret)
	require.Equal(t, fiber.StatusOK, status)

	status, body := e.postWebhook(t, payload, testWebhookSecret)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])

	assert.Len(t, e.webhookEvents(t), 1)
	assert.Len(t, e.scheduler.ids, 1, "duplicates are not rescheduled")
}

func TestWebhookInvalidSignature(t *testing.T) {
	e := newAPIEnv(t, testWebhookSecret)
	orderID := e.createOrder(t)

	status, body := e.postWebhook(t, successPayload(orderID, 303), "wrong-secret")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "invalid_signature", body["error"])

	events := e.webhookEvents(t)
	require.Len(t, events, 1, "rejected deliveries are still recorded")
	assert.False(t, events[0].SignatureValid)
	assert.NotNil(t, events[0].ProcessedAt)
	assert.Empty(t, e.scheduler.ids)

	status, _ = e.postWebhook(t, successPayload(orderID, 304), "")
	assert.Equal(t, fiber.StatusUnauthorized, status, "unsigned delivery")
}

func TestWebhookWithoutSecretAcceptsUnsigned(t *testing.T) {
	e := newAPIEnv(t, "")
	orderID := e.createOrder(t)

	status, body := e.postWebhook(t, successPayload(orderID, 404), "")
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Len(t, e.scheduler.ids, 1)
}

func TestWebhookIgnoredEvents(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"failure event", []byte(`{"type":"PAYMENT_FAILED_WEBHOOK","data":{"order":{"order_id":"order_x"},"payment":{"cf_payment_id":1}}}`)},
		{"no order id", []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{}}`)},
		{"unparseable", []byte(`not json at all`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newAPIEnv(t, testWebhookSecret)

			status, body := e.postWebhook(t, tt.payload, testWebhookSecret)
			require.Equal(t, fiber.StatusOK, status, body)
			assert.Equal(t, true, body["success"])
			assert.Equal(t, true, body["ignored"])

			events := e.webhookEvents(t)
			require.Len(t, events, 1)
			assert.NotNil(t, events[0].ProcessedAt)
			assert.Empty(t, e.scheduler.ids)
		})
	}
}
