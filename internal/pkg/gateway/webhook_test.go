package gateway

import (
	"testing"
)

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`)
	secret := "top-secret"
	ts := "1718000000"

	validSig := SignWebhook(payload, ts, secret)
	if !VerifyWebhookSignature(payload, ts, validSig, secret) {
		t.Fatalf("expected signature to validate")
	}
	if VerifyWebhookSignature(payload, "1718000001", validSig, secret) {
		t.Fatalf("expected signature with a different timestamp to fail")
	}
	if VerifyWebhookSignature([]byte(`{"type":"x"}`), ts, validSig, secret) {
		t.Fatalf("expected signature over a different body to fail")
	}
	if VerifyWebhookSignature(payload, ts, "not base64!", secret) {
		t.Fatalf("expected malformed signature to fail")
	}
	if VerifyWebhookSignature(payload, ts, validSig, "") {
		t.Fatalf("expected empty secret to fail")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	raw := []byte(`{
		"type": "PAYMENT_SUCCESS_WEBHOOK",
		"event_time": "2026-10-16T10:00:00+05:30",
		"data": {
			"order": { "order_id": "order_abc", "order_amount": 999, "order_currency": "INR" },
			"payment": { "cf_payment_id": 5114910457788, "payment_status": "SUCCESS" }
		}
	}`)

	ev, err := ParseWebhookEvent(raw)
	if err != nil {
		t.Fatalf("ParseWebhookEvent() error = %v", err)
	}
	if ev.OrderID != "order_abc" {
		t.Fatalf("OrderID = %q, want order_abc", ev.OrderID)
	}
	if ev.ID != "PAYMENT_SUCCESS_WEBHOOK:5114910457788" {
		t.Fatalf("ID = %q", ev.ID)
	}
	if !ev.Actionable {
		t.Fatalf("expected success event to be actionable")
	}
}

func TestParseWebhookEventFallbacks(t *testing.T) {
	ev, err := ParseWebhookEvent([]byte(`{"type":"payment_success_webhook","data":{"order_id":"order_flat"}}`))
	if err != nil {
		t.Fatalf("ParseWebhookEvent() error = %v", err)
	}
	if ev.OrderID != "order_flat" || !ev.Actionable || ev.ID != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ev, err = ParseWebhookEvent([]byte(`{"type":"PAYMENT_FAILED_WEBHOOK","order_id":"order_top"}`))
	if err != nil {
		t.Fatalf("ParseWebhookEvent() error = %v", err)
	}
	if ev.OrderID != "order_top" || ev.Actionable {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, err := ParseWebhookEvent([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("expected missing type to fail")
	}
	if _, err := ParseWebhookEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected invalid json to fail")
	}
}
