package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"hash"
	"strings"
)

const (
	EventPaymentSuccess = "PAYMENT_SUCCESS_WEBHOOK"
	EventPaymentFailed  = "PAYMENT_FAILED_WEBHOOK"
	EventUserDropped    = "PAYMENT_USER_DROPPED_WEBHOOK"
)

// WebhookEvent is the part of a gateway delivery the ingester needs.
type WebhookEvent struct {
	ID         string
	Type       string
	OrderID    string
	Actionable bool
}

// VerifyWebhookSignature checks the base64 HMAC-SHA256 of timestamp+payload.
func VerifyWebhookSignature(payload []byte, timestamp, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}

	signed := make([]byte, 0, len(timestamp)+len(payload))
	signed = append(signed, strings.TrimSpace(timestamp)...)
	signed = append(signed, payload...)
	return verifyHMAC(signed, decodedSig, []byte(secret), sha256.New)
}

// SignWebhook produces the signature header value for payload.
func SignWebhook(payload []byte, timestamp, webhookSecret string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

// ParseWebhookEvent extracts the event type, order id and payment id from a
// delivery. Only payment success events are actionable.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	type rawPayload struct {
		Type    string `json:"type"`
		OrderID string `json:"order_id"`
		Data    struct {
			OrderID string `json:"order_id"`
			Order   struct {
				OrderID string `json:"order_id"`
			} `json:"order"`
			Payment struct {
				CFPaymentID flexibleID `json:"cf_payment_id"`
			} `json:"payment"`
		} `json:"data"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	out := &WebhookEvent{
		Type:    strings.ToUpper(strings.TrimSpace(raw.Type)),
		OrderID: strings.TrimSpace(raw.Data.Order.OrderID),
	}
	// Fallback: older payload variants carry the order id one level up.
	if out.OrderID == "" {
		out.OrderID = strings.TrimSpace(raw.Data.OrderID)
	}
	if out.OrderID == "" {
		out.OrderID = strings.TrimSpace(raw.OrderID)
	}
	if id := raw.Data.Payment.CFPaymentID.String(); id != "" {
		out.ID = out.Type + ":" + id
	}

	if out.Type == "" {
		return nil, errors.New("webhook payload missing event type")
	}
	out.Actionable = out.Type == EventPaymentSuccess && out.OrderID != ""
	return out, nil
}
