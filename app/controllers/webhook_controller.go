package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/internal/pkg/billing"
	"github.com/ManuelReschke/PlanPay/internal/pkg/gateway"
)

const (
	headerWebhookSignature = "X-Webhook-Signature"
	headerWebhookTimestamp = "X-Webhook-Timestamp"
)

// webhookIngester is the part of billing.WebhookIngester the handler uses.
type webhookIngester interface {
	Ingest(ctx context.Context, in billing.WebhookEventInput, actionable bool) (*billing.WebhookIngestResult, error)
}

// WebhookController receives gateway notifications. Without a secret every
// delivery is treated as signed.
type WebhookController struct {
	ingester webhookIngester
	secret   string
}

func NewWebhookController(ingester webhookIngester, secret string) *WebhookController {
	if strings.TrimSpace(secret) == "" {
		log.Warn("[Billing] GATEWAY_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	return &WebhookController{ingester: ingester, secret: secret}
}

// HandleWebhook records a delivery and hands payment events to the reconciler.
// 200 means the delivery is durably recorded.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	signatureValid := true
	if wc.secret != "" {
		signatureValid = gateway.VerifyWebhookSignature(rawBody, c.Get(headerWebhookTimestamp), c.Get(headerWebhookSignature), wc.secret)
	}

	input := billing.WebhookEventInput{
		Provider:       models.BillingProviderGateway,
		Payload:        rawBody,
		SignatureValid: signatureValid,
	}
	event, parseErr := gateway.ParseWebhookEvent(rawBody)
	actionable := false
	if parseErr != nil {
		log.Warnf("[Billing] Unparseable webhook payload: %v", parseErr)
		input.EventType = "unparseable"
	} else {
		input.ProviderEventID = event.ID
		input.EventType = event.Type
		input.OrderID = event.OrderID
		actionable = event.Actionable
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := wc.ingester.Ingest(ctx, input, actionable)
	if errors.Is(err, billing.ErrInvalidSignature) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": err.Error()})
	}
	if err != nil {
		log.Errorf("[Billing] Failed to record webhook delivery: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed", "message": "delivery not recorded"})
	}

	body := fiber.Map{"success": true}
	switch {
	case res.Duplicate:
		body["duplicate"] = true
	case res.Ignored:
		body["ignored"] = true
	}
	return c.Status(fiber.StatusOK).JSON(body)
}
