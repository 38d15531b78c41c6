package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PlanPay/app/models"
)

const (
	inlineWebhookTimeout = 60 * time.Second
	unsignedEventPrefix  = "unsigned:"
)

// WebhookIngester durably records gateway deliveries and hands payment
// events to the reconciler.
type WebhookIngester struct {
	repo       Repository
	reconciler *Reconciler

	mu        sync.RWMutex
	scheduler WebhookScheduler
}

func NewWebhookIngester(repo Repository, reconciler *Reconciler) *WebhookIngester {
	return &WebhookIngester{repo: repo, reconciler: reconciler}
}

// SetScheduler installs the background queue used for processing. Without
// one, events are processed in a detached goroutine.
func (w *WebhookIngester) SetScheduler(s WebhookScheduler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduler = s
}

func (w *WebhookIngester) getScheduler() WebhookScheduler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.scheduler
}

// Ingest persists a delivery before anything else happens to it. An error
// means the delivery was not recorded and the gateway should retry.
// ErrInvalidSignature is returned after the event has been stored.
func (w *WebhookIngester) Ingest(ctx context.Context, in WebhookEventInput, actionable bool) (*WebhookIngestResult, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = models.BillingProviderGateway
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256(in.Payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	if !in.SignatureValid {
		// Unverified senders must not claim the key of a genuine delivery.
		eventID = unsignedEventPrefix + eventID
	}
	payload := in.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	} else if !json.Valid(payload) {
		// JSON columns reject raw bodies; keep them as a string value.
		payload, _ = json.Marshal(string(payload))
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		OrderID:         strings.TrimSpace(in.OrderID),
		Payload:         payload,
		SignatureValid:  in.SignatureValid,
	}
	created, stored, err := w.repo.CreateWebhookEventIfNotExists(ctx, event)
	if err != nil {
		return nil, err
	}
	result := &WebhookIngestResult{Event: stored}
	if !created {
		result.Duplicate = true
		if !stored.SignatureValid {
			return result, ErrInvalidSignature
		}
		return result, nil
	}

	if !stored.SignatureValid {
		w.markProcessed(ctx, stored.ID, ErrInvalidSignature)
		return result, ErrInvalidSignature
	}
	if !actionable || stored.OrderID == "" {
		w.markProcessed(ctx, stored.ID, nil)
		result.Ignored = true
		return result, nil
	}

	if s := w.getScheduler(); s != nil {
		err := s.ScheduleWebhookEvent(ctx, stored.ID)
		if err == nil {
			result.Scheduled = true
			return result, nil
		}
		log.Warnf("[Billing] Could not schedule webhook event %d, processing inline: %v", stored.ID, err)
	}

	go func(id uint) {
		bg, cancel := context.WithTimeout(context.Background(), inlineWebhookTimeout)
		defer cancel()
		if err := w.ProcessEvent(bg, id); err != nil {
			log.Warnf("[Billing] Webhook event %d not settled yet: %v", id, err)
		}
	}(stored.ID)
	return result, nil
}

// ProcessEvent reconciles the payment referenced by a stored event. A nil
// return means the event reached a final outcome.
func (w *WebhookIngester) ProcessEvent(ctx context.Context, eventID uint) error {
	event, err := w.repo.GetWebhookEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEventNotFound
		}
		return err
	}
	if event.IsProcessed() {
		return nil
	}
	if !event.SignatureValid {
		w.markProcessed(ctx, event.ID, ErrInvalidSignature)
		return nil
	}

	result, err := w.reconciler.Reconcile(ctx, ReconcileRequest{
		TransactionID: event.OrderID,
		Source:        SourceWebhook,
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			log.Warnf("[Billing] Webhook event %d references unknown order %s", event.ID, event.OrderID)
			w.markProcessed(ctx, event.ID, err)
			return nil
		}
		w.recordAttempt(ctx, event.ID, err)
		return err
	}
	if !result.Payment.IsTerminal() {
		err := errors.New("payment still pending at gateway")
		w.recordAttempt(ctx, event.ID, err)
		return &RetryableError{TransactionID: event.OrderID, Err: err}
	}

	w.markProcessed(ctx, event.ID, nil)
	return nil
}

func (w *WebhookIngester) markProcessed(ctx context.Context, id uint, processingErr error) {
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	if err := w.repo.MarkWebhookProcessed(ctx, id, msg); err != nil {
		log.Errorf("[Billing] Failed to mark webhook event %d processed: %v", id, err)
	}
}

func (w *WebhookIngester) recordAttempt(ctx context.Context, id uint, cause error) {
	if err := w.repo.RecordWebhookAttempt(ctx, id, cause.Error()); err != nil {
		log.Errorf("[Billing] Failed to record webhook attempt %d: %v", id, err)
	}
}
