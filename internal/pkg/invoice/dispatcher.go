package invoice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/internal/pkg/archive"
	"github.com/ManuelReschke/PlanPay/internal/pkg/env"
	"github.com/ManuelReschke/PlanPay/internal/pkg/mail"
)

// Mailer delivers e-mails.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Archiver keeps a copy of each rendered invoice.
type Archiver interface {
	Store(ctx context.Context, invoiceNumber string, body []byte, meta archive.Metadata) (string, error)
}

// Config holds invoice presentation settings
type Config struct {
	CompanyName string
}

// LoadConfig loads invoice configuration from environment variables
func LoadConfig() Config {
	return Config{
		CompanyName: env.GetEnv("INVOICE_COMPANY_NAME", "PlanPay"),
	}
}

// Dispatcher renders, archives and mails invoices. Archiving is optional.
type Dispatcher struct {
	renderer *Renderer
	mailer   Mailer
	archiver Archiver
	cfg      Config
	now      func() time.Time
}

func NewDispatcher(renderer *Renderer, mailer Mailer, archiver Archiver, cfg Config) *Dispatcher {
	return &Dispatcher{
		renderer: renderer,
		mailer:   mailer,
		archiver: archiver,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Number returns the invoice number for a transaction.
func Number(transactionID string) string {
	return "INV-" + strings.TrimPrefix(transactionID, "order_")
}

// Dispatch sends the invoice for a confirmed payment and returns the
// archive object key, if one was stored. Archiving happens first so a
// retried dispatch overwrites the same object.
func (d *Dispatcher) Dispatch(ctx context.Context, payment *models.Payment, user *models.User) (string, error) {
	if payment == nil || user == nil {
		return "", errors.New("payment and user are required")
	}
	if strings.TrimSpace(user.Email) == "" {
		return "", fmt.Errorf("user %d has no e-mail address", user.ID)
	}

	doc := d.document(payment, user)
	body, err := d.renderer.Document(doc)
	if err != nil {
		return "", err
	}
	emailBody, err := d.renderer.Email(doc)
	if err != nil {
		return "", err
	}

	objectKey := ""
	if d.archiver != nil {
		objectKey, err = d.archiver.Store(ctx, doc.Number, body, archive.Metadata{
			TransactionID: payment.TransactionID,
			UserID:        strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:      doc.IssuedAt,
		})
		if err != nil {
			return "", fmt.Errorf("archive invoice: %w", err)
		}
	}

	err = d.mailer.Send(ctx, mail.Message{
		To:       user.Email,
		Subject:  fmt.Sprintf("Your %s invoice %s", d.cfg.CompanyName, doc.Number),
		HTMLBody: string(emailBody),
		Attachments: []mail.Attachment{{
			Name:        doc.Number + ".html",
			ContentType: "text/html; charset=UTF-8",
			Data:        body,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("mail invoice: %w", err)
	}

	log.Infof("[Invoice] Sent %s for payment %s to user %d", doc.Number, payment.TransactionID, user.ID)
	return objectKey, nil
}

func (d *Dispatcher) document(payment *models.Payment, user *models.User) Document {
	issued := d.now()
	if payment.PaidAt != nil {
		issued = payment.PaidAt.UTC()
	}
	doc := Document{
		Number:          Number(payment.TransactionID),
		CompanyName:     d.cfg.CompanyName,
		IssuedAt:        issued,
		CustomerName:    user.Name,
		CustomerEmail:   user.Email,
		TransactionID:   payment.TransactionID,
		PlanName:        payment.PlanName,
		BillingCycle:    payment.BillingCycle,
		PeriodStart:     issued,
		BaseAmount:      payment.BaseAmount,
		SurchargeAmount: payment.SurchargeAmount,
		Total:           payment.Amount,
		Currency:        payment.Currency,
		PaymentMethod:   payment.PaymentMethod,
	}
	if doc.PlanName == "" {
		doc.PlanName = payment.PlanID
	}
	if payment.ExpiryDate != nil {
		doc.PeriodEnd = payment.ExpiryDate.UTC()
	}
	return doc
}
