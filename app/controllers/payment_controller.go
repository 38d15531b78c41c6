package controllers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PlanPay/app/models"
	"github.com/ManuelReschke/PlanPay/internal/pkg/billing"
	"github.com/ManuelReschke/PlanPay/internal/pkg/usercontext"
)

// requestTimeout bounds every billing call made on behalf of a request. The
// context is not tied to the connection, so a verify keeps running when the
// client goes away.
const requestTimeout = 15 * time.Second

type CreateOrderRequest struct {
	PlanID       string `json:"planId" validate:"required,max=100"`
	BillingCycle string `json:"billingCycle" validate:"omitempty,max=16"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
}

type VerifyOrderRequest struct {
	OrderID      string `json:"orderId" validate:"required,max=64"`
	PlanID       string `json:"planId" validate:"omitempty,max=100"`
	BillingCycle string `json:"billingCycle" validate:"omitempty,max=16"`
}

type AutoRenewalRequest struct {
	AutoRenewal *bool  `json:"autoRenewal" validate:"required"`
	Scope       string `json:"scope" validate:"omitempty,oneof=latest all"`
}

// PaymentController serves the authenticated billing API.
type PaymentController struct {
	svc      *billing.Service
	validate *validator.Validate
}

func NewPaymentController(svc *billing.Service) *PaymentController {
	return &PaymentController{svc: svc, validate: validator.New()}
}

func (pc *PaymentController) bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return err
	}
	return pc.validate.Struct(out)
}

// HandleCreateOrder opens a gateway order for a plan.
func (pc *PaymentController) HandleCreateOrder(c *fiber.Ctx) error {
	var req CreateOrderRequest
	if err := pc.bind(c, &req); err != nil {
		return validationFailed(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := pc.svc.Orders.CreateOrder(ctx, billing.CreateOrderInput{
		UserID:       usercontext.GetUserID(c),
		PlanID:       req.PlanID,
		BillingCycle: req.BillingCycle,
		Currency:     req.Currency,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"paymentLink":      res.PaymentLink,
		"paymentSessionId": res.PaymentSessionID,
		"orderId":          res.Payment.TransactionID,
		"amount":           res.Payment.Amount,
		"baseAmount":       res.Payment.BaseAmount,
		"surchargeAmount":  res.Payment.SurchargeAmount,
		"currency":         res.Payment.Currency,
		"planId":           res.Payment.PlanID,
		"planName":         res.Payment.PlanName,
		"billingCycle":     res.Payment.BillingCycle,
	})
}

// HandleVerifyOrder reconciles one of the caller's orders with the gateway.
func (pc *PaymentController) HandleVerifyOrder(c *fiber.Ctx) error {
	var req VerifyOrderRequest
	if err := pc.bind(c, &req); err != nil {
		return validationFailed(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	userID := usercontext.GetUserID(c)
	res, err := pc.svc.Reconciler.Verify(ctx, userID, req.OrderID, req.PlanID, req.BillingCycle)
	if err != nil {
		// failed verify responses always name the order
		return respondOrderError(c, err, req.OrderID)
	}

	user := res.User
	if user == nil {
		if user, err = pc.svc.GetSubscription(ctx, userID); err != nil {
			return respondError(c, err)
		}
	}

	body := paymentResponse(res.Payment)
	body["orderStatus"] = res.Payment.Status
	body["subscription"] = user.Subscription()
	if len(res.SideEffectErrors) > 0 {
		// Payment stands; follow-up work is retried in the background.
		body["followUpPending"] = true
	}
	return c.JSON(body)
}

// HandleSetAutoRenewal records the caller's renewal preference.
func (pc *PaymentController) HandleSetAutoRenewal(c *fiber.Ctx) error {
	var req AutoRenewalRequest
	if err := pc.bind(c, &req); err != nil {
		return validationFailed(c, err)
	}
	scope, err := billing.ParseAutoRenewalScope(req.Scope)
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := pc.svc.Renewals.SetAutoRenewal(ctx, usercontext.GetUserID(c), *req.AutoRenewal, scope)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"autoRenewal":   res.AutoRenewal,
		"renewalStatus": res.RenewalStatus,
		"updated":       res.Updated,
	})
}

// HandleListPlans returns the active catalog.
func (pc *PaymentController) HandleListPlans(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	plans, err := pc.svc.Catalog.ListActive(ctx)
	if err != nil {
		return respondError(c, err)
	}

	out := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		out = append(out, fiber.Map{
			"planId":       p.PlanKey,
			"name":         p.Name,
			"description":  p.Description,
			"monthlyPrice": p.MonthlyPrice,
			"yearlyPrice":  p.YearlyPrice,
			"currency":     p.Currency,
			"isPremium":    p.IsPremium,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleGetSubscription returns the caller's subscription fields.
func (pc *PaymentController) HandleGetSubscription(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user, err := pc.svc.GetSubscription(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user.Subscription())
}

// HandleListPayments pages through the caller's payments, newest first.
func (pc *PaymentController) HandleListPayments(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	perPage := c.QueryInt("per_page", 20)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	payments, total, err := pc.svc.ListPayments(ctx, usercontext.GetUserID(c), page, perPage)
	if err != nil {
		return respondError(c, err)
	}

	items := make([]fiber.Map, 0, len(payments))
	for i := range payments {
		items = append(items, paymentResponse(&payments[i]))
	}
	return c.JSON(fiber.Map{
		"payments": items,
		"total":    total,
		"page":     page,
	})
}

// HandleGetPayment returns one of the caller's payments.
func (pc *PaymentController) HandleGetPayment(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	p, err := pc.svc.GetPayment(ctx, usercontext.GetUserID(c), c.Params("orderId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paymentResponse(p))
}

func paymentResponse(p *models.Payment) fiber.Map {
	return fiber.Map{
		"orderId":         p.TransactionID,
		"status":          p.Status,
		"amount":          p.Amount,
		"baseAmount":      p.BaseAmount,
		"surchargeAmount": p.SurchargeAmount,
		"currency":        p.Currency,
		"planId":          p.PlanID,
		"planName":        p.PlanName,
		"billingCycle":    p.BillingCycle,
		"paymentMethod":   p.PaymentMethod,
		"autoRenewal":     p.AutoRenewal,
		"renewalStatus":   p.RenewalStatus,
		"paidAt":          p.PaidAt,
		"expiryDate":      p.ExpiryDate,
		"invoiceStatus":   p.InvoiceStatus,
		"createdAt":       p.CreatedAt,
	}
}
