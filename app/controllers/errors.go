package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PlanPay/internal/pkg/billing"
)

// respondError maps billing errors to the API error body
// {error, message, orderId?, retryable?}.
func respondError(c *fiber.Ctx, err error) error {
	return respondOrderError(c, err, "")
}

// respondOrderError is respondError with a fallback order id for errors that
// do not carry one.
func respondOrderError(c *fiber.Ctx, err error, orderID string) error {
	status, code := classifyError(err)
	body := fiber.Map{
		"error":   code,
		"message": err.Error(),
	}
	if status == fiber.StatusInternalServerError {
		log.Errorf("[Billing] %s %s failed: %v", c.Method(), c.Path(), err)
		body["message"] = "internal error"
	}
	if id := billing.TransactionIDFromError(err); id != "" {
		body["orderId"] = id
	} else if orderID != "" {
		body["orderId"] = orderID
	}
	if billing.IsRetryable(err) {
		body["retryable"] = true
	}
	return c.Status(status).JSON(body)
}

func classifyError(err error) (int, string) {
	var (
		validationErr *billing.ValidationError
		conflictErr   *billing.ConflictError
		gatewayErr    *billing.GatewayError
	)

	switch {
	case errors.As(err, &validationErr):
		return fiber.StatusBadRequest, "validation_error"
	case errors.As(err, &conflictErr):
		return fiber.StatusBadRequest, "subscription_conflict"
	case errors.Is(err, billing.ErrUnauthenticated):
		return fiber.StatusUnauthorized, "unauthorized"
	case errors.Is(err, billing.ErrPaymentNotFound):
		return fiber.StatusNotFound, "order_not_found"
	case errors.Is(err, billing.ErrNoActivePayment):
		return fiber.StatusNotFound, "no_successful_payment"
	case errors.Is(err, billing.ErrUserNotFound):
		return fiber.StatusNotFound, "user_not_found"
	case errors.As(err, &gatewayErr):
		return fiber.StatusBadGateway, "gateway_error"
	case billing.IsRetryable(err):
		return fiber.StatusServiceUnavailable, "verification_unavailable"
	default:
		return fiber.StatusInternalServerError, "internal_server_error"
	}
}

func validationFailed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "validation_error",
		"message": err.Error(),
	})
}
