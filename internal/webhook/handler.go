package webhook

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/meterpay/meterpay/internal/payments"
	"github.com/meterpay/meterpay/internal/provider"
)

// Handler terminates processor webhook deliveries. Responses steer the
// processor's retry behavior: 2xx acknowledges, 4xx drops, 503 redelivers.
type Handler struct {
	processor *Processor
	client    provider.Client
	allowlist *provider.IPAllowlist
	enforceIP bool
	logger    *slog.Logger
}

// NewHandler builds the webhook HTTP handler. A nil allowlist or
// enforceIP=false skips source address checks.
func NewHandler(processor *Processor, client provider.Client, allowlist *provider.IPAllowlist, enforceIP bool, logger *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		client:    client,
		allowlist: allowlist,
		enforceIP: enforceIP,
		logger:    logger,
	}
}

// Receive handles one notification delivery.
func (h *Handler) Receive(c *fiber.Ctx) error {
	if h.enforceIP && h.allowlist != nil && !h.allowlist.Allowed(c.IP()) {
		h.logger.Warn("webhook from unexpected source", "ip", c.IP())
		return fiber.NewError(http.StatusForbidden, "source address not allowed")
	}

	body := c.Body()
	if !h.client.VerifyWebhook(body, c.Get("X-Webhook-Signature")) {
		h.logger.Warn("webhook signature rejected", "ip", c.IP())
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := provider.ParseWebhook(body)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	// Redeliveries of an absorbed event are acknowledged without another
	// round-trip to the processor.
	if h.processor.Replayed(c.UserContext(), event) {
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "already_processed"})
	}

	if err := h.processor.Process(c.UserContext(), event); err != nil {
		switch {
		case errors.Is(err, ErrVerification):
			h.logger.Warn("webhook rejected", "event", event.Type, "payment_id", event.PaymentID, "error", err)
			return fiber.NewError(http.StatusBadRequest, "verification failed")
		case errors.Is(err, ErrRetryable):
			h.logger.Info("webhook deferred", "event", event.Type, "payment_id", event.PaymentID, "error", err)
			return fiber.NewError(http.StatusServiceUnavailable, "try again later")
		default:
			h.logger.Error("webhook processing failed", "event", event.Type, "payment_id", event.PaymentID, "error", err)
			return fiber.NewError(http.StatusInternalServerError, "processing failed")
		}
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

type reconcileRequest struct {
	ProviderPaymentID string `json:"provider_payment_id"`
}

// Reconcile lets a user re-check one of their payments with the processor,
// for when a webhook delivery was lost. Identity arrives in X-User-ID.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	userID := c.Get("X-User-ID")
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing X-User-ID header")
	}

	var req reconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.ProviderPaymentID == "" {
		return fiber.NewError(http.StatusBadRequest, "provider_payment_id is required")
	}

	payment, err := h.processor.Reconcile(c.UserContext(), userID, req.ProviderPaymentID)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrPaymentNotFound):
			return fiber.NewError(http.StatusNotFound, "payment not found")
		case errors.Is(err, ErrVerification):
			return fiber.NewError(http.StatusNotFound, "payment not found")
		case errors.Is(err, ErrRetryable):
			return fiber.NewError(http.StatusServiceUnavailable, "try again later")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"id":                  payment.ID,
		"status":              string(payment.Status),
		"amount_kopeks":       payment.AmountKopeks,
		"currency":            payment.Currency,
		"provider_payment_id": payment.ProviderPaymentID,
	})
}
