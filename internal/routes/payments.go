package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meterpay/meterpay/internal/payments"
	"github.com/meterpay/meterpay/internal/webhook"
)

// RegisterPaymentRoutes wires topup purchase and reconciliation endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, wh *webhook.Handler) {
	r.Post("/payments/topup", h.CreateTopup)
	r.Post("/payments/topup/reconcile", wh.Reconcile)
	r.Get("/payments/:paymentId", h.Get)
}
