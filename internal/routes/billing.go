package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meterpay/meterpay/internal/billing"
)

// RegisterBillingRoutes wires the preflight endpoints used by the inference
// gateway around each metered request.
func RegisterBillingRoutes(r fiber.Router, h *billing.Handler) {
	r.Post("/billing/authorize", h.Authorize)
	r.Post("/billing/settle", h.Settle)
	r.Post("/billing/abort", h.Abort)
}
