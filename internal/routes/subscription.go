package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meterpay/meterpay/internal/subscription"
)

// RegisterSubscriptionRoutes wires plan checkout endpoints.
func RegisterSubscriptionRoutes(r fiber.Router, h *subscription.Handler) {
	r.Post("/checkout/subscription", h.CreateCheckout)
	r.Get("/subscription", h.Current)
}
