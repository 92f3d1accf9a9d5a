package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meterpay/meterpay/internal/webhook"
)

// RegisterWebhookRoutes wires the processor notification endpoint. It sits
// outside the idempotency-key middleware: the processor authenticates by
// signature and source address, and replay safety comes from the ledger.
func RegisterWebhookRoutes(app *fiber.App, h *webhook.Handler) {
	app.Post("/webhooks/yookassa", h.Receive)
}
