package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/meterpay/meterpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets/me", h.Me)
	r.Get("/wallets/me/entries", h.Entries)
	r.Post("/wallets/me/auto-topup", h.ConfigureAutoTopup)

	// Admin surface; the gateway restricts these paths to admin scopes.
	r.Post("/admin/wallets/adjust", h.Adjust)
	r.Post("/admin/wallets/limits", h.ConfigureLimits)
}
