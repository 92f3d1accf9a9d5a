package billing

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/meterpay/meterpay/internal/wallet"
)

// Handler exposes the preflight flow to the inference gateway. The gateway
// calls authorize before running a request, then settle or abort after.
type Handler struct {
	preflight *Preflight
	currency  string
}

// NewHandler builds the billing HTTP handler.
func NewHandler(preflight *Preflight, currency string) *Handler {
	return &Handler{preflight: preflight, currency: currency}
}

const userIDHeader = "X-User-ID"

type authorizeRequest struct {
	UserID        string `json:"user_id"`
	Model         string `json:"model"`
	ReferenceID   string `json:"reference_id"`
	ReferenceType string `json:"reference_type"`
	TokensInput   int64  `json:"tokens_input"`
	TokensOutput  int64  `json:"tokens_output"`
}

// Authorize estimates and holds funds for a request about to run.
func (h *Handler) Authorize(c *fiber.Ctx) error {
	var req authorizeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.UserID == "" {
		req.UserID = c.Get(userIDHeader)
	}
	if req.UserID == "" || req.ReferenceID == "" || req.ReferenceType == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id, reference_id and reference_type are required")
	}

	auth, err := h.preflight.Authorize(c.UserContext(), AuthorizeInput{
		UserID:        req.UserID,
		Currency:      h.currency,
		Model:         req.Model,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Estimated:     Units{TokensInput: req.TokensInput, TokensOutput: req.TokensOutput},
	})
	if err != nil {
		var payErr *PaymentRequiredError
		switch {
		case errors.As(err, &payErr):
			return c.Status(http.StatusPaymentRequired).JSON(fiber.Map{
				"error":            "insufficient funds",
				"auto_topup":       payErr.AutoTopup.Status,
				"auto_topup_tried": payErr.AutoTopup.Attempted,
				"payment_id":       payErr.AutoTopup.PaymentID,
			})
		case errors.Is(err, ErrChargeLimitExceeded):
			return fiber.NewError(http.StatusForbidden, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":       auth.WalletID,
		"hold_entry_id":   auth.HoldEntry.ID,
		"estimate_kopeks": auth.Estimate.Total(),
	})
}

type settleRequest struct {
	UserID         string `json:"user_id"`
	WalletID       string `json:"wallet_id"`
	Model          string `json:"model"`
	ReferenceID    string `json:"reference_id"`
	ReferenceType  string `json:"reference_type"`
	TokensInput    int64  `json:"tokens_input"`
	TokensOutput   int64  `json:"tokens_output"`
	Estimated      bool   `json:"estimated"`
	EstimateReason string `json:"estimate_reason"`
}

// Settle finalizes the charge from actual usage.
func (h *Handler) Settle(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.WalletID == "" || req.ReferenceID == "" || req.ReferenceType == "" {
		return fiber.NewError(http.StatusBadRequest, "wallet_id, reference_id and reference_type are required")
	}

	entry, err := h.preflight.Settle(c.UserContext(), SettleInput{
		UserID:         req.UserID,
		WalletID:       req.WalletID,
		Model:          req.Model,
		ReferenceID:    req.ReferenceID,
		ReferenceType:  req.ReferenceType,
		Actual:         Units{TokensInput: req.TokensInput, TokensOutput: req.TokensOutput},
		Estimated:      req.Estimated,
		EstimateReason: req.EstimateReason,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrHoldNotFound) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"charge_entry_id":  entry.ID,
		"charged_input":    entry.ChargedInput,
		"charged_output":   entry.ChargedOutput,
		"balance_topup":    entry.BalanceTopupAfter,
		"balance_included": entry.BalanceIncludedAfter,
	})
}

type abortRequest struct {
	WalletID      string `json:"wallet_id"`
	ReferenceID   string `json:"reference_id"`
	ReferenceType string `json:"reference_type"`
}

// Abort releases the hold after a failed request.
func (h *Handler) Abort(c *fiber.Ctx) error {
	var req abortRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.WalletID == "" || req.ReferenceID == "" || req.ReferenceType == "" {
		return fiber.NewError(http.StatusBadRequest, "wallet_id, reference_id and reference_type are required")
	}

	if err := h.preflight.Abort(c.UserContext(), req.WalletID, req.ReferenceID, req.ReferenceType); err != nil {
		if errors.Is(err, wallet.ErrHoldNotFound) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "released"})
}
