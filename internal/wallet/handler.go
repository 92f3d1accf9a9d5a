package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes wallet HTTP endpoints. User identity arrives in the
// X-User-ID header, injected by the gateway in front of this service.
type Handler struct {
	service  *Service
	currency string
}

// NewHandler builds a wallet HTTP handler bound to the accounting currency.
func NewHandler(service *Service, currency string) *Handler {
	return &Handler{service: service, currency: currency}
}

const userIDHeader = "X-User-ID"

func callerID(c *fiber.Ctx) (string, error) {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing X-User-ID header")
	}
	return userID, nil
}

type walletResponse struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	Currency           string `json:"currency"`
	BalanceTopup       int64  `json:"balance_topup"`
	BalanceIncluded    int64  `json:"balance_included"`
	Available          int64  `json:"available"`
	MaxCharge          int64  `json:"max_charge,omitempty"`
	DailyCap           int64  `json:"daily_cap,omitempty"`
	DailySpent         int64  `json:"daily_spent"`
	AutoTopupEnabled   bool   `json:"auto_topup_enabled"`
	AutoTopupThreshold int64  `json:"auto_topup_threshold,omitempty"`
	AutoTopupAmount    int64  `json:"auto_topup_amount,omitempty"`
	AutoTopupFailCount int    `json:"auto_topup_fail_count,omitempty"`
}

func toWalletResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:                 w.ID,
		UserID:             w.UserID,
		Currency:           w.Currency,
		BalanceTopup:       w.BalanceTopup,
		BalanceIncluded:    w.BalanceIncluded,
		Available:          w.Available(),
		MaxCharge:          w.MaxCharge,
		DailyCap:           w.DailyCap,
		DailySpent:         w.DailySpent,
		AutoTopupEnabled:   w.AutoTopupEnabled,
		AutoTopupThreshold: w.AutoTopupThreshold,
		AutoTopupAmount:    w.AutoTopupAmount,
		AutoTopupFailCount: w.AutoTopupFailCount,
	}
}

// Me returns the caller's wallet, creating it on first use.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	w, err := h.service.GetOrCreateWallet(c.UserContext(), userID, h.currency)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

type entryResponse struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Amount        int64             `json:"amount"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Breakdown     Breakdown         `json:"breakdown"`
	Reason        string            `json:"reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Entries returns the caller's recent ledger entries.
func (h *Handler) Entries(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	w, err := h.service.WalletByUser(c.UserContext(), userID, h.currency)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return c.Status(http.StatusOK).JSON(fiber.Map{"entries": []entryResponse{}})
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	entries, err := h.service.Entries(c.UserContext(), w.ID, limit)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:            e.ID,
			Type:          string(e.Type),
			Amount:        e.Amount,
			ReferenceID:   e.ReferenceID,
			ReferenceType: e.ReferenceType,
			Breakdown:     e.Breakdown,
			Reason:        e.Reason,
			Metadata:      e.Metadata,
			CreatedAt:     e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"entries": out})
}

type autoTopupRequest struct {
	Enabled   bool  `json:"enabled"`
	Threshold int64 `json:"threshold"`
	Amount    int64 `json:"amount"`
}

// ConfigureAutoTopup updates the caller's auto-topup settings.
func (h *Handler) ConfigureAutoTopup(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	var req autoTopupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Enabled && (req.Threshold <= 0 || req.Amount <= 0) {
		return fiber.NewError(http.StatusBadRequest, "threshold and amount must be positive when enabling")
	}

	w, err := h.service.GetOrCreateWallet(c.UserContext(), userID, h.currency)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	updated, err := h.service.ConfigureAutoTopup(c.UserContext(), w.ID, AutoTopupConfig{
		Enabled: req.Enabled, Threshold: req.Threshold, Amount: req.Amount,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(updated))
}

type adjustRequest struct {
	WalletID      string `json:"wallet_id"`
	DeltaTopup    int64  `json:"delta_topup"`
	DeltaIncluded int64  `json:"delta_included"`
	Reason        string `json:"reason"`
	ReferenceID   string `json:"reference_id"`
}

// Adjust applies a manual balance correction. The route sits behind the
// gateway's admin scope; the acting admin arrives in X-User-ID.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	adminID, err := callerID(c)
	if err != nil {
		return err
	}
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	entry, err := h.service.AdjustBalances(c.UserContext(), AdjustInput{
		WalletID:       req.WalletID,
		DeltaTopup:     req.DeltaTopup,
		DeltaIncluded:  req.DeltaIncluded,
		Reason:         req.Reason,
		AdminUserID:    adminID,
		IdempotencyKey: c.Get("Idempotency-Key"),
		ReferenceID:    req.ReferenceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAdjustment):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrWalletNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"entry_id":         entry.ID,
		"balance_topup":    entry.BalanceTopupAfter,
		"balance_included": entry.BalanceIncludedAfter,
	})
}

type limitsRequest struct {
	WalletID  string `json:"wallet_id"`
	MaxCharge int64  `json:"max_charge"`
	DailyCap  int64  `json:"daily_cap"`
}

// ConfigureLimits sets spending caps on a wallet. Admin route.
func (h *Handler) ConfigureLimits(c *fiber.Ctx) error {
	if _, err := callerID(c); err != nil {
		return err
	}
	var req limitsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.MaxCharge < 0 || req.DailyCap < 0 {
		return fiber.NewError(http.StatusBadRequest, "caps must be non-negative")
	}

	updated, err := h.service.ConfigureLimits(c.UserContext(), req.WalletID, req.MaxCharge, req.DailyCap)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(updated))
}
