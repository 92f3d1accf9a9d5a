package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes payment HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a payments HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

const userIDHeader = "X-User-ID"

func callerID(c *fiber.Ctx) (string, error) {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing X-User-ID header")
	}
	return userID, nil
}

type topupRequest struct {
	AmountKopeks int64  `json:"amount_kopeks"`
	ReturnURL    string `json:"return_url"`
}

type paymentResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Kind              string `json:"kind"`
	AmountKopeks      int64  `json:"amount_kopeks"`
	Currency          string `json:"currency"`
	ProviderPaymentID string `json:"provider_payment_id"`
	ConfirmationURL   string `json:"confirmation_url,omitempty"`
}

// CreateTopup initiates a topup purchase and returns the processor redirect.
func (h *Handler) CreateTopup(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	var req topupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CreateTopup(c.UserContext(), TopupInput{
		UserID:         userID,
		AmountKopeks:   req.AmountKopeks,
		IdempotencyKey: c.Get("Idempotency-Key"),
		ReturnURL:      req.ReturnURL,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidPackage) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(paymentResponse{
		ID:                result.Payment.ID,
		Status:            string(result.Payment.Status),
		Kind:              string(result.Payment.Kind),
		AmountKopeks:      result.Payment.AmountKopeks,
		Currency:          result.Payment.Currency,
		ProviderPaymentID: result.Payment.ProviderPaymentID,
		ConfirmationURL:   result.ConfirmationURL,
	})
}

// Get returns one of the caller's payment records.
func (h *Handler) Get(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	payment, err := h.service.Get(c.UserContext(), c.Params("paymentId"))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if payment.UserID != userID {
		return fiber.NewError(http.StatusNotFound, "payment not found")
	}
	return c.Status(http.StatusOK).JSON(paymentResponse{
		ID:                payment.ID,
		Status:            string(payment.Status),
		Kind:              string(payment.Kind),
		AmountKopeks:      payment.AmountKopeks,
		Currency:          payment.Currency,
		ProviderPaymentID: payment.ProviderPaymentID,
	})
}
