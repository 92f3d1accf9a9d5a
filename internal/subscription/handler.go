package subscription

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes subscription HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a subscription HTTP handler.
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

type checkoutRequest struct {
	PlanID    string `json:"plan_id"`
	ReturnURL string `json:"return_url"`
}

// CreateCheckout starts a plan purchase and returns the processor redirect.
func (h *Handler) CreateCheckout(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.CreateCheckout(c.UserContext(), userID, req.PlanID, req.ReturnURL)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id":   result.Transaction.ID,
		"status":           result.Transaction.Status,
		"amount_kopeks":    result.Transaction.AmountKopeks,
		"currency":         result.Transaction.Currency,
		"confirmation_url": result.ConfirmationURL,
	})
}

// Current returns the caller's subscription state.
func (h *Handler) Current(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	sub, ok, err := h.service.Current(c.UserContext(), userID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return c.Status(http.StatusOK).JSON(fiber.Map{"active": false})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"active":       sub.Active(time.Now().UTC()),
		"plan_id":      sub.PlanID,
		"period_start": sub.PeriodStart,
		"period_end":   sub.PeriodEnd,
	})
}
