package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/billing"
	"github.com/brandbridge/brandbridge/internal/pkg/usercontext"
)

// PaymentController serves the token purchase flow.
type PaymentController struct {
	billing *billing.Service
}

func NewPaymentController(b *billing.Service) *PaymentController {
	return &PaymentController{billing: b}
}

type createPaymentRequest struct {
	PackageID string `json:"packageId"`
}

type confirmPaymentRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// HandleListPackages returns the public token package catalog.
func (pc *PaymentController) HandleListPackages(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"packages": billing.Packages()})
}

// HandleCreatePaymentIntent opens a checkout session for the caller. The
// response is a redirect target, never proof of payment.
func (pc *PaymentController) HandleCreatePaymentIntent(c *fiber.Ctx) error {
	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.Respond(c, apperror.InvalidRequest("Request body must be valid JSON"))
	}

	userCtx := usercontext.GetUserContext(c)
	res, err := pc.billing.CreateCheckout(
		c.UserContext(),
		userCtx.UserID,
		userCtx.Email,
		req.PackageID,
		strings.TrimSpace(c.Get("Idempotency-Key")),
	)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(res)
}

// HandleConfirmPayment polls the processor for a finished checkout and
// credits it unless the webhook already did.
func (pc *PaymentController) HandleConfirmPayment(c *fiber.Ctx) error {
	var req confirmPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		return apperror.Respond(c, err)
	}

	res, err := pc.billing.ConfirmSession(c.UserContext(), usercontext.GetUserID(c), req.SessionID)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(res)
}
