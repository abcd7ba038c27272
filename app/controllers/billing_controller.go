package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/billing"
)

// BillingController receives payment processor webhooks.
type BillingController struct {
	billing *billing.Service
}

func NewBillingController(b *billing.Service) *BillingController {
	return &BillingController{billing: b}
}

// HandleStripeWebhook verifies and applies a Stripe delivery. Duplicates
// and event types we do not act on still answer 200 so Stripe stops retrying.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	outcome, err := bc.billing.HandleStripeWebhook(c.UserContext(), rawBody, signature)
	if err != nil {
		return apperror.Respond(c, err)
	}

	resp := fiber.Map{"ok": true, "eventId": outcome.EventID}
	if outcome.Duplicate {
		resp["duplicate"] = true
	}
	if outcome.Ignored {
		resp["ignored"] = true
	}
	if outcome.Result != nil {
		resp["alreadyCredited"] = outcome.Result.AlreadyCredited
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
