package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/campaigns"
	"github.com/brandbridge/brandbridge/internal/pkg/usercontext"
)

// CampaignController serves campaign creation and browsing.
type CampaignController struct {
	campaigns *campaigns.Service
}

func NewCampaignController(s *campaigns.Service) *CampaignController {
	return &CampaignController{campaigns: s}
}

// HandleCreate stores a campaign and charges the creation cost.
func (cc *CampaignController) HandleCreate(c *fiber.Ctx) error {
	var in campaigns.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return apperror.Respond(c, apperror.InvalidRequest("Request body must be valid JSON"))
	}

	res, err := cc.campaigns.Create(c.UserContext(), usercontext.User(c), in)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// HandleList returns active campaigns, or the caller's own with ?mine=true.
func (cc *CampaignController) HandleList(c *fiber.Ctx) error {
	limit, offset := pagination(c)

	var (
		page *campaigns.Page
		err  error
	)
	if c.QueryBool("mine", false) {
		page, err = cc.campaigns.ListByOwner(c.UserContext(), usercontext.GetUserID(c), limit, offset)
	} else {
		page, err = cc.campaigns.ListActive(c.UserContext(), limit, offset)
	}
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(page)
}

func (cc *CampaignController) HandleGet(c *fiber.Ctx) error {
	campaign, err := cc.campaigns.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(campaign)
}
