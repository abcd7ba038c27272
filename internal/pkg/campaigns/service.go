package campaigns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
)

// RelatedEntityType marks ledger rows that paid for a campaign.
const RelatedEntityType = "campaign"

// Debitor takes tokens from a balance.
type Debitor interface {
	RecordDebit(ctx context.Context, userID string, amount int64, description string, opts ...ledger.Option) (*models.TokenTransaction, error)
}

// Notifier records user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message, notificationType, relatedID string)
}

// Service publishes campaigns. Creation is paid in tokens.
type Service struct {
	writer   repository.CampaignRepository
	reader   repository.CampaignRepository
	ledger   Debitor
	notifier Notifier
	cost     int64
}

// NewService wires the campaign service. reader serves client listings and
// may be a restricted handle; writer is used for creation.
func NewService(writer, reader repository.CampaignRepository, l Debitor, notifier Notifier, cost int64) *Service {
	if reader == nil {
		reader = writer
	}
	return &Service{writer: writer, reader: reader, ledger: l, notifier: notifier, cost: cost}
}

// Cost is the token price of publishing a campaign.
func (s *Service) Cost() int64 {
	return s.cost
}

// CreateInput is a new campaign as submitted by its owner.
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Niche       string `json:"niche"`
	BudgetCents int64  `json:"budgetCents"`
}

// CreateResult is the published campaign and the debit that paid for it.
type CreateResult struct {
	Campaign    *models.Campaign         `json:"campaign"`
	Transaction *models.TokenTransaction `json:"transaction,omitempty"`
}

// Create stores the campaign as a draft, debits the creation cost and
// activates it. When the debit fails the draft is kept and the error is
// returned.
func (s *Service) Create(ctx context.Context, owner *models.User, in CreateInput) (*CreateResult, error) {
	if owner == nil || owner.ID == "" {
		return nil, apperror.Unauthenticated("Authentication required")
	}
	if owner.Role != models.ROLE_BUSINESS {
		return nil, apperror.Forbidden("Only business accounts can create campaigns")
	}

	c := &models.Campaign{
		ID:          uuid.New().String(),
		OwnerID:     owner.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Niche:       strings.TrimSpace(in.Niche),
		BudgetCents: in.BudgetCents,
		Status:      models.CampaignStatusDraft,
		TokenCost:   s.cost,
	}
	if err := c.Validate(); err != nil {
		return nil, validationError(err)
	}
	if err := s.writer.Create(ctx, c); err != nil {
		return nil, apperror.Upstream("failed to store campaign", err)
	}

	res := &CreateResult{Campaign: c}
	if s.cost > 0 {
		tx, err := s.ledger.RecordDebit(ctx, owner.ID, s.cost,
			fmt.Sprintf("Campaign creation: %s", c.Title),
			ledger.WithRelatedEntity(RelatedEntityType, c.ID))
		if err != nil {
			log.Infof("[Campaigns] Campaign %s stays draft: %v", c.ID, err)
			return nil, err
		}
		res.Transaction = tx
	}

	if err := s.writer.UpdateStatus(ctx, c.ID, models.CampaignStatusActive); err != nil {
		// The debit is committed; the campaign is left for an operator to activate.
		log.Errorf("[Campaigns] Failed to activate paid campaign %s: %v", c.ID, err)
		return nil, apperror.Upstream("failed to activate campaign", err)
	}
	c.Status = models.CampaignStatusActive

	s.notifier.Notify(ctx, owner.ID, "Campaign published",
		fmt.Sprintf("Your campaign %q is live.", c.Title), models.NotificationTypeCampaign, c.ID)
	log.Infof("[Campaigns] Campaign %s published by %s", c.ID, owner.ID)
	return res, nil
}

// Get returns one campaign.
func (s *Service) Get(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := s.reader.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("Campaign not found")
		}
		return nil, apperror.Upstream("failed to load campaign", err)
	}
	return c, nil
}

// Page is one page of campaigns.
type Page struct {
	Items  []models.Campaign `json:"campaigns"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// ListActive pages through active campaigns, newest first.
func (s *Service) ListActive(ctx context.Context, limit, offset int) (*Page, error) {
	limit, offset = ledger.NormalizePagination(limit, offset)
	items, total, err := s.reader.ListActive(ctx, limit, offset)
	return page(items, total, limit, offset, err)
}

// ListByOwner pages through every campaign of ownerID, drafts included.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit, offset int) (*Page, error) {
	limit, offset = ledger.NormalizePagination(limit, offset)
	items, total, err := s.reader.ListByOwner(ctx, ownerID, limit, offset)
	return page(items, total, limit, offset, err)
}

func page(items []models.Campaign, total int64, limit, offset int, err error) (*Page, error) {
	if err != nil {
		return nil, apperror.Upstream("failed to load campaigns", err)
	}
	if items == nil {
		items = []models.Campaign{}
	}
	return &Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.InvalidRequest("invalid campaign")
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return apperror.InvalidRequest("invalid campaign: " + strings.Join(parts, ", "))
}
