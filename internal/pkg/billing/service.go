package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/metrics"
)

// Ledger is the part of the token ledger that purchases need.
type Ledger interface {
	RecordCredit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string, opts ...ledger.Option) (*models.TokenTransaction, error)
	FindByExternalRef(ctx context.Context, ref string) (*models.TokenTransaction, error)
	CanHoldBalance(ctx context.Context, userID string) error
}

// Notifier records user-facing notifications. It must not fail its caller.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message, notificationType, relatedID string)
}

// ReceiptQueue schedules the receipt mail for a purchase.
type ReceiptQueue interface {
	EnqueueReceipt(ctx context.Context, userID string, tx *models.TokenTransaction) error
}

// Config holds the processor-independent billing settings.
type Config struct {
	Currency      string
	PublicBaseURL string
	WebhookSecret string
}

// Service opens checkouts and turns paid checkouts into ledger credits.
type Service struct {
	cfg       Config
	repo      Repository
	processor Processor
	ledger    Ledger
	notifier  Notifier
	receipts  ReceiptQueue
}

// NewService wires the billing service. receipts may be nil.
func NewService(cfg Config, repo Repository, processor Processor, l Ledger, notifier Notifier, receipts ReceiptQueue) *Service {
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	return &Service{cfg: cfg, repo: repo, processor: processor, ledger: l, notifier: notifier, receipts: receipts}
}

// CreateCheckout opens one hosted checkout session for packageID. Unknown
// packages and users without a role are rejected before the processor is
// contacted, so every paid session has a profile to credit.
func (s *Service) CreateCheckout(ctx context.Context, userID, email, packageID, idempotencyKey string) (*CheckoutResult, error) {
	pkg, ok := LookupPackage(packageID)
	if !ok {
		metrics.CheckoutSessionsTotal.WithLabelValues("unknown", "invalid_package").Inc()
		return nil, apperror.InvalidPackage(packageID)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.Unauthenticated("Authentication required")
	}
	if err := s.ledger.CanHoldBalance(ctx, userID); err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(pkg.ID, "not_onboarded").Inc()
		return nil, err
	}

	req := CheckoutRequest{
		UserID:         userID,
		Email:          email,
		Package:        pkg,
		Currency:       s.cfg.Currency,
		SuccessURL:     s.cfg.PublicBaseURL + "/payments/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.cfg.PublicBaseURL + "/payments/cancel",
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
	session, err := s.processor.CreateCheckoutSession(ctx, req)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(pkg.ID, "error").Inc()
		log.Errorf("[Billing] Checkout session for %s (%s) failed: %v", userID, pkg.ID, err)
		if apperror.KindOf(err) == apperror.KindInternal {
			return nil, apperror.Upstream("payment processor unavailable", err)
		}
		return nil, err
	}

	metrics.CheckoutSessionsTotal.WithLabelValues(pkg.ID, "created").Inc()
	log.Infof("[Billing] Checkout session %s created for %s (%s)", session.ID, userID, pkg.ID)
	return &CheckoutResult{
		SessionID:   session.ID,
		URL:         session.URL,
		PackageID:   pkg.ID,
		PackageName: pkg.Name,
		TokenCount:  pkg.Tokens,
		PriceCents:  pkg.PriceCents,
		Currency:    s.cfg.Currency,
	}, nil
}

// ConfirmResult reports a purchase confirmation.
type ConfirmResult struct {
	Transaction     *models.TokenTransaction `json:"transaction"`
	PackageID       string                   `json:"packageId"`
	TokenCount      int64                    `json:"tokenCount"`
	AlreadyCredited bool                     `json:"alreadyCredited"`
}

// ConfirmPurchase credits a paid checkout session exactly once. The token
// count is taken from the catalog, never from the session metadata, and
// the charged amount must match the package price.
func (s *Service) ConfirmPurchase(ctx context.Context, session *CheckoutSession, source string) (*ConfirmResult, error) {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return nil, apperror.InvalidRequest("checkout session is required")
	}
	if !session.Paid {
		metrics.PurchasesConfirmedTotal.WithLabelValues(source, "unpaid").Inc()
		return nil, apperror.InvalidRequest("Payment has not been completed")
	}
	pkg, ok := LookupPackage(session.Metadata[MetadataPackageID])
	if !ok {
		metrics.PurchasesConfirmedTotal.WithLabelValues(source, "invalid_package").Inc()
		log.Errorf("[Billing] Session %s references unknown package %q", session.ID, session.Metadata[MetadataPackageID])
		return nil, apperror.InvalidPackage(session.Metadata[MetadataPackageID])
	}
	userID := session.UserID()
	if userID == "" {
		metrics.PurchasesConfirmedTotal.WithLabelValues(source, "invalid").Inc()
		return nil, apperror.InvalidRequest("checkout session has no user")
	}
	if session.AmountTotal != pkg.PriceCents || !strings.EqualFold(session.Currency, s.cfg.Currency) {
		metrics.PurchasesConfirmedTotal.WithLabelValues(source, "amount_mismatch").Inc()
		log.Errorf("[Billing] Session %s charged %d %s, package %s costs %d %s",
			session.ID, session.AmountTotal, session.Currency, pkg.ID, pkg.PriceCents, s.cfg.Currency)
		return nil, apperror.InvalidRequest("checkout amount does not match the package price")
	}

	tx, err := s.ledger.RecordCredit(ctx, userID, pkg.Tokens, models.TransactionTypePurchase,
		fmt.Sprintf("Purchased %s (%d tokens)", pkg.Name, pkg.Tokens),
		ledger.WithExternalRef(session.ID),
		ledger.WithRelatedEntity("checkout_session", session.ID),
	)
	if err != nil {
		if !errors.Is(err, ledger.ErrAlreadyRecorded) {
			metrics.PurchasesConfirmedTotal.WithLabelValues(source, "error").Inc()
			return nil, err
		}
		existing, ferr := s.ledger.FindByExternalRef(ctx, session.ID)
		if ferr != nil {
			return nil, ferr
		}
		metrics.PurchasesConfirmedTotal.WithLabelValues(source, "duplicate").Inc()
		log.Infof("[Billing] Session %s already credited (tx %d)", session.ID, existing.ID)
		return &ConfirmResult{Transaction: existing, PackageID: pkg.ID, TokenCount: pkg.Tokens, AlreadyCredited: true}, nil
	}

	metrics.PurchasesConfirmedTotal.WithLabelValues(source, "credited").Inc()
	log.Infof("[Billing] Session %s credited %d tokens to %s via %s", session.ID, pkg.Tokens, userID, source)

	s.notifier.Notify(ctx, userID, "Tokens purchased",
		fmt.Sprintf("%d tokens from the %s were added to your balance.", pkg.Tokens, pkg.Name),
		models.NotificationTypeTokenPurchase, strconv.FormatUint(uint64(tx.ID), 10))
	if s.receipts != nil {
		if err := s.receipts.EnqueueReceipt(ctx, userID, tx); err != nil {
			log.Warnf("[Billing] Failed to enqueue receipt for tx %d: %v", tx.ID, err)
		}
	}
	return &ConfirmResult{Transaction: tx, PackageID: pkg.ID, TokenCount: pkg.Tokens}, nil
}

// ConfirmSession polls the processor for sessionID on behalf of callerID.
func (s *Service) ConfirmSession(ctx context.Context, callerID, sessionID string) (*ConfirmResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperror.InvalidRequest("sessionId is required")
	}
	session, err := s.processor.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID() != callerID {
		return nil, apperror.Forbidden("Checkout session belongs to another user")
	}
	return s.ConfirmPurchase(ctx, session, "poll")
}

// WebhookOutcome tells the webhook handler what happened.
type WebhookOutcome struct {
	EventID   string         `json:"eventId"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Ignored   bool           `json:"ignored,omitempty"`
	Result    *ConfirmResult `json:"result,omitempty"`
}

// HandleStripeWebhook verifies a delivery, records it once and confirms
// the purchase it carries. Deliveries with a bad signature are not stored.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookOutcome, error) {
	event, err := ParseStripeWebhook(payload, signatureHeader, s.cfg.WebhookSecret)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(models.BillingProviderStripe, "rejected").Inc()
		log.Warnf("[Billing] Rejected webhook delivery: %v", err)
		return nil, err
	}

	sessionID := ""
	if event.Session != nil {
		sessionID = event.Session.ID
	}
	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		SessionID:       sessionID,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, apperror.Upstream("failed to persist webhook event", err)
	}
	outcome := &WebhookOutcome{EventID: stored.ProviderEventID}
	if !created && stored.IsProcessed() {
		metrics.WebhookEventsTotal.WithLabelValues(models.BillingProviderStripe, "duplicate").Inc()
		outcome.Duplicate = true
		return outcome, nil
	}
	if !event.CompletesPurchase() {
		if err := s.MarkWebhookProcessed(ctx, stored.ID, nil); err != nil {
			log.Warnf("[Billing] Failed to mark webhook event %s processed: %v", stored.ProviderEventID, err)
		}
		metrics.WebhookEventsTotal.WithLabelValues(models.BillingProviderStripe, "ignored").Inc()
		outcome.Ignored = true
		return outcome, nil
	}

	res, confirmErr := s.ConfirmPurchase(ctx, event.Session, "webhook")
	if err := s.MarkWebhookProcessed(ctx, stored.ID, confirmErr); err != nil {
		log.Warnf("[Billing] Failed to mark webhook event %s processed: %v", stored.ProviderEventID, err)
	}
	if confirmErr != nil {
		metrics.WebhookEventsTotal.WithLabelValues(models.BillingProviderStripe, "failed").Inc()
		return nil, confirmErr
	}
	metrics.WebhookEventsTotal.WithLabelValues(models.BillingProviderStripe, "processed").Inc()
	outcome.Duplicate = !created
	outcome.Result = res
	return outcome, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:          provider,
		ProviderEventID:   eventID,
		EventType:         strings.TrimSpace(in.EventType),
		CheckoutSessionID: strings.TrimSpace(in.SessionID),
		PayloadJSON:       in.PayloadJSON,
		SignatureValid:    in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

// WebhookPage is one page of stored webhook deliveries.
type WebhookPage struct {
	Items  []models.BillingWebhookEvent `json:"events"`
	Total  int64                        `json:"total"`
	Limit  int                          `json:"limit"`
	Offset int                          `json:"offset"`
}

// ListWebhookEvents returns recent deliveries matching filter, newest first.
func (s *Service) ListWebhookEvents(ctx context.Context, filter WebhookFilter, limit, offset int) (*WebhookPage, error) {
	limit, offset = ledger.NormalizePagination(limit, offset)
	filter.SessionID = strings.TrimSpace(filter.SessionID)
	items, total, err := s.repo.ListWebhookEvents(ctx, filter, limit, offset)
	if err != nil {
		return nil, apperror.Upstream("failed to load webhook events", err)
	}
	if items == nil {
		items = []models.BillingWebhookEvent{}
	}
	return &WebhookPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}
