package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/metrics"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrAlreadyRecorded is returned by RecordCredit when a row with the same
// external reference exists.
var ErrAlreadyRecorded = errors.New("ledger entry already recorded")

// ProfileResolver resolves the profile that carries a user's balance.
type ProfileResolver interface {
	KindOf(ctx context.Context, userID string) (models.ProfileKind, error)
	GetOrCreate(ctx context.Context, kind models.ProfileKind, userID string) (*models.Profile, error)
}

// Service records token credits and debits. The ledger rows are the
// source of truth; the profile balance is kept equal to their sum.
type Service struct {
	store    repository.LedgerRepository
	profiles ProfileResolver
}

func NewService(store repository.LedgerRepository, profiles ProfileResolver) *Service {
	return &Service{store: store, profiles: profiles}
}

// RelatedEntity points a ledger row at the object it paid for.
type RelatedEntity struct {
	Type string
	ID   string
}

type entryOptions struct {
	related     *RelatedEntity
	externalRef string
	txType      models.TransactionType
}

// Option customizes a ledger entry.
type Option func(*entryOptions)

func WithRelatedEntity(entityType, id string) Option {
	return func(o *entryOptions) {
		o.related = &RelatedEntity{Type: entityType, ID: id}
	}
}

// WithExternalRef sets a unique reference. A second entry with the same
// reference is rejected with ErrAlreadyRecorded.
func WithExternalRef(ref string) Option {
	return func(o *entryOptions) {
		o.externalRef = strings.TrimSpace(ref)
	}
}

// WithType overrides the transaction type of a debit (default spend).
func WithType(t models.TransactionType) Option {
	return func(o *entryOptions) {
		o.txType = t
	}
}

func buildEntry(userID string, amount int64, txType models.TransactionType, description string, opts []Option) *models.TokenTransaction {
	o := entryOptions{txType: txType}
	for _, opt := range opts {
		opt(&o)
	}
	entry := &models.TokenTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        o.txType,
		Description: strings.TrimSpace(description),
	}
	if o.related != nil {
		entry.RelatedEntityType = o.related.Type
		entry.RelatedEntityID = o.related.ID
	}
	if o.externalRef != "" {
		ref := o.externalRef
		entry.ExternalRef = &ref
	}
	return entry
}

// RecordCredit appends a positive entry and increments the balance in one
// store transaction. The profile is created on first credit.
func (s *Service) RecordCredit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string, opts ...Option) (*models.TokenTransaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.InvalidRequest("user id is required")
	}
	if amount <= 0 {
		return nil, apperror.InvalidRequest("credit amount must be a positive integer")
	}
	if !txType.Valid() || txType == models.TransactionTypeSpend {
		return nil, apperror.InvalidRequest(fmt.Sprintf("invalid credit type %q", txType))
	}

	kind, err := s.profiles.KindOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.profiles.GetOrCreate(ctx, kind, userID); err != nil {
		return nil, err
	}

	entry := buildEntry(userID, amount, txType, description, opts)
	if err := s.store.Credit(ctx, kind, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) && entry.ExternalRef != nil {
			return nil, fmt.Errorf("credit %s: %w", *entry.ExternalRef, ErrAlreadyRecorded)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("Profile not found")
		}
		return nil, apperror.Upstream("failed to record credit", err)
	}

	metrics.LedgerCreditsTotal.WithLabelValues(string(entry.Type)).Inc()
	metrics.LedgerTokensTotal.WithLabelValues("credit").Add(float64(amount))
	log.Infof("[Ledger] Credited %d tokens to %s (%s, tx %d)", amount, userID, entry.Type, entry.ID)
	return entry, nil
}

// RecordDebit removes amount tokens if and only if the balance covers it.
// The check and the decrement are a single conditional update, so
// concurrent debits can never overdraw the balance.
func (s *Service) RecordDebit(ctx context.Context, userID string, amount int64, description string, opts ...Option) (*models.TokenTransaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperror.InvalidRequest("user id is required")
	}
	if amount <= 0 {
		return nil, apperror.InvalidRequest("debit amount must be a positive integer")
	}

	kind, err := s.profiles.KindOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry := buildEntry(userID, -amount, models.TransactionTypeSpend, description, opts)
	if !entry.Type.Valid() {
		return nil, apperror.InvalidRequest(fmt.Sprintf("invalid debit type %q", entry.Type))
	}
	if err := s.store.Debit(ctx, kind, entry); err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientFunds):
			metrics.LedgerInsufficientTotal.Inc()
			balance, berr := s.store.Balance(ctx, kind, userID)
			if berr != nil {
				balance = 0
			}
			return nil, apperror.InsufficientBalance(balance, amount)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No profile row means a zero balance.
			metrics.LedgerInsufficientTotal.Inc()
			return nil, apperror.InsufficientBalance(0, amount)
		case errors.Is(err, gorm.ErrDuplicatedKey) && entry.ExternalRef != nil:
			return nil, fmt.Errorf("debit %s: %w", *entry.ExternalRef, ErrAlreadyRecorded)
		default:
			return nil, apperror.Upstream("failed to record debit", err)
		}
	}

	metrics.LedgerDebitsTotal.WithLabelValues(string(entry.Type)).Inc()
	metrics.LedgerTokensTotal.WithLabelValues("debit").Add(float64(amount))
	log.Infof("[Ledger] Debited %d tokens from %s (%s, tx %d)", amount, userID, entry.Type, entry.ID)
	return entry, nil
}

// Adjust applies a signed administrative correction. Negative adjustments
// follow the debit path and cannot overdraw.
func (s *Service) Adjust(ctx context.Context, userID string, amount int64, description string) (*models.TokenTransaction, error) {
	switch {
	case amount > 0:
		return s.RecordCredit(ctx, userID, amount, models.TransactionTypeAdjustment, description)
	case amount < 0:
		return s.RecordDebit(ctx, userID, -amount, description, WithType(models.TransactionTypeAdjustment))
	default:
		return nil, apperror.InvalidRequest("adjustment amount must not be zero")
	}
}

// CanHoldBalance fails unless userID has a role, i.e. a profile kind that
// credits can land on. Users without a role get Forbidden.
func (s *Service) CanHoldBalance(ctx context.Context, userID string) error {
	if _, err := s.profiles.KindOf(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Forbidden("Choose a role before buying tokens")
		}
		return err
	}
	return nil
}

// GetBalance returns the cached balance, or 0 when the user has no profile yet.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	kind, err := s.profiles.KindOf(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	balance, err := s.store.Balance(ctx, kind, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, apperror.Upstream("failed to load balance", err)
	}
	return balance, nil
}

// Page is one page of ledger history.
type Page struct {
	Items  []models.TokenTransaction `json:"transactions"`
	Total  int64                     `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// NormalizePagination clamps negative offsets to zero and caps the limit.
// A limit of zero is read as "not given" (the HTTP layer passes 0 for a
// missing ?limit) and becomes DefaultLimit, as does a negative one. There
// is no empty-page request.
func NormalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListTransactions returns the user's history newest first with a total count.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) (*Page, error) {
	limit, offset = NormalizePagination(limit, offset)
	items, total, err := s.store.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Upstream("failed to load transactions", err)
	}
	if items == nil {
		items = []models.TokenTransaction{}
	}
	return &Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// FindByExternalRef returns the entry recorded under ref.
func (s *Service) FindByExternalRef(ctx context.Context, ref string) (*models.TokenTransaction, error) {
	entry, err := s.store.FindByExternalRef(ctx, ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("Transaction not found")
		}
		return nil, apperror.Upstream("failed to load transaction", err)
	}
	return entry, nil
}

// ReconcileResult reports a reconciliation run.
type ReconcileResult struct {
	UserID    string `json:"user_id"`
	Cached    int64  `json:"cached_balance"`
	LedgerSum int64  `json:"ledger_sum"`
	Repaired  bool   `json:"repaired"`
}

// Reconcile recomputes the balance from the ledger and repairs drift.
func (s *Service) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	kind, err := s.profiles.KindOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	cached, sum, err := s.store.Reconcile(ctx, kind, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("Profile not found")
		}
		return nil, apperror.Upstream("failed to reconcile balance", err)
	}
	res := &ReconcileResult{UserID: userID, Cached: cached, LedgerSum: sum, Repaired: cached != sum}
	if res.Repaired {
		metrics.LedgerDriftTotal.Inc()
		log.Warnf("[Ledger] Repaired balance drift for %s: cached=%d ledger=%d", userID, cached, sum)
	}
	return res, nil
}

// UsersActiveSince lists users with ledger activity since t.
func (s *Service) UsersActiveSince(ctx context.Context, t time.Time) ([]string, error) {
	ids, err := s.store.UsersActiveSince(ctx, t)
	if err != nil {
		return nil, apperror.Upstream("failed to list active users", err)
	}
	return ids, nil
}
