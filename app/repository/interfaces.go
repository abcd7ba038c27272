package repository

import (
	"context"
	"errors"
	"time"

	"github.com/brandbridge/brandbridge/app/models"
	"gorm.io/gorm"
)

// ErrInsufficientFunds is returned by LedgerRepository.Debit when the
// conditional decrement matched no row of an existing profile.
var ErrInsufficientFunds = errors.New("insufficient funds")

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	// Ensure inserts the user if absent and returns the stored row.
	Ensure(ctx context.Context, user *models.User) (*models.User, bool, error)
	SetRole(ctx context.Context, id, role string) error
	UpdateEmail(ctx context.Context, id, email string, verified bool) error
}

// ProfileRepository addresses the role-specific profile tables by kind.
type ProfileRepository interface {
	Get(ctx context.Context, kind models.ProfileKind, userID string) (*models.Profile, error)
	// Create returns gorm.ErrDuplicatedKey when a row for userID already exists.
	Create(ctx context.Context, kind models.ProfileKind, userID string) error
}

// LedgerRepository writes token transactions together with the cached balance.
type LedgerRepository interface {
	Credit(ctx context.Context, kind models.ProfileKind, entry *models.TokenTransaction) error
	Debit(ctx context.Context, kind models.ProfileKind, entry *models.TokenTransaction) error
	Balance(ctx context.Context, kind models.ProfileKind, userID string) (int64, error)
	List(ctx context.Context, userID string, limit, offset int) ([]models.TokenTransaction, int64, error)
	FindByExternalRef(ctx context.Context, ref string) (*models.TokenTransaction, error)
	// Reconcile locks the profile row, recomputes the ledger sum and repairs the cached balance.
	Reconcile(ctx context.Context, kind models.ProfileKind, userID string) (cached int64, sum int64, err error)
	UsersActiveSince(ctx context.Context, since time.Time) ([]string, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time, afterID uint, limit int) ([]models.TokenTransaction, error)
}

// NotificationRepository defines notification persistence.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID string, id uint) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// CampaignRepository defines campaign persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	UpdateStatus(ctx context.Context, id, status string) error
	ListActive(ctx context.Context, limit, offset int) ([]models.Campaign, int64, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Campaign, int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Profile      ProfileRepository
	Ledger       LedgerRepository
	Notification NotificationRepository
	Campaign     CampaignRepository
}

// NewRepositories creates all repositories on the service-tier handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Profile:      NewProfileRepository(db),
		Ledger:       NewLedgerRepository(db),
		Notification: NewNotificationRepository(db),
		Campaign:     NewCampaignRepository(db),
	}
}
