// Package memrepo provides in-memory repositories with the same error
// contract as the gorm implementations. It backs unit tests.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository"
)

type profileKey struct {
	kind   models.ProfileKind
	userID string
}

// Store holds all tables. A single mutex stands in for the database's
// row locking, so every method is atomic.
type Store struct {
	mu sync.Mutex

	users         map[string]models.User
	profiles      map[profileKey]*models.Profile
	transactions  []models.TokenTransaction
	notifications []models.Notification
	campaigns     map[string]models.Campaign

	nextProfileID      uint
	nextTransactionID  uint
	nextNotificationID uint

	// FailNotifications makes notification inserts fail.
	FailNotifications bool
	// BeforeProfileCreate runs before a profile insert, outside the lock.
	BeforeProfileCreate func()
	now                 func() time.Time
}

func New() *Store {
	return &Store{
		users:     map[string]models.User{},
		profiles:  map[profileKey]*models.Profile{},
		campaigns: map[string]models.Campaign{},
		now:       time.Now,
	}
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		User:         (*userRepo)(s),
		Profile:      (*profileRepo)(s),
		Ledger:       (*ledgerRepo)(s),
		Notification: (*notificationRepo)(s),
		Campaign:     (*campaignRepo)(s),
	}
}

// Transactions returns a copy of all ledger rows for userID, oldest first.
func (s *Store) Transactions(userID string) []models.TokenTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TokenTransaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// Notifications returns a copy of all notifications for userID.
func (s *Store) Notifications(userID string) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// ProfileCount counts profile rows of kind for userID.
func (s *Store) ProfileCount(kind models.ProfileKind, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profileKey{kind, userID}]; ok {
		return 1
	}
	return 0
}

// SetBalance overwrites a cached balance without a ledger row, simulating drift.
func (s *Store) SetBalance(kind models.ProfileKind, userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[profileKey{kind, userID}]; ok {
		p.TokenBalance = balance
	}
}

type userRepo Store

func (r *userRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r *userRepo) Ensure(ctx context.Context, user *models.User) (*models.User, bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[user.ID]; ok {
		return &u, false, nil
	}
	stored := *user
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	s.users[user.ID] = stored
	return &stored, true, nil
}

func (r *userRepo) SetRole(ctx context.Context, id, role string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Role != "" {
		return nil
	}
	u.Role = role
	s.users[id] = u
	return nil
}

func (r *userRepo) UpdateEmail(ctx context.Context, id, email string, verified bool) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Email = email
		u.EmailVerified = verified
		s.users[id] = u
	}
	return nil
}

type profileRepo Store

func (r *profileRepo) Get(ctx context.Context, kind models.ProfileKind, userID string) (*models.Profile, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey{kind, userID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *profileRepo) Create(ctx context.Context, kind models.ProfileKind, userID string) error {
	s := (*Store)(r)
	if hook := s.BeforeProfileCreate; hook != nil {
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := profileKey{kind, userID}
	if _, ok := s.profiles[key]; ok {
		return gorm.ErrDuplicatedKey
	}
	s.nextProfileID++
	now := s.now()
	s.profiles[key] = &models.Profile{Kind: kind, ID: s.nextProfileID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	return nil
}

type ledgerRepo Store

func (r *ledgerRepo) insertLocked(entry *models.TokenTransaction) error {
	s := (*Store)(r)
	if entry.ExternalRef != nil {
		for _, t := range s.transactions {
			if t.ExternalRef != nil && *t.ExternalRef == *entry.ExternalRef {
				return gorm.ErrDuplicatedKey
			}
		}
	}
	s.nextTransactionID++
	entry.ID = s.nextTransactionID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.transactions = append(s.transactions, *entry)
	return nil
}

func (r *ledgerRepo) Credit(ctx context.Context, kind models.ProfileKind, entry *models.TokenTransaction) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey{kind, entry.UserID}]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if err := r.insertLocked(entry); err != nil {
		return err
	}
	p.TokenBalance += entry.Amount
	return nil
}

func (r *ledgerRepo) Debit(ctx context.Context, kind models.ProfileKind, entry *models.TokenTransaction) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey{kind, entry.UserID}]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if p.TokenBalance < -entry.Amount {
		return repository.ErrInsufficientFunds
	}
	if err := r.insertLocked(entry); err != nil {
		return err
	}
	p.TokenBalance += entry.Amount
	return nil
}

func (r *ledgerRepo) Balance(ctx context.Context, kind models.ProfileKind, userID string) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey{kind, userID}]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	return p.TokenBalance, nil
}

func (r *ledgerRepo) List(ctx context.Context, userID string, limit, offset int) ([]models.TokenTransaction, int64, error) {
	all := (*Store)(r).Transactions(userID)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []models.TokenTransaction{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *ledgerRepo) FindByExternalRef(ctx context.Context, ref string) (*models.TokenTransaction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.ExternalRef != nil && *t.ExternalRef == ref {
			cp := t
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *ledgerRepo) Reconcile(ctx context.Context, kind models.ProfileKind, userID string) (int64, int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileKey{kind, userID}]
	if !ok {
		return 0, 0, gorm.ErrRecordNotFound
	}
	var sum int64
	for _, t := range s.transactions {
		if t.UserID == userID {
			sum += t.Amount
		}
	}
	cached := p.TokenBalance
	p.TokenBalance = sum
	return cached, sum, nil
}

func (r *ledgerRepo) UsersActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var ids []string
	for _, t := range s.transactions {
		if t.CreatedAt.Before(since) {
			continue
		}
		if _, ok := seen[t.UserID]; ok {
			continue
		}
		seen[t.UserID] = struct{}{}
		ids = append(ids, t.UserID)
	}
	return ids, nil
}

func (r *ledgerRepo) ListCreatedBetween(ctx context.Context, from, to time.Time, afterID uint, limit int) ([]models.TokenTransaction, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TokenTransaction
	for _, t := range s.transactions {
		if t.ID <= afterID || t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type notificationRepo Store

func (r *notificationRepo) Create(ctx context.Context, n *models.Notification) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNotifications {
		return gorm.ErrInvalidDB
	}
	s.nextNotificationID++
	n.ID = s.nextNotificationID
	n.CreatedAt = s.now()
	n.UpdatedAt = n.CreatedAt
	s.notifications = append(s.notifications, *n)
	return nil
}

func (r *notificationRepo) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	var matched []models.Notification
	for _, n := range (*Store)(r).Notifications(userID) {
		if unreadOnly && n.IsRead {
			continue
		}
		matched = append(matched, n)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.Notification{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *notificationRepo) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	for _, n := range (*Store)(r).Notifications(userID) {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *notificationRepo) MarkRead(ctx context.Context, userID string, id uint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].UserID == userID {
			s.notifications[i].IsRead = true
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *notificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.notifications {
		if s.notifications[i].UserID == userID && !s.notifications[i].IsRead {
			s.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

type campaignRepo Store

func (r *campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.campaigns[c.ID] = *c
	return nil
}

func (r *campaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r *campaignRepo) UpdateStatus(ctx context.Context, id, status string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.Status = status
	s.campaigns[id] = c
	return nil
}

func (r *campaignRepo) ListActive(ctx context.Context, limit, offset int) ([]models.Campaign, int64, error) {
	return r.list(func(c models.Campaign) bool { return c.Status == models.CampaignStatusActive }, limit, offset)
}

func (r *campaignRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Campaign, int64, error) {
	return r.list(func(c models.Campaign) bool { return c.OwnerID == ownerID }, limit, offset)
}

func (r *campaignRepo) list(match func(models.Campaign) bool, limit, offset int) ([]models.Campaign, int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	var matched []models.Campaign
	for _, c := range s.campaigns {
		if match(c) {
			matched = append(matched, c)
		}
	}
	s.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.Campaign{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}
