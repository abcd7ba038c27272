package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brandbridge/brandbridge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// Credit appends entry and increments the cached balance in one transaction.
func (r *ledgerRepository) Credit(ctx context.Context, kind models.ProfileKind, entry *models.TokenTransaction) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown profile kind %d", kind)
	}
	if entry.Amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", entry.Amount)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		res := tx.Table(kind.Table()).
			Where("user_id = ?", entry.UserID).
			Updates(map[string]interface{}{
				"token_balance": gorm.Expr("token_balance + ?", entry.Amount),
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Debit decrements the cached balance only when it covers the amount and
// appends entry in the same transaction. entry.Amount must be negative.
func (r *ledgerRepository) Debit(ctx context.Context, kind models.ProfileKind, entry *models.TokenTransaction) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown profile kind %d", kind)
	}
	if entry.Amount >= 0 {
		return fmt.Errorf("debit amount must be negative, got %d", entry.Amount)
	}
	amount := -entry.Amount
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(kind.Table()).
			Where("user_id = ? AND token_balance >= ?", entry.UserID, amount).
			Updates(map[string]interface{}{
				"token_balance": gorm.Expr("token_balance - ?", amount),
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Table(kind.Table()).Where("user_id = ?", entry.UserID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}
			return ErrInsufficientFunds
		}
		return tx.Create(entry).Error
	})
}

func (r *ledgerRepository) Balance(ctx context.Context, kind models.ProfileKind, userID string) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown profile kind %d", kind)
	}
	var balances []int64
	err := r.db.WithContext(ctx).Table(kind.Table()).
		Where("user_id = ?", userID).
		Limit(1).
		Pluck("token_balance", &balances).Error
	if err != nil {
		return 0, err
	}
	if len(balances) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return balances[0], nil
}

// List returns newest-first rows and the total count for userID.
func (r *ledgerRepository) List(ctx context.Context, userID string, limit, offset int) ([]models.TokenTransaction, int64, error) {
	db := r.db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.TokenTransaction{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.TokenTransaction
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *ledgerRepository) FindByExternalRef(ctx context.Context, ref string) (*models.TokenTransaction, error) {
	var entry models.TokenTransaction
	if err := r.db.WithContext(ctx).Where("external_ref = ?", ref).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepository) Reconcile(ctx context.Context, kind models.ProfileKind, userID string) (int64, int64, error) {
	if !kind.Valid() {
		return 0, 0, fmt.Errorf("unknown profile kind %d", kind)
	}
	var cached, sum int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var balances []int64
		if err := tx.Table(kind.Table()).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Pluck("token_balance", &balances).Error; err != nil {
			return err
		}
		if len(balances) == 0 {
			return gorm.ErrRecordNotFound
		}
		cached = balances[0]

		if err := tx.Model(&models.TokenTransaction{}).
			Where("user_id = ?", userID).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&sum).Error; err != nil {
			return err
		}
		if sum == cached {
			return nil
		}
		return tx.Table(kind.Table()).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{"token_balance": sum, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return cached, sum, nil
}

func (r *ledgerRepository) UsersActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.TokenTransaction{}).
		Where("created_at >= ?", since).
		Distinct().
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListCreatedBetween pages through rows in [from, to) by ascending id.
func (r *ledgerRepository) ListCreatedBetween(ctx context.Context, from, to time.Time, afterID uint, limit int) ([]models.TokenTransaction, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	var items []models.TokenTransaction
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ? AND id > ?", from, to, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
