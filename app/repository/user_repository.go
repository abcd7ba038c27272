package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/brandbridge/brandbridge/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their identity subject
func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Ensure creates the user on first sign-in. A concurrent insert of the same
// id surfaces as a duplicate key and is resolved by reading the stored row.
func (r *userRepository) Ensure(ctx context.Context, user *models.User) (*models.User, bool, error) {
	existing, err := r.GetByID(ctx, user.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("create user %s: %w", user.ID, err)
		}
		stored, gerr := r.GetByID(ctx, user.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		return stored, false, nil
	}
	return user, true, nil
}

// SetRole sets the role only while it is still empty.
func (r *userRepository) SetRole(ctx context.Context, id, role string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (role = '' OR role IS NULL)", id).
		Update("role", role).Error
}

func (r *userRepository) UpdateEmail(ctx context.Context, id, email string, verified bool) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"email": email, "email_verified": verified}).Error
}
