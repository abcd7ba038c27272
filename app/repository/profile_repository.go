package repository

import (
	"context"
	"fmt"

	"github.com/brandbridge/brandbridge/app/models"
	"gorm.io/gorm"
)

type profileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Get(ctx context.Context, kind models.ProfileKind, userID string) (*models.Profile, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown profile kind %d", kind)
	}
	var p models.Profile
	err := r.db.WithContext(ctx).Table(kind.Table()).
		Select("id, user_id, token_balance, created_at, updated_at").
		Where("user_id = ?", userID).
		Take(&p).Error
	if err != nil {
		return nil, err
	}
	p.Kind = kind
	return &p, nil
}

func (r *profileRepository) Create(ctx context.Context, kind models.ProfileKind, userID string) error {
	row := kind.NewRow(userID)
	if row == nil {
		return fmt.Errorf("unknown profile kind %d", kind)
	}
	return r.db.WithContext(ctx).Create(row).Error
}
