package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
)

// Resolver maps identity subjects to their role-specific profile row.
type Resolver struct {
	users    repository.UserRepository
	profiles repository.ProfileRepository
}

func NewResolver(users repository.UserRepository, profiles repository.ProfileRepository) *Resolver {
	return &Resolver{users: users, profiles: profiles}
}

// KindOf returns the profile kind of userID. Unknown users and users
// without a role yield a NotFound error.
func (r *Resolver) KindOf(ctx context.Context, userID string) (models.ProfileKind, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperror.NotFound("User not found")
		}
		return 0, apperror.Upstream("failed to load user", err)
	}
	kind, ok := user.ProfileKind()
	if !ok {
		return 0, apperror.NotFound("User has not completed onboarding")
	}
	return kind, nil
}

// Find returns the profile or NotFound when it was never created.
func (r *Resolver) Find(ctx context.Context, kind models.ProfileKind, userID string) (*models.Profile, error) {
	p, err := r.profiles.Get(ctx, kind, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("Profile not found")
		}
		return nil, apperror.Upstream("failed to load profile", err)
	}
	return p, nil
}

// GetOrCreate returns the profile row of kind for userID, creating it when
// absent. A duplicate key on insert means a concurrent caller won the race;
// the stored row is read back and returned as success.
func (r *Resolver) GetOrCreate(ctx context.Context, kind models.ProfileKind, userID string) (*models.Profile, error) {
	if !kind.Valid() {
		return nil, apperror.InvalidRequest(fmt.Sprintf("unknown profile kind %d", kind))
	}

	p, err := r.profiles.Get(ctx, kind, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Upstream("failed to load profile", err)
	}

	if err := r.profiles.Create(ctx, kind, userID); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperror.Upstream("failed to create profile", err)
		}
		log.Infof("[Profile] Concurrent create of %s profile for %s, reading stored row", kind, userID)
	}

	return r.Find(ctx, kind, userID)
}

// AssignRole records the onboarding role of userID and makes sure the
// matching profile exists. Repeating the same role is a no-op; switching
// to another role is rejected.
func (r *Resolver) AssignRole(ctx context.Context, userID, role string) (*models.User, *models.Profile, error) {
	role = models.NormalizeRole(role)
	kind, ok := models.ProfileKindForRole(role)
	if !ok {
		return nil, nil, apperror.InvalidRequest("role must be one of: business, influencer")
	}

	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperror.NotFound("User not found")
		}
		return nil, nil, apperror.Upstream("failed to load user", err)
	}

	if user.Role == "" {
		if err := r.users.SetRole(ctx, userID, role); err != nil {
			return nil, nil, apperror.Upstream("failed to set role", err)
		}
		// SetRole only writes an empty role, so re-read to see who won.
		if user, err = r.users.GetByID(ctx, userID); err != nil {
			return nil, nil, apperror.Upstream("failed to load user", err)
		}
		if user.Role == role {
			log.Infof("[Profile] User %s onboarded as %s", userID, role)
		}
	}
	if user.Role != role {
		return nil, nil, apperror.InvalidRequest("role is already set to " + user.Role)
	}

	p, err := r.GetOrCreate(ctx, kind, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, p, nil
}
