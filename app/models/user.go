package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ROLE_BUSINESS   = "business"
	ROLE_INFLUENCER = "influencer"
)

// User is keyed by the identity provider's subject. Role stays empty until onboarding.
type User struct {
	ID            string    `gorm:"primaryKey;type:varchar(191)" json:"id" validate:"required,max=191"`
	Email         string    `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	EmailVerified bool      `gorm:"default:false" json:"email_verified"`
	Role          string    `gorm:"type:varchar(20);default:''" json:"role" validate:"omitempty,oneof=business influencer"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// HasRole reports whether onboarding picked a role.
func (u *User) HasRole() bool {
	return u.Role != ""
}

// ProfileKind returns the profile kind for the user's role.
func (u *User) ProfileKind() (ProfileKind, bool) {
	return ProfileKindForRole(u.Role)
}

// NormalizeRole lowercases and trims a role value.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
