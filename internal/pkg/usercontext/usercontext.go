package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/app/models"
)

// UserContext represents the authenticated caller for a request
type UserContext struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`
	IsLoggedIn    bool   `json:"is_logged_in"`
}

// Set stores the caller on the fiber context.
func Set(c *fiber.Ctx, user *models.User) {
	c.Locals(KeyUser, user)
	c.Locals(KeyUserContext, UserContext{
		UserID:        user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Role:          user.Role,
		IsLoggedIn:    true,
	})
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// User returns the stored user row, or nil for anonymous requests.
func User(c *fiber.Ctx) *models.User {
	if u, ok := c.Locals(KeyUser).(*models.User); ok {
		return u
	}
	return nil
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetUserID returns the current user's ID, or "" if not logged in
func GetUserID(c *fiber.Ctx) string {
	return GetUserContext(c).UserID
}
