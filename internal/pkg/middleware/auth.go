package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/identity"
	"github.com/brandbridge/brandbridge/internal/pkg/usercontext"
)

// UserStore is the subset of the user repository the auth middleware needs.
type UserStore interface {
	Ensure(ctx context.Context, user *models.User) (*models.User, bool, error)
	UpdateEmail(ctx context.Context, id, email string, verified bool) error
}

// RequireAuth verifies the bearer credential, makes sure a users row exists
// for its subject and stores the caller on the request.
func RequireAuth(verifier identity.Verifier, users UserStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		credential := identity.BearerToken(c.Get(fiber.HeaderAuthorization))
		if credential == "" {
			return apperror.Respond(c, apperror.Unauthenticated("missing bearer credential"))
		}

		id, err := verifier.Verify(c.UserContext(), credential)
		if err != nil {
			log.Debugf("[HTTP] Rejected credential: %v", err)
			return apperror.Respond(c, apperror.Unauthenticated("invalid or expired credential"))
		}

		user, created, err := users.Ensure(c.UserContext(), &models.User{
			ID:            id.Subject,
			Email:         id.Email,
			EmailVerified: id.EmailVerified,
		})
		if err != nil {
			return apperror.Respond(c, apperror.Internal("failed to load user", err))
		}
		if created {
			log.Infof("[HTTP] Registered user %s", user.ID)
		} else if id.Email != "" && (id.Email != user.Email || id.EmailVerified != user.EmailVerified) {
			if err := users.UpdateEmail(c.UserContext(), user.ID, id.Email, id.EmailVerified); err != nil {
				log.Warnf("[HTTP] Failed to refresh email for user %s: %v", user.ID, err)
			} else {
				user.Email = id.Email
				user.EmailVerified = id.EmailVerified
			}
		}

		usercontext.Set(c, user)
		return c.Next()
	}
}

// RequireRole rejects callers whose onboarding role differs from role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return apperror.Respond(c, apperror.Unauthenticated("login required"))
		}
		if userCtx.Role != role {
			return apperror.Respond(c, apperror.Forbidden("requires the "+role+" role"))
		}
		return c.Next()
	}
}
