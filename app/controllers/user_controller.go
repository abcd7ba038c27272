package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/profile"
	"github.com/brandbridge/brandbridge/internal/pkg/usercontext"
)

// UserController serves the caller's balance, history and onboarding.
type UserController struct {
	ledger   *ledger.Service
	profiles *profile.Resolver
}

func NewUserController(l *ledger.Service, profiles *profile.Resolver) *UserController {
	return &UserController{ledger: l, profiles: profiles}
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// HandleGetTokens returns the caller's cached balance.
func (uc *UserController) HandleGetTokens(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	balance, err := uc.ledger.GetBalance(c.UserContext(), userID)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(fiber.Map{"userId": userID, "balance": balance})
}

// HandleGetTransactions returns one page of the caller's ledger, newest first.
func (uc *UserController) HandleGetTransactions(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	page, err := uc.ledger.ListTransactions(c.UserContext(), usercontext.GetUserID(c), limit, offset)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(page)
}

// HandleGetProfile returns the user row, its role and, after onboarding, the profile.
func (uc *UserController) HandleGetProfile(c *fiber.Ctx) error {
	user := usercontext.User(c)
	if user == nil {
		return apperror.Respond(c, apperror.Unauthenticated("login required"))
	}

	resp := fiber.Map{
		"user":    user,
		"role":    user.Role,
		"balance": int64(0),
		"profile": nil,
	}
	if kind, ok := user.ProfileKind(); ok {
		p, err := uc.profiles.Find(c.UserContext(), kind, user.ID)
		switch {
		case err == nil:
			resp["profile"] = p
			resp["balance"] = p.TokenBalance
		case !errors.Is(err, apperror.ErrNotFound):
			return apperror.Respond(c, err)
		}
	}
	return c.JSON(resp)
}

// HandleSetRole completes onboarding. Repeating the current role succeeds.
func (uc *UserController) HandleSetRole(c *fiber.Ctx) error {
	var req setRoleRequest
	if err := bindJSON(c, &req); err != nil {
		return apperror.Respond(c, err)
	}

	user, p, err := uc.profiles.AssignRole(c.UserContext(), usercontext.GetUserID(c), req.Role)
	if err != nil {
		return apperror.Respond(c, err)
	}
	usercontext.Set(c, user)
	return c.JSON(fiber.Map{"user": user, "role": user.Role, "profile": p, "balance": p.TokenBalance})
}
