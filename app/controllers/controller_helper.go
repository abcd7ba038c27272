package controllers

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
)

var validate = validator.New()

// bindJSON parses the request body into out and runs its validate tags.
func bindJSON(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.InvalidRequest("Request body must be valid JSON")
	}
	if err := validate.Struct(out); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			f := verrs[0]
			return apperror.InvalidRequest(lowerFirst(f.Field()) + " failed " + f.Tag())
		}
		return apperror.InvalidRequest("Invalid request body")
	}
	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// pagination reads ?limit&offset and applies the ledger defaults and caps.
func pagination(c *fiber.Ctx) (int, int) {
	return ledger.NormalizePagination(c.QueryInt("limit", 0), c.QueryInt("offset", 0))
}

// GetClientIP determines the client address considering common proxy headers.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	// X-Forwarded-For can contain a list of IPs - the first one is the original client IP
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	ip := c.IP()
	// IPv4 in IPv6 mapping (::ffff:192.168.1.1)
	if strings.HasPrefix(ip, "::ffff:") && strings.Contains(ip, ".") {
		return strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}
