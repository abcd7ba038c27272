package apperror

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindInvalidRequest      Kind = "invalid_request"
	KindInvalidPackage      Kind = "invalid_package"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNotFound            Kind = "not_found"
	KindRateLimited         Kind = "rate_limited"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindConfiguration       Kind = "configuration_error"
	KindInternal            Kind = "internal_error"
)

// Error carries a kind, a client-safe message and an optional cause.
// The cause is never rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrInvalidPackage      = &Error{Kind: KindInvalidPackage}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrInternal            = &Error{Kind: KindInternal}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func InvalidRequest(message string) *Error { return New(KindInvalidRequest, message) }

func InvalidPackage(packageID string) *Error {
	return New(KindInvalidPackage, fmt.Sprintf("Unknown token package %q", packageID))
}

func InsufficientBalance(balance, required int64) *Error {
	return New(KindInsufficientBalance, fmt.Sprintf("Insufficient token balance: have %d, need %d", balance, required))
}

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Upstream(message string, err error) *Error {
	return Wrap(KindUpstreamUnavailable, message, err)
}

func Configuration(message string) *Error { return New(KindConfiguration, message) }

func Internal(message string, err error) *Error { return Wrap(KindInternal, message, err) }

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return fiber.StatusUnauthorized
	case KindForbidden:
		return fiber.StatusForbidden
	case KindInvalidRequest, KindInvalidPackage:
		return fiber.StatusBadRequest
	case KindInsufficientBalance:
		return fiber.StatusUnprocessableEntity
	case KindNotFound:
		return fiber.StatusNotFound
	case KindRateLimited:
		return fiber.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// Respond writes err as the standard JSON error body.
func Respond(c *fiber.Ctx, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		log.Errorf("[HTTP] %s %s: unhandled error: %v", c.Method(), c.Path(), err)
		e = Internal("An unexpected error occurred", err)
	}

	message := e.Message
	switch e.Kind {
	case KindInternal, KindConfiguration:
		if e.Err != nil || e.Kind == KindConfiguration {
			log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), e)
		}
		message = "An unexpected error occurred"
	case KindUpstreamUnavailable:
		log.Warnf("[HTTP] %s %s: %v", c.Method(), c.Path(), e)
	}

	return c.Status(HTTPStatus(e.Kind)).JSON(fiber.Map{
		"error":   string(e.Kind),
		"message": message,
	})
}

// ErrorHandler is a fiber.Config ErrorHandler that understands *Error and *fiber.Error.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		kind := KindInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			kind = KindNotFound
		case fiber.StatusUnauthorized:
			kind = KindUnauthenticated
		case fiber.StatusForbidden:
			kind = KindForbidden
		case fiber.StatusTooManyRequests:
			kind = KindRateLimited
		case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusMethodNotAllowed:
			return c.Status(fe.Code).JSON(fiber.Map{"error": string(KindInvalidRequest), "message": fe.Message})
		}
		if kind != KindInternal {
			return c.Status(fe.Code).JSON(fiber.Map{"error": string(kind), "message": fe.Message})
		}
	}
	return Respond(c, err)
}
