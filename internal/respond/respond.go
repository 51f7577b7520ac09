// Package respond renders the platform's uniform response envelope:
// {success, message, code?, data?}. Handlers never hand-build JSON bodies.
package respond

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
)

// Envelope is the body of every public operation response.
type Envelope struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// OK renders a successful response.
func OK(c *fiber.Ctx, message string, data any) error {
	return c.Status(http.StatusOK).JSON(Envelope{Success: true, Message: message, Data: data})
}

// Created renders a successful creation response.
func Created(c *fiber.Ctx, message string, data any) error {
	return c.Status(http.StatusCreated).JSON(Envelope{Success: true, Message: message, Data: data})
}

// Error renders a failure envelope with the HTTP status derived from the
// apperr code. Non-apperr errors are reported as INTERNAL without leaking
// their cause.
func Error(c *fiber.Ctx, err error) error {
	code := apperr.CodeOf(err)
	env := Envelope{Success: false, Code: string(code), Message: publicMessage(err, code)}
	if e, ok := asAppError(err); ok && len(e.Meta) > 0 {
		env.Meta = e.Meta
	}
	return c.Status(StatusOf(code)).JSON(env)
}

// StatusOf maps an error code to its HTTP status.
func StatusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeInsufficientShares, apperr.CodeInsufficientBalance, apperr.CodeStateConflict, apperr.CodeDuplicate:
		return http.StatusConflict
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeExternalPending:
		return http.StatusAccepted
	case apperr.CodeExternalFailed:
		return http.StatusBadGateway
	case apperr.CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error, code apperr.Code) string {
	if code == apperr.CodeInternal {
		if _, ok := asAppError(err); !ok {
			return "internal error"
		}
	}
	if e, ok := asAppError(err); ok {
		return e.Message
	}
	return "internal error"
}

func asAppError(err error) (*apperr.Error, bool) {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
