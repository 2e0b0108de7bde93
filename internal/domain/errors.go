package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInsufficientCredit = errors.New("insufficient credits")
	ErrProviderFailure    = errors.New("provider failure")
)

// ErrorKind is the machine-readable category surfaced to API callers.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindInsufficientCredits ErrorKind = "insufficient_credits"
	KindSystemPaused        ErrorKind = "system_paused"
	KindAssetUnavailable    ErrorKind = "asset_unavailable"
	KindRateLimited         ErrorKind = "provider_rate_limited"
	KindProviderFailure     ErrorKind = "provider_failure"
	KindTimeout             ErrorKind = "timeout"
	KindInternal            ErrorKind = "internal"
)

// Error is a terminal generation failure. Status carries the upstream HTTP
// status for provider failures when one is known.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind onto the response code of POST /generate.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindSystemPaused:
		return http.StatusServiceUnavailable
	case KindAssetUnavailable:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindProviderFailure:
		if e.Status >= http.StatusBadRequest && e.Status != http.StatusTooManyRequests {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found", Err: ErrNotFound}
}

func InsufficientCredits(required, available int, plan UserPlan) *Error {
	return &Error{
		Kind:    KindInsufficientCredits,
		Message: "not enough credits for this generation",
		Details: map[string]any{"required": required, "available": available, "plan": string(plan)},
		Err:     ErrInsufficientCredit,
	}
}

func SystemPaused() *Error {
	return &Error{Kind: KindSystemPaused, Message: "generations are temporarily paused"}
}

func AssetUnavailable(ref string, err error) *Error {
	return &Error{Kind: KindAssetUnavailable, Message: "could not load reference " + ref, Err: err}
}

func RateLimited(err error) *Error {
	return &Error{Kind: KindRateLimited, Message: "system busy, please retry shortly", Status: http.StatusTooManyRequests, Err: err}
}

func ProviderFailure(status int, msg string, err error) *Error {
	if err == nil {
		err = ErrProviderFailure
	}
	return &Error{Kind: KindProviderFailure, Message: msg, Status: status, Err: err}
}

func Timeout(msg string) *Error {
	return &Error{Kind: KindTimeout, Message: msg}
}

// AsError extracts a *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}
