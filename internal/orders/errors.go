package orders

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindNotFound           Kind = "NOT_FOUND"
	KindProductUnavailable Kind = "PRODUCT_UNAVAILABLE"
	KindInsufficientStock  Kind = "INSUFFICIENT_STOCK"
	KindForbidden          Kind = "FORBIDDEN"
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
)

// Error is a caller-recoverable failure of a ledger operation.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrProductUnavailable = &Error{Kind: KindProductUnavailable, Message: "product unavailable"}
	ErrInsufficientStock  = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrForbidden          = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
)

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error {
	return newError(KindInvalidInput, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return newError(KindInvalidTransition, format, args...)
}

func ProductUnavailable(productID, name string) *Error {
	e := newError(KindProductUnavailable, "Product %s is no longer available", name)
	e.Details = map[string]any{"productId": productID, "name": name}
	return e
}

func InsufficientStock(productID, name string, available int) *Error {
	e := newError(KindInsufficientStock, "Insufficient stock for %s. Available: %d", name, available)
	e.Details = map[string]any{"productId": productID, "name": name, "available": available}
	return e
}

// KindOf returns the kind of a ledger error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
