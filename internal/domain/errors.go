package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies shop failures into stable, client-visible categories.
type ErrorKind string

const (
	KindEmptyCart         ErrorKind = "EmptyCart"
	KindNoPaymentMethod   ErrorKind = "NoPaymentMethod"
	KindMixedCurrency     ErrorKind = "MixedCurrency"
	KindValidationFailed  ErrorKind = "ValidationFailed"
	KindPaymentCanceled   ErrorKind = "PaymentCanceled"
	KindUnknownGateway    ErrorKind = "UnknownGateway"
	KindGatewayError      ErrorKind = "GatewayError"
	KindSessionExpired    ErrorKind = "SessionExpired"
	KindMissingPriceInput ErrorKind = "MissingPriceInput"
	KindInvalidItem       ErrorKind = "InvalidItem"
	KindNotFound          ErrorKind = "NotFound"
	KindForbidden         ErrorKind = "Forbidden"
	KindInternal          ErrorKind = "Internal"
)

var kindMeta = map[ErrorKind]struct {
	key    string
	status int
}{
	KindEmptyCart:         {"merx.emptycart", http.StatusBadRequest},
	KindNoPaymentMethod:   {"merx.noPaymentMethod", http.StatusBadRequest},
	KindMixedCurrency:     {"merx.mixedCurrency", http.StatusConflict},
	KindValidationFailed:  {"merx.fieldsvalidation", http.StatusBadRequest},
	KindPaymentCanceled:   {"merx.paymentCanceled", http.StatusBadRequest},
	KindUnknownGateway:    {"merx.unknownGateway", http.StatusBadRequest},
	KindGatewayError:      {"merx.gatewayError", http.StatusBadGateway},
	KindSessionExpired:    {"merx.sessionExpired", http.StatusGone},
	KindMissingPriceInput: {"merx.missingPriceInput", http.StatusBadRequest},
	KindInvalidItem:       {"merx.invalidItem", http.StatusBadRequest},
	KindNotFound:          {"merx.notFound", http.StatusNotFound},
	KindForbidden:         {"merx.forbidden", http.StatusForbidden},
	KindInternal:          {"merx.internal", http.StatusInternalServerError},
}

// Key returns the machine-readable key for the kind.
func (k ErrorKind) Key() string {
	if meta, ok := kindMeta[k]; ok {
		return meta.key
	}
	return kindMeta[KindInternal].key
}

// HTTPStatus returns the HTTP status code associated with the kind.
func (k ErrorKind) HTTPStatus() int {
	if meta, ok := kindMeta[k]; ok {
		return meta.status
	}
	return http.StatusInternalServerError
}

// Error is the single reportable error type of the shop core.
type Error struct {
	Kind    ErrorKind
	Key     string
	Message string
	Details map[string]any
	Err     error
}

// NewError builds an Error using the kind's default key.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Key: kind.Key(), Message: message, Err: cause}
}

// WithKey overrides the default machine-readable key.
func (e *Error) WithKey(key string) *Error {
	if key != "" {
		e.Key = key
	}
	return e
}

// WithDetails attaches structured details, e.g. invalid field names.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Key, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code for the error's kind.
func (e *Error) HTTPStatus() int { return e.Kind.HTTPStatus() }

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: KindEmptyCart}) works.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// AsError normalises any error into an *Error. Errors of another type are wrapped
// as KindInternal using the fallback key.
func AsError(err error, fallbackKey string) *Error {
	if err == nil {
		return nil
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr
	}
	return NewError(KindInternal, "unexpected error", err).WithKey(fallbackKey)
}
