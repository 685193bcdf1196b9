package repositories

import "fmt"

// ErrorKind classifies StoreError values.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorNotFound
	ErrorConflict
	ErrorUnavailable
)

// StoreError is the RepositoryError used by backends without a native error type.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError constructs a StoreError.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// NotFound is shorthand for a not-found StoreError.
func NotFound(op, what string) *StoreError {
	return NewStoreError(op, ErrorNotFound, fmt.Errorf("%s not found", what))
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprint(e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == ErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == ErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorUnavailable }

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted indicates the counter reached its configured max value.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Code    CounterErrorCode
	Message string
	Err     error
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return "counter: " + e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
