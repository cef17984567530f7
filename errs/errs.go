// Package errs provides structured error types and helpers for polytrade services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category within the trading engine.
type Code string

const (
	// CodeConfig indicates invalid or missing configuration; fatal at startup.
	CodeConfig Code = "config"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork indicates a transient network or venue transport failure.
	CodeNetwork Code = "network"
	// CodeRiskRejected indicates an order denied by the risk gate.
	CodeRiskRejected Code = "risk_rejected"
	// CodeHalted indicates the engine is halted and rejecting admissions.
	CodeHalted Code = "halted"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeExchange indicates a venue-side failure.
	CodeExchange Code = "exchange_error"
	// CodeUnavailable indicates a component is closed or temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the polytrade stack.
type E struct {
	Component string
	Code      Code
	Message   string
	Details   map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Details:   nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithDetail appends a single detail key/value pair.
func WithDetail(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Details == nil {
			e.Details = make(map[string]string, 1)
		}
		e.Details[trimmedKey] = strings.TrimSpace(value)
	}
}

// WithDetails merges the provided detail map into the error envelope.
func WithDetails(details map[string]string) Option {
	return func(e *E) {
		if len(details) == 0 {
			return
		}
		if e.Details == nil {
			e.Details = make(map[string]string, len(details))
		}
		for k, v := range details {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Details[key] = strings.TrimSpace(v)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Details[k]))
		}
		parts = append(parts, "details="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err, or the empty code when err does not
// carry an envelope.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries an envelope with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
