package model

import (
	"errors"
	"fmt"
)

// The error taxonomy below separates caller mistakes (ValidationError,
// ConfigurationError, NotFoundError) from provider trouble
// (ConnectionError, GatewayError). Business declines are NOT errors: a
// decline travels back as a TransactionResponse with StatusDeclined and a
// nil error, because a provider that declines a card is working correctly.

// ValidationError reports a malformed or incomplete request. It is raised
// before any network call and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConnectionError reports a transport-level failure reaching a gateway:
// timeout, DNS, TLS, connection refused, or a 5xx/429 that indicates the
// gateway itself is unreachable or shedding load. Connection errors are
// retried per provider configuration and make the attempt eligible for
// fallback.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// GatewayError reports that the gateway answered but the response was
// unusable: unparseable body, missing required fields, or an error
// envelope that maps to no known outcome. Gateway errors are not retried
// against the same provider but do make the attempt eligible for
// fallback.
type GatewayError struct {
	Provider string
	Code     string
	Message  string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: gateway error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: gateway error %s: %s", e.Provider, e.Code, e.Message)
}

// NotFoundError reports an unknown provider, an unknown tenant resource,
// or a tenant with no usable providers for the requested operation.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ErrorKind labels an error with its taxonomy bucket: "validation",
// "connection", "gateway", "not_found", "configuration", or "error" for
// anything outside the taxonomy. The labels feed health tracking, policy
// rule parameters and metrics.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	var (
		vErr   *ValidationError
		connE  *ConnectionError
		gwErr  *GatewayError
		nfErr  *NotFoundError
		cfgErr *ConfigurationError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &connE):
		return "connection"
	case errors.As(err, &gwErr):
		return "gateway"
	case errors.As(err, &nfErr):
		return "not_found"
	case errors.As(err, &cfgErr):
		return "configuration"
	default:
		return "error"
	}
}

// FallbackEligible reports whether a failed attempt may continue to the
// next provider: transport trouble and unusable gateway answers are, a
// caller mistake is not.
func FallbackEligible(err error) bool {
	kind := ErrorKind(err)
	return kind == "connection" || kind == "gateway"
}

// ConfigurationError reports an unsupported provider type or credentials
// that fail the provider's required shape.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Provider == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Provider, e.Reason)
}
