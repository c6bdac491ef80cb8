package apperror

import (
	"fmt"
	"net/http"
	"sort"
)

// Application errors.
var (
	UnknownError = Descriptor{
		Type:       TypeApplication,
		Code:       "UNKNOWN_ERROR",
		Message:    "Unknown error",
		StatusCode: http.StatusInternalServerError,
	}

	ValidationError = Descriptor{
		Type:       TypeApplication,
		Code:       "VALIDATION_ERROR",
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
	}

	EmailAlreadyTaken = Descriptor{
		Type:       TypeApplication,
		Code:       "EMAIL_ALREADY_TAKEN",
		Message:    "The given email address is already taken :(",
		StatusCode: http.StatusBadRequest,
	}

	AuthWeakPassword = Descriptor{
		Type:       TypeApplication,
		Code:       "AUTH_WEAK_PASSWORD",
		Message:    "The given password is easy to guess, provide strong password",
		StatusCode: http.StatusBadRequest,
	}

	BadIdempotencyKey = Descriptor{
		Type:       TypeApplication,
		Code:       "BAD_IDEMPOTENCY_KEY",
		Message:    "Invalid Idempotency-Key",
		StatusCode: http.StatusBadRequest,
	}

	IdempotencyKeyReused = Descriptor{
		Type:       TypeApplication,
		Code:       "IDEMPOTENCY_KEY_REUSED",
		Message:    "Idempotency-Key was already used with a different payload",
		StatusCode: http.StatusUnprocessableEntity,
	}
)

// Predefined 4xx errors.
var (
	BadRequest = Descriptor{
		Type:       TypeNetwork,
		Code:       "BAD_REQUEST",
		Message:    "Bad request",
		StatusCode: http.StatusBadRequest,
	}

	Unauthorized = Descriptor{
		Type:       TypeNetwork,
		Code:       "UNAUTHORIZED",
		Message:    "Unauthorized",
		StatusCode: http.StatusUnauthorized,
	}

	Forbidden = Descriptor{
		Type:       TypeNetwork,
		Code:       "FORBIDDEN",
		Message:    "Forbidden",
		StatusCode: http.StatusForbidden,
	}

	ResourceNotFound = Descriptor{
		Type:       TypeNetwork,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
		Meta:       map[string]any{"translationKey": "app.common.error.RESOURCE_NOT_FOUND"},
	}

	MethodNotAllowed = Descriptor{
		Type:       TypeNetwork,
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "Method not allowed",
		StatusCode: http.StatusMethodNotAllowed,
	}

	PayloadTooLarge = Descriptor{
		Type:       TypeNetwork,
		Code:       "PAYLOAD_TOO_LARGE",
		Message:    "Request body too large",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	TooManyRequests = Descriptor{
		Type:       TypeNetwork,
		Code:       "TOO_MANY_REQUESTS",
		Message:    "Rate limit exceeded",
		StatusCode: http.StatusTooManyRequests,
	}
)

// Predefined 5xx errors.
var (
	InternalServerError = Descriptor{
		Type:       TypeNetwork,
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Something went wrong, Please try again later.",
		StatusCode: http.StatusInternalServerError,
		Meta:       map[string]any{"shouldRedirect": true},
	}

	BadGateway = Descriptor{
		Type:       TypeNetwork,
		Code:       "BAD_GATEWAY",
		Message:    "Bad gateway",
		StatusCode: http.StatusBadGateway,
	}

	ServiceUnavailable = Descriptor{
		Type:       TypeNetwork,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "Service unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	GatewayTimeout = Descriptor{
		Type:       TypeNetwork,
		Code:       "GATEWAY_TIMEOUT",
		Message:    "Gateway timeout",
		StatusCode: http.StatusGatewayTimeout,
	}
)

// catalog is built once at init and never mutated afterwards.
var catalog = mustBuildCatalog(
	UnknownError,
	ValidationError,
	EmailAlreadyTaken,
	AuthWeakPassword,
	BadIdempotencyKey,
	IdempotencyKeyReused,

	BadRequest,
	Unauthorized,
	Forbidden,
	ResourceNotFound,
	MethodNotAllowed,
	PayloadTooLarge,
	TooManyRequests,

	InternalServerError,
	BadGateway,
	ServiceUnavailable,
	GatewayTimeout,
)

// buildCatalog indexes descriptors by code, rejecting empty and duplicate codes.
func buildCatalog(descs ...Descriptor) (map[string]Descriptor, error) {
	m := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if d.Code == "" {
			return nil, fmt.Errorf("apperror: descriptor with empty code (message %q)", d.Message)
		}
		if _, dup := m[d.Code]; dup {
			return nil, fmt.Errorf("apperror: duplicate code %q", d.Code)
		}
		m[d.Code] = d
	}
	return m, nil
}

func mustBuildCatalog(descs ...Descriptor) map[string]Descriptor {
	m, err := buildCatalog(descs...)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the descriptor registered under code.
func Lookup(code string) (Descriptor, bool) {
	d, ok := catalog[code]
	return d, ok
}

// Codes returns every registered code in lexical order.
func Codes() []string {
	out := make([]string, 0, len(catalog))
	for c := range catalog {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
