package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RelayErrorBadInput          = "RELAY_BAD_INPUT"
	RelayErrorNotFound          = "RELAY_NOT_FOUND"
	RelayErrorWorkflowNotFound  = "RELAY_WORKFLOW_NOT_FOUND"
	RelayErrorWorkflowForbidden = "RELAY_WORKFLOW_FORBIDDEN"
	RelayErrorCorrelationMiss   = "RELAY_CORRELATION_MISS"
	RelayErrorUnauthorized      = "RELAY_UNAUTHORIZED"
	RelayErrorDispatchFailed    = "RELAY_DISPATCH_FAILED"
	RelayErrorExternalFailure   = "RELAY_EXTERNAL_FAILURE"
	RelayErrorRateLimited       = "RELAY_RATE_LIMITED"
	RelayErrorInternal          = "RELAY_INTERNAL_ERROR"
)

// ErrNotFound is returned by stores when a lookup matches no record.
var ErrNotFound = errors.New("core: record not found")

func relayError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(relayHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func relayWrapError(
	source error,
	category goerrors.Category,
	message string,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return relayError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(relayHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// NewExternalError marks a failure of a collaborator the caller may retry.
func NewExternalError(source error, message string, metadata map[string]any) error {
	return relayWrapError(source, goerrors.CategoryExternal, message, RelayErrorExternalFailure, metadata)
}

// NewInternalError marks a store or programming failure.
func NewInternalError(source error, message string, metadata map[string]any) error {
	return relayWrapError(source, goerrors.CategoryInternal, message, RelayErrorInternal, metadata)
}

// NewUnauthorizedError marks a request whose authenticity could not be established.
func NewUnauthorizedError(message string, metadata map[string]any) error {
	return relayError(message, goerrors.CategoryAuth, RelayErrorUnauthorized, metadata)
}

// NewNotFoundError wraps a store miss so the HTTP surface answers 404.
func NewNotFoundError(source error, message string, metadata map[string]any) error {
	return relayWrapError(source, goerrors.CategoryNotFound, message, RelayErrorNotFound, metadata)
}

// NewBadInputError marks a request that can never succeed as sent.
func NewBadInputError(message string, metadata map[string]any) error {
	return relayError(message, goerrors.CategoryBadInput, RelayErrorBadInput, metadata)
}

// WrapBadInputError keeps the cause of a rejected request.
func WrapBadInputError(source error, message string, metadata map[string]any) error {
	return relayWrapError(source, goerrors.CategoryBadInput, message, RelayErrorBadInput, metadata)
}

// IsNotFound reports whether err is ErrNotFound or a not-found categorized error.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	return HasCategory(err, goerrors.CategoryNotFound)
}

func HasCategory(err error, category goerrors.Category) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr.Category == category
	}
	return false
}

// HTTPStatus resolves the transport status for err. Untyped errors are internal.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if richErr.Code > 0 {
			return richErr.Code
		}
		return relayHTTPStatus(richErr.Category)
	}
	return http.StatusInternalServerError
}

// TextCode resolves the stable error code for err.
func TextCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if code := strings.TrimSpace(richErr.TextCode); code != "" {
			return code
		}
	}
	return RelayErrorInternal
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
