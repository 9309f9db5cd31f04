package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.RelayErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return core.RelayErrorUnauthorized
	case goerrors.CategoryNotFound:
		return core.RelayErrorNotFound
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return core.RelayErrorExternalFailure
	default:
		return core.RelayErrorInternal
	}
}

// StatusError converts a non-2xx response into a categorized error. Every
// upstream failure maps to 502 toward our own callers; the remote status is
// kept in metadata.
func StatusError(res Response, operation string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	category := goerrors.CategoryExternal
	switch res.StatusCode {
	case http.StatusNotFound:
		category = goerrors.CategoryNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		category = goerrors.CategoryAuth
	case http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	}
	return transportError(
		"transport: "+operation+" returned unexpected status",
		category,
		http.StatusBadGateway,
		map[string]any{
			"operation":   operation,
			"status_code": res.StatusCode,
			"body":        truncateBody(res.Body, 512),
		},
	)
}

func truncateBody(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
