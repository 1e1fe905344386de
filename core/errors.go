package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorRateLimited      = "TRACKERS_RATE_LIMITED"
	ErrorQueueFull        = "TRACKERS_QUEUE_FULL"
	ErrorLimiterReset     = "TRACKERS_LIMITER_RESET"
	ErrorMappingConfig    = "TRACKERS_MAPPING_CONFIG"
	ErrorFieldMissing     = "TRACKERS_FIELD_MISSING"
	ErrorSignatureInvalid = "TRACKERS_SIGNATURE_INVALID"
	ErrorPayloadMalformed = "TRACKERS_PAYLOAD_MALFORMED"
	ErrorHandlerFailed    = "TRACKERS_HANDLER_FAILED"
	ErrorProviderUnknown  = "TRACKERS_PROVIDER_UNKNOWN"
	ErrorBadInput         = "TRACKERS_BAD_INPUT"
	ErrorInternal         = "TRACKERS_INTERNAL"
)

func NewError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return NewError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func BadInputError(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryBadInput, http.StatusBadRequest, ErrorBadInput, metadata)
}

func InternalError(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryInternal, http.StatusInternalServerError, ErrorInternal, metadata)
}

// ConfigError flags a programmer or configuration mistake: unknown transform
// names, missing required fields, unregistered providers. These are fatal to
// the operation and never surfaced to the remote end.
func ConfigError(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryValidation, http.StatusInternalServerError, ErrorMappingConfig, metadata)
}

// IsErrorCode reports whether err carries the given taxonomy text code.
func IsErrorCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), strings.TrimSpace(textCode))
}

// ErrorMetadata extracts the metadata bag from a taxonomy error, nil otherwise.
func ErrorMetadata(err error) map[string]any {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return nil
	}
	return richErr.Metadata
}
