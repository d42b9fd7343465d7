package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorUnknownProvider             = "UNKNOWN_PROVIDER"
	ErrorNotConfigured               = "PROVIDER_NOT_CONFIGURED"
	ErrorTokenExchangeFailed         = "TOKEN_EXCHANGE_FAILED"
	ErrorRefreshUnsupported          = "REFRESH_UNSUPPORTED"
	ErrorRefreshFailed               = "REFRESH_FAILED"
	ErrorNoValidCredential           = "NO_VALID_CREDENTIAL"
	ErrorRemoteTimeout               = "REMOTE_TIMEOUT"
	ErrorRemoteRejected              = "REMOTE_REJECTED"
	ErrorConnectorConstructionFailed = "CONNECTOR_CONSTRUCTION_FAILED"
	ErrorStorageUnavailable          = "STORAGE_UNAVAILABLE"
	ErrorUnsupportedOperation        = "UNSUPPORTED_OPERATION"
	ErrorOAuthStateInvalid           = "OAUTH_STATE_INVALID"
	ErrorBadInput                    = "BAD_INPUT"
	ErrorInternal                    = "INTERNAL_ERROR"
)

const maxRemoteBodyInError = 2048

// RemoteStatusError is returned by strategies and API clients when a provider
// answers with a non-success status. The coordinator turns it into a typed kind.
type RemoteStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteStatusError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("remote status %d", e.StatusCode)
	if body := truncateBody(e.Body); body != "" {
		msg += ": " + body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteStatusError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func remoteStatus(err error) (int, string) {
	var statusErr *RemoteStatusError
	if errors.As(err, &statusErr) && statusErr != nil {
		return statusErr.StatusCode, statusErr.Body
	}
	return 0, ""
}

func newKindError(message string, category goerrors.Category, textCode string, status int, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(status).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapKindError(source error, message string, category goerrors.Category, textCode string, status int, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return newKindError(message, category, textCode, status, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(status).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func NewUnknownProviderError(provider string) *goerrors.Error {
	return newKindError(
		fmt.Sprintf("provider %q is not registered", provider),
		goerrors.CategoryNotFound,
		ErrorUnknownProvider,
		http.StatusNotFound,
		map[string]any{"provider": provider},
	)
}

func NewNotConfiguredError(provider string) *goerrors.Error {
	return newKindError(
		fmt.Sprintf("provider %q is missing client credentials", provider),
		goerrors.CategoryOperation,
		ErrorNotConfigured,
		http.StatusServiceUnavailable,
		map[string]any{"provider": provider},
	)
}

// NewTokenExchangeFailedError carries the remote status and a truncated body.
func NewTokenExchangeFailedError(provider string, remoteStatus int, remoteBody string, cause error) *goerrors.Error {
	return wrapKindError(
		cause,
		fmt.Sprintf("token exchange with %q failed", provider),
		goerrors.CategoryExternal,
		ErrorTokenExchangeFailed,
		http.StatusBadGateway,
		map[string]any{
			"provider":      provider,
			"remote_status": remoteStatus,
			"remote_body":   truncateBody(remoteBody),
		},
	)
}

func NewRefreshUnsupportedError(provider string, userEmail string) *goerrors.Error {
	return newKindError(
		fmt.Sprintf("provider %q does not support token refresh; re-run the authorize flow", provider),
		goerrors.CategoryOperation,
		ErrorRefreshUnsupported,
		http.StatusConflict,
		map[string]any{"provider": provider, "user_email": userEmail},
	)
}

func NewRefreshFailedError(provider string, userEmail string, remoteStatus int, remoteBody string, cause error) *goerrors.Error {
	return wrapKindError(
		cause,
		fmt.Sprintf("token refresh with %q failed", provider),
		goerrors.CategoryExternal,
		ErrorRefreshFailed,
		http.StatusBadGateway,
		map[string]any{
			"provider":      provider,
			"user_email":    userEmail,
			"remote_status": remoteStatus,
			"remote_body":   truncateBody(remoteBody),
		},
	)
}

func NewNoValidCredentialError(provider string, userEmail string) *goerrors.Error {
	return newKindError(
		fmt.Sprintf("no valid %q credential for %s", provider, userEmail),
		goerrors.CategoryAuth,
		ErrorNoValidCredential,
		http.StatusUnauthorized,
		map[string]any{"provider": provider, "user_email": userEmail},
	)
}

func wrapNoValidCredentialError(provider string, userEmail string, cause error) *goerrors.Error {
	return wrapKindError(
		cause,
		fmt.Sprintf("no valid %q credential for %s", provider, userEmail),
		goerrors.CategoryAuth,
		ErrorNoValidCredential,
		http.StatusUnauthorized,
		map[string]any{"provider": provider, "user_email": userEmail},
	)
}

func NewRemoteTimeoutError(provider string, operation string, cause error) *goerrors.Error {
	return wrapKindError(
		cause,
		fmt.Sprintf("%q timed out during %s", provider, operation),
		goerrors.CategoryExternal,
		ErrorRemoteTimeout,
		http.StatusGatewayTimeout,
		map[string]any{"provider": provider, "operation": operation},
	)
}

func NewRemoteRejectedError(provider string, operation string, remoteStatus int, remoteBody string) *goerrors.Error {
	return newKindError(
		fmt.Sprintf("%q rejected %s with status %d", provider, operation, remoteStatus),
		goerrors.CategoryExternal,
		ErrorRemoteRejected,
		http.StatusBadGateway,
		map[string]any{
			"provider":      provider,
			"operation":     operation,
			"remote_status": remoteStatus,
			"remote_body":   truncateBody(remoteBody),
		},
	)
}

func NewConnectorConstructionFailedError(name string, userEmail string, cause error) *goerrors.Error {
	return wrapKindError(
		cause,
		fmt.Sprintf("connector %q could not be created", name),
		goerrors.CategoryOperation,
		ErrorConnectorConstructionFailed,
		http.StatusBadGateway,
		map[string]any{"connector": name, "user_email": userEmail},
	)
}

func NewStorageUnavailableError(operation string, cause error) *goerrors.Error {
	return wrapKindError(
		cause,
		fmt.Sprintf("credential storage unavailable during %s", operation),
		goerrors.CategoryInternal,
		ErrorStorageUnavailable,
		http.StatusServiceUnavailable,
		map[string]any{"operation": operation},
	)
}

func NewUnsupportedOperationError(name string, operation Operation, capability Capability) *goerrors.Error {
	return newKindError(
		fmt.Sprintf("connector %q (%s) does not support %s", name, capability, operation),
		goerrors.CategoryOperation,
		ErrorUnsupportedOperation,
		http.StatusBadRequest,
		map[string]any{
			"connector":  name,
			"operation":  string(operation),
			"capability": string(capability),
		},
	)
}

func NewOAuthStateInvalidError(provider string, reason string) *goerrors.Error {
	return newKindError(
		fmt.Sprintf("oauth state rejected: %s", reason),
		goerrors.CategoryAuth,
		ErrorOAuthStateInvalid,
		http.StatusUnauthorized,
		map[string]any{"provider": provider},
	)
}

func NewBadInputError(message string) *goerrors.Error {
	return newKindError(message, goerrors.CategoryBadInput, ErrorBadInput, http.StatusBadRequest, nil)
}

// ErrorCode returns the stable text code for err, or "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	mapped := MapError(err)
	if mapped == nil {
		return ""
	}
	return mapped.TextCode
}

// richTextCode reads the text code only when err already carries one.
func richTextCode(err error) string {
	var richErr *goerrors.Error
	if err != nil && goerrors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// MapError normalizes any error into the go-errors envelope used by this package.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		return NewRemoteTimeoutError("", "request", err)
	case errors.Is(err, context.Canceled):
		return wrapKindError(err, "operation canceled", goerrors.CategoryOperation, ErrorInternal, 499, nil)
	}
	if status, body := remoteStatus(err); status != 0 {
		return NewRemoteRejectedError("", "request", status, body)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return wrapKindError(err, err.Error(), goerrors.CategoryBadInput, ErrorBadInput, http.StatusBadRequest, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorUnknownProvider
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorNoValidCredential
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return ErrorRemoteRejected
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
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

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTimeout reports whether err came from a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return true
	}
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == ErrorRemoteTimeout
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= maxRemoteBodyInError {
		return body
	}
	return body[:maxRemoteBodyInError]
}
