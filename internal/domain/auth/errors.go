package auth

import apperrors "github.com/target/rolegate/internal/errors"

// Sentinel errors for the auth taxonomy. Adapters wrap them with a cause via
// apperrors.Wrap(cause, code, msg); callers match with errors.Is.
var (
	ErrInvalidCredentials  = apperrors.New(apperrors.ErrCodeInvalidCredentials, "invalid credentials")
	ErrMethodDisabled      = apperrors.New(apperrors.ErrCodeMethodDisabled, "authentication method disabled")
	ErrBackendUnavailable  = apperrors.New(apperrors.ErrCodeBackendUnavailable, "credential backend unavailable")
	ErrOAuthExchangeFailed = apperrors.New(apperrors.ErrCodeOAuthExchangeFailed, "oauth exchange failed")
	ErrSessionExpired      = apperrors.New(apperrors.ErrCodeSessionExpired, "session expired")
	ErrSessionNotFound     = apperrors.New(apperrors.ErrCodeSessionNotFound, "session not found")
)

// InvalidCredentials wraps cause as an invalid-credentials failure.
func InvalidCredentials(cause error) error {
	if cause == nil {
		return ErrInvalidCredentials
	}
	return apperrors.Wrap(cause, apperrors.ErrCodeInvalidCredentials, "invalid credentials")
}

// BackendUnavailable wraps cause as a backend-unavailable failure.
func BackendUnavailable(cause error) error {
	if cause == nil {
		return ErrBackendUnavailable
	}
	return apperrors.Wrap(cause, apperrors.ErrCodeBackendUnavailable, "credential backend unavailable")
}

// OAuthExchangeFailed wraps cause as a failed OAuth callback.
func OAuthExchangeFailed(cause error) error {
	if cause == nil {
		return ErrOAuthExchangeFailed
	}
	return apperrors.Wrap(cause, apperrors.ErrCodeOAuthExchangeFailed, "oauth exchange failed")
}
