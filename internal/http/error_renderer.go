package httpx

import (
	"log/slog"
	"net/http"

	apperrors "github.com/target/rolegate/internal/errors"
)

// statusFor maps an application error code to an HTTP status.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeInvalidCredentials, apperrors.ErrCodeOAuthExchangeFailed,
		apperrors.ErrCodeSessionExpired, apperrors.ErrCodeSessionNotFound:
		return http.StatusUnauthorized
	case apperrors.ErrCodeMethodDisabled:
		return http.StatusForbidden
	case apperrors.ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// failureBody is the client-visible shape of every auth failure.
type failureBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RenderAuthError writes err as a failure response. Only the fixed message for
// the error's code reaches the client; the full chain is logged.
func RenderAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	code := apperrors.CodeOf(err)

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	if logger != nil {
		logger.Log(r.Context(), level, "auth request failed",
			"path", r.URL.Path,
			"status", status,
			"code", string(code),
			"error", err,
		)
	}

	WriteJSON(w, status, failureBody{
		Success: false,
		Error:   string(code),
		Message: apperrors.UserMessage(err),
	})
}
