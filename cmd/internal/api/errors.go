package api

import (
	"errors"
	"net/http"

	"picked/cmd/internal/auth"
	"picked/cmd/internal/messaging"
)

// errSampleProfile rejects conversations with seeded demo profiles.
var errSampleProfile = errors.New("sample profiles cannot be messaged")

// statusFor maps an error onto an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errSampleProfile):
		return http.StatusConflict, "sample_profile"
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	}

	switch messaging.Kind(err) {
	case messaging.ErrNotAuthenticated:
		return http.StatusUnauthorized, "unauthorized"
	case messaging.ErrNotAuthorized:
		return http.StatusForbidden, "forbidden"
	case messaging.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case messaging.ErrSelfConversation:
		return http.StatusBadRequest, "self_conversation"
	case messaging.ErrEmptyMessage:
		return http.StatusBadRequest, "empty_message"
	case messaging.ErrInvalidInput:
		return http.StatusBadRequest, "invalid_input"
	case messaging.ErrTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case messaging.ErrStore:
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// publicMessage hides store causes from clients.
func publicMessage(status int, err error) string {
	if status >= 500 {
		return http.StatusText(status)
	}
	if k := messaging.Kind(err); k != nil {
		return k.Error()
	}
	return err.Error()
}
