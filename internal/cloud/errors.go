package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cloud: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("cloud: %d: %s", e.Status, e.Message)
}

// InvalidCredentials reports whether a sign-in failed because the account
// does not exist or the password is wrong.
func (e *APIError) InvalidCredentials() bool {
	switch e.Code {
	case "invalid_grant", "invalid_credentials", "user_not_found":
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "invalid login credentials") || strings.Contains(msg, "user not found")
}

// IsInvalidCredentials unwraps err looking for a credentials rejection.
func IsInvalidCredentials(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.InvalidCredentials()
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var v any
	if json.Unmarshal(body, &v) == nil {
		if m, ok := v.(map[string]any); ok {
			for _, k := range []string{"error_code", "code", "error"} {
				if s, ok := m[k].(string); ok && s != "" {
					e.Code = s
					break
				}
			}
		}
		e.Message = extractMessage(v)
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// extractMessage digs a human-readable message out of the error shapes
// backends return: message, error_description, msg, a nested error or data
// object, or the first entry of an errors array.
func extractMessage(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return extractMessage(t[0])
		}
	case map[string]any:
		for _, k := range []string{"message", "error_description", "msg"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
		for _, k := range []string{"error", "data", "errors"} {
			if nested, ok := t[k]; ok {
				if s := extractMessage(nested); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// ErrorMessage renders err for display in sync status messages.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	for _, s := range []error{ErrNotAuthenticated, ErrNoSnapshot, ErrConfirmationRequired, ErrInvalidConfig} {
		if errors.Is(err, s) {
			return strings.TrimPrefix(s.Error(), "cloud: ")
		}
	}
	return err.Error()
}
