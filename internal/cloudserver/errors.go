package cloudserver

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// apiError is rendered as {"error": Code, "error_description": Message}.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

var (
	errInvalidGrant      = &apiError{http.StatusBadRequest, "invalid_grant", "Invalid login credentials"}
	errEmailNotConfirmed = &apiError{http.StatusBadRequest, "email_not_confirmed", "Email not confirmed"}
	errUserExists        = &apiError{http.StatusUnprocessableEntity, "user_already_exists", "User already registered"}
	errBadToken          = &apiError{http.StatusUnauthorized, "bad_jwt", "Invalid or expired token"}
	errMissingToken      = &apiError{http.StatusUnauthorized, "no_authorization", "Missing bearer token"}
	errBadAPIKey         = &apiError{http.StatusUnauthorized, "invalid_api_key", "Invalid API key"}
	errForbidden         = &apiError{http.StatusForbidden, "forbidden", "Access to another account is not allowed"}
	errNotFound          = &apiError{http.StatusNotFound, "not_found", "Object not found"}
)

func badRequest(msg string) *apiError {
	return &apiError{http.StatusBadRequest, "validation_failed", msg}
}

// httpErrorHandler writes every error as a JSON body the cloud client can
// unwrap. Unknown errors are logged and hidden behind a 500.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var (
		apiErr  *apiError
		httpErr *echo.HTTPError
		valErrs validator.ValidationErrors
		out     apiError
	)
	switch {
	case errors.As(err, &apiErr):
		out = *apiErr
	case errors.As(err, &valErrs):
		out = *badRequest(validationMessage(valErrs))
	case errors.As(err, &httpErr):
		out = apiError{Status: httpErr.Code, Code: "http_error", Message: http.StatusText(httpErr.Code)}
		if m, ok := httpErr.Message.(string); ok {
			out.Message = m
		}
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		out = apiError{http.StatusInternalServerError, "server_error", http.StatusText(http.StatusInternalServerError)}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(out.Status)
	} else {
		err = c.JSON(out.Status, echo.Map{"error": out.Code, "error_description": out.Message})
	}
	if err != nil {
		log.Error().Err(err).Msg("write error response")
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	fe := errs[0]
	switch fe.Tag() {
	case "email":
		return "Unable to validate email address: invalid format"
	case "min":
		return "Password should be at least " + fe.Param() + " characters"
	}
	return fe.Field() + " is invalid"
}
