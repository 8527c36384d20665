package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/docslot/docslot/pkg/apperr"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var codeStatus = map[apperr.Code]int{
	apperr.CodeInvalidRequest:    http.StatusBadRequest,
	apperr.CodeSlotInPast:        http.StatusBadRequest,
	apperr.CodeNotAuthorized:     http.StatusForbidden,
	apperr.CodeNotFound:          http.StatusNotFound,
	apperr.CodeSlotTaken:         http.StatusConflict,
	apperr.CodeDoctorUnavailable: http.StatusConflict,
	apperr.CodeStoreUnavailable:  http.StatusServiceUnavailable,
}

// StatusOf returns the HTTP status an error will be rendered with.
func StatusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if status, ok := codeStatus[apperr.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Render converts err into the status and body sent to the client. Uncoded
// errors are reduced to a generic internal error.
func Render(err error) (int, ErrorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		if he.Code >= 500 {
			msg = "internal server error"
		}
		return he.Code, ErrorBody{Code: httpCode(he.Code), Message: msg}
	}

	pub := apperr.Public(err)
	return StatusOf(err), ErrorBody{Code: string(pub.Code), Message: pub.Message}
}

func httpCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return string(apperr.CodeNotAuthorized)
	case http.StatusNotFound:
		return string(apperr.CodeNotFound)
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return string(apperr.CodeStoreUnavailable)
	}
	if status >= 500 {
		return string(apperr.CodeInternal)
	}
	return string(apperr.CodeInvalidRequest)
}

// ErrorHandler is installed as echo's HTTPErrorHandler.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := Render(err)
		if status >= 500 && apperr.CodeOf(err) == apperr.CodeInternal {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(fmt.Errorf("write error response: %w", writeErr)).Send()
		}
	}
}
