package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/docslot/docslot/pkg/apperr"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid", apperr.Invalid("fee must be positive"), 400, "invalid_request"},
		{"past", apperr.ErrSlotInPast, 400, "slot_in_past"},
		{"forbidden", apperr.ErrNotAuthorized, 403, "not_authorized"},
		{"missing", apperr.NotFound("appointment"), 404, "not_found"},
		{"taken", fmt.Errorf("book: %w", apperr.ErrSlotTaken), 409, "slot_taken"},
		{"unavailable doctor", apperr.ErrDoctorUnavailable, 409, "doctor_unavailable"},
		{"store", apperr.ErrStoreUnavailable.WithError(errors.New("dial tcp")), 503, "store_unavailable"},
		{"raw", errors.New("pq: relation does not exist"), 500, "internal"},
		{"echo 401", echo.NewHTTPError(http.StatusUnauthorized, "invalid token"), 401, "unauthenticated"},
		{"echo 429", echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded"), 429, "rate_limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := Render(tt.err)
			if status != tt.wantStatus || body.Code != tt.wantCode {
				t.Errorf("Render() = %d %s, want %d %s", status, body.Code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestRender_HidesCause(t *testing.T) {
	_, body := Render(apperr.ErrStoreUnavailable.WithError(errors.New("password authentication failed for user docslot")))
	if strings.Contains(body.Message, "password") {
		t.Errorf("cause leaked into message: %q", body.Message)
	}
	_, body = Render(errors.New("secret detail"))
	if strings.Contains(body.Message, "secret") {
		t.Errorf("raw error leaked into message: %q", body.Message)
	}
}

func TestErrorHandler_WritesJSON(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/v1/appointments")
	ErrorHandler(zerolog.Nop())(apperr.ErrSlotTaken, c)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "slot_taken" || body.Message == "" {
		t.Errorf("unexpected body %+v", body)
	}
}
