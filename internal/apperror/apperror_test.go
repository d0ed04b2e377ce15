package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	upstreamCause := errors.New("dial tcp: connection refused")

	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("reader", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "email is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("account", "abc123"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("login required"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "Upstream wraps ErrUpstream",
			err:       Upstream("github exchange", upstreamCause),
			target:    ErrUpstream,
			wantMatch: true,
		},
		{
			name:      "Upstream also exposes its cause",
			err:       Upstream("github exchange", upstreamCause),
			target:    upstreamCause,
			wantMatch: true,
		},
		{
			name:      "wrapped twice still matches",
			err:       fmt.Errorf("service: %w", fmt.Errorf("repo: %w", NotFound("reader", "x"))),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("reader", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Forbidden does NOT match ErrUnauthorized",
			err:       Forbidden("owner only"),
			target:    ErrUnauthorized,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("reader", "abc123"),
			wantMessage: "reader not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("text", "text is required"),
			wantMessage: "text is required",
		},
		{
			name:        "Upstream keeps the cause in Error but not in Message",
			err:         Upstream("qq exchange", errors.New("timeout")),
			wantMessage: "qq exchange failed: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUpstreamMessageIsGeneric(t *testing.T) {
	err := Upstream("github exchange", errors.New("secret=abc rejected"))
	if err.Message != "github exchange failed" {
		t.Errorf("Message = %q, want generic text", err.Message)
	}
}

func TestAsExtractsAppError(t *testing.T) {
	err := fmt.Errorf("handler: %w", Forbidden("owner only"))

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As() did not find *AppError")
	}
	if appErr.Message != "owner only" {
		t.Errorf("Message = %q, want %q", appErr.Message, "owner only")
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}
