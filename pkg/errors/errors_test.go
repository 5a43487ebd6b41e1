package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(20002, "send failed"),
			expected: "[20002] send failed",
		},
		{
			name:     "with wrapped error",
			err:      NewError(20002, "send failed").Wrap(errors.New("broken pipe")),
			expected: "[20002] send failed: broken pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestAppError_WrapKeepsIdentity(t *testing.T) {
	original := errors.New("context canceled")
	appErr := ErrUploadCancelled.Wrap(original)

	if appErr.Code != CodeUploadCancelled {
		t.Errorf("Expected code %d, got %d", CodeUploadCancelled, appErr.Code)
	}
	if errors.Unwrap(appErr) != original {
		t.Error("Expected unwrapped error to be the original error")
	}
	if ErrUploadCancelled.Err != nil {
		t.Error("Wrap must not mutate the predefined error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   *AppError
		expected bool
	}{
		{"same error", ErrUploadCancelled, ErrUploadCancelled, true},
		{"wrapped same error", ErrUploadCancelled.Wrap(errors.New("x")), ErrUploadCancelled, true},
		{"fmt wrapped", fmt.Errorf("task: %w", ErrUploadFailed), ErrUploadFailed, true},
		{"different error", ErrUploadFailed, ErrUploadCancelled, false},
		{"non-app error", errors.New("standard error"), ErrUploadCancelled, false},
		{"nil error", nil, ErrUploadCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	if got := GetCode(ErrInvalidCredentials.Wrap(errors.New("bcrypt"))); got != CodeInvalidCredentials {
		t.Errorf("Expected %d, got %d", CodeInvalidCredentials, got)
	}
	if got := GetCode(errors.New("plain")); got != CodeServerError {
		t.Errorf("Expected %d, got %d", CodeServerError, got)
	}
	if got := GetMessage(ErrNotParticipant); got != ErrNotParticipant.Message {
		t.Errorf("Expected '%s', got '%s'", ErrNotParticipant.Message, got)
	}
	if got := GetMessage(errors.New("plain")); got != "internal error" {
		t.Errorf("Expected 'internal error', got '%s'", got)
	}
}

func TestIsAuthentication(t *testing.T) {
	if !IsAuthentication(ErrInvalidCredentials) {
		t.Error("Expected invalid credentials to be an authentication error")
	}
	if !IsAuthentication(ErrEmailExists.Wrap(errors.New("dup"))) {
		t.Error("Expected wrapped email exists to be an authentication error")
	}
	if IsAuthentication(ErrSendFailed) {
		t.Error("Expected send failure not to be an authentication error")
	}
}
