package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeProtocol, "missing sessionId", 400)
	expected := "PROTOCOL_ERROR: missing sessionId"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("connection refused")
	err := WrapError(originalErr, ErrCodeTransport, "relay unreachable", 502)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !errors.Is(err, originalErr) {
		t.Errorf("errors.Is should match the wrapped cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewProtocolError("oversized payload")
	err.WithContext("limit", 65536).WithContext("size", 100000)

	if err.Context["limit"] != 65536 {
		t.Errorf("Context[limit] = %v, want 65536", err.Context["limit"])
	}
	if err.Context["size"] != 100000 {
		t.Errorf("Context[size] = %v, want 100000", err.Context["size"])
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("session")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.HTTPStatus != 404 {
		t.Errorf("HTTPStatus = %v, want 404", err.HTTPStatus)
	}
	if err.Message != "session not found" {
		t.Errorf("Message = %v, want 'session not found'", err.Message)
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError(42)
	if err.HTTPStatus != 429 {
		t.Errorf("HTTPStatus = %v, want 429", err.HTTPStatus)
	}
	if err.Context["retryAfter"] != 42 {
		t.Errorf("Context[retryAfter] = %v, want 42", err.Context["retryAfter"])
	}
}

func TestGetAppError_Wrapped(t *testing.T) {
	appErr := NewConflictError("session already exists")
	wrapped := fmt.Errorf("handling message: %w", appErr)

	got := GetAppError(wrapped)
	if got == nil {
		t.Fatal("GetAppError returned nil for wrapped AppError")
	}
	if got.Code != ErrCodeConflict {
		t.Errorf("Code = %v, want %v", got.Code, ErrCodeConflict)
	}
}

func TestGetAppError_Plain(t *testing.T) {
	if got := GetAppError(errors.New("plain")); got != nil {
		t.Errorf("GetAppError = %v, want nil", got)
	}
	if IsAppError(errors.New("plain")) {
		t.Error("IsAppError should be false for plain errors")
	}
}
