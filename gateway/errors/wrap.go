package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapGatewayError wraps an error as a GatewayError if it isn't already one
func WrapGatewayError(err error, code ErrorCode, message string) *GatewayError {
	if err == nil {
		return nil
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		gwErr.WithContext("wrapped_message", message)
		return gwErr
	}

	return New(code, message, err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// HasCode reports whether err is a GatewayError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code == code
	}
	return false
}

// CodeOf returns the error code, INTERNAL for foreign errors.
func CodeOf(err error) ErrorCode {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return ErrCodeInternal
}

// StatusOf returns the HTTP status callers should see for err.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return StatusForCode(CodeOf(err))
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.IsRetryable()
	}
	return false
}
