package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth pipeline and the development backend
var (
	// Session errors
	ErrNoAccessToken  = errors.New("no access token")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrSessionStore   = errors.New("session store failure")

	// Refresh errors
	ErrRefreshRejected          = errors.New("refresh rejected")
	ErrMalformedRefreshResponse = errors.New("malformed refresh response")
	ErrRefreshTimeout           = errors.New("refresh wait timed out")
	ErrRefreshFailed            = errors.New("refresh failed")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// OTP errors
	ErrInvalidOTP = errors.New("invalid one-time code")
	ErrOTPExpired = errors.New("one-time code expired")

	// General errors
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
