package auth

import "errors"

var (
	// ErrInvalidCredentials is terminal: the password-verification endpoint
	// rejected the email/password pair. Retrying without new input is useless.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrOTPRequired is returned when phase 2 needs a one-time password and
	// no resolver is configured to fetch one.
	ErrOTPRequired = errors.New("auth: otp required")

	// ErrInvalidOTP means the submitted code was wrong or expired. The caller
	// may resolve a fresh code and retry a bounded number of times.
	ErrInvalidOTP = errors.New("auth: invalid otp code")

	ErrTokenExpired     = errors.New("auth: token expired")
	ErrTokenNotFound    = errors.New("auth: token not found")
	ErrNotAuthenticated = errors.New("auth: not authenticated")

	// ErrUnauthorized is surfaced when an authenticated call still gets a 401
	// after the single permitted refresh-and-retry.
	ErrUnauthorized = errors.New("auth: unauthorized")
)
