package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPhone indicates the phone number failed format validation.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidCode indicates the submitted code failed format validation.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrChallengeNotFound indicates no pending challenge exists for the phone.
	ErrChallengeNotFound = errors.New("verification code not found")

	// ErrChallengeExpired indicates the challenge outlived its TTL.
	ErrChallengeExpired = errors.New("verification code expired")

	// ErrAttemptsExhausted indicates the verify attempt budget is spent.
	ErrAttemptsExhausted = errors.New("too many verification attempts")

	// ErrUnauthorized indicates a missing, unknown, expired, or revoked token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPermissionDenied indicates the session belongs to another identity.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrIdentityInactive indicates the identity has been deactivated.
	ErrIdentityInactive = errors.New("identity is inactive")
)

// RateLimitedError carries the wait before the operation may be retried.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// CodeMismatchError reports a wrong code along with the remaining budget.
type CodeMismatchError struct {
	RemainingAttempts int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("incorrect verification code, %d attempts remaining", e.RemainingAttempts)
}

// SMSSendError reports a gateway delivery failure.
type SMSSendError struct {
	Status int
	Reason string
}

func (e *SMSSendError) Error() string {
	return fmt.Sprintf("failed to send SMS (status %d): %s", e.Status, e.Reason)
}
