package enroll

import (
	"code.rollmark.org/golang/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("enroll: error")

	ErrChallengePending    = errorFlag("enroll: challenge already pending")
	ErrChallengeNotFound   = errorFlag("enroll: challenge not found")
	ErrChallengeExpired    = errorFlag("enroll: challenge expired")
	ErrPenaltyActive       = errorFlag("enroll: penalty window active")
	ErrVerificationFailed  = errorFlag("enroll: attestation verification failed")
	ErrAAGUIDNotAuthorized = errorFlag("enroll: authenticator model not authorized")
	ErrCredentialExists    = errorFlag("enroll: credential already exists")

	noError = errorFlag("")
)

// Error implements the error interface.
func (self errorFlag) Error() string {
	return string(self)
}

func (self errorFlag) Unwrap() error {
	if Error == self || noError == self {
		return nil
	}
	return Error
}

// newError returns a utils.TracedErr{} that contains file & line of where it was called.
func newError(msg string, args ...any) error {
	return utils.NewError(1, Error, msg, args...)
}

// wrapError returns a utils.TracedErr{} that contains file & line of where it was called.
func wrapError(cause error, msg string, args ...any) error {
	return utils.WrapError(cause, 1, Error, msg, args...)
}
