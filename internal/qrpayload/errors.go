package qrpayload

import (
	"code.rollmark.org/golang/internal/utils"
)

// errorFlag is a private error type that allows declaring error constants.
type errorFlag string

const (
	// All package errors are wrapping Error
	Error = errorFlag("qrpayload: error")

	// ErrMalformed flags a payload that fails structural validation.
	ErrMalformed = errorFlag("qrpayload: malformed payload")

	// ErrOpenFailed flags a sealed string that can not be decrypted with the
	// provided key. Decoy payloads fail with this flag for every key.
	ErrOpenFailed = errorFlag("qrpayload: decryption failed")

	// ErrNotFound flags a nonce that is absent from the store. Expiry and absence
	// are indistinguishable, both are a normal protocol outcome.
	ErrNotFound = errorFlag("qrpayload: payload not found or expired")

	// ErrConsumed flags a nonce that was already spent.
	ErrConsumed = errorFlag("qrpayload: payload already consumed")

	// ErrMismatch flags a presented payload whose fields differ from the stored
	// original.
	ErrMismatch = errorFlag("qrpayload: payload does not match stored original")

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
