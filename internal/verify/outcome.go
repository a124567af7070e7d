package verify

// Outcome is the closed set of validation pipeline results.
//
// Every pipeline stage reports its failure as one of these kinds; expected
// protocol conditions are values, never errors. The transport boundary maps the
// enum exhaustively to user-facing codes, so an unmapped kind is a compile-time
// visible omission rather than a silent generic error.
type Outcome int

const (
	OutcomeOK Outcome = iota

	// OutcomeDecryptionFailed: no live session key, or the AEAD rejected the
	// response ciphertext.
	OutcomeDecryptionFailed

	// OutcomeInvalidFormat: the decrypted response or its embedded payload fails
	// structural validation, or the payload fields were tampered with.
	OutcomeInvalidFormat

	// OutcomeNotRegistered: the student never registered in the session, or the
	// session lapsed.
	OutcomeNotRegistered

	// OutcomeSessionNotActive: the student state is already terminal.
	OutcomeSessionNotActive

	// OutcomeRoundNotReached: the presented round is ahead of the state machine.
	OutcomeRoundNotReached

	// OutcomeRoundAlreadyCompleted: the presented round is behind the state
	// machine.
	OutcomeRoundAlreadyCompleted

	// OutcomeQRNotActive: right round, but the nonce is not the active one (a
	// superseded QR).
	OutcomeQRNotActive

	// OutcomeQRExpired: the payload lapsed from the store. This burns an attempt.
	OutcomeQRExpired

	// OutcomeAlreadyConsumed: the nonce was already spent.
	OutcomeAlreadyConsumed

	// OutcomeNoAttemptsLeft: the attempt burned by the expiry was the last one.
	OutcomeNoAttemptsLeft

	// OutcomeInternal: infrastructure fault (store, collaborator). Logged with
	// context, never swallowed.
	OutcomeInternal
)

// Code returns the coarse user-facing code of the Outcome. The code
// deliberately does not reveal which specific nonce/round check failed.
func (self Outcome) Code() string {
	switch self {
	case OutcomeOK:
		return "OK"
	case OutcomeDecryptionFailed:
		return "DECRYPTION_FAILED"
	case OutcomeInvalidFormat:
		return "INVALID_FORMAT"
	case OutcomeNotRegistered:
		return "NOT_REGISTERED"
	case OutcomeSessionNotActive:
		return "SESSION_NOT_ACTIVE"
	case OutcomeRoundNotReached:
		return "ROUND_NOT_REACHED"
	case OutcomeRoundAlreadyCompleted:
		return "ROUND_ALREADY_COMPLETED"
	case OutcomeQRNotActive:
		return "QR_NOT_ACTIVE"
	case OutcomeQRExpired:
		return "PAYLOAD_NOT_FOUND_OR_EXPIRED"
	case OutcomeAlreadyConsumed:
		return "PAYLOAD_ALREADY_CONSUMED"
	case OutcomeNoAttemptsLeft:
		return "NO_ATTEMPTS_LEFT"
	case OutcomeInternal:
		return "INTERNAL_ERROR"
	}
	return "INTERNAL_ERROR"
}

// Terminal reports whether the client should stop retrying.
func (self Outcome) Terminal() bool {
	switch self {
	case OutcomeNoAttemptsLeft, OutcomeSessionNotActive:
		return true
	}
	return false
}
