// Package rounds implements the per (session, student) multi round state machine.
//
// Transition functions are pure: they take a State value, return the successor
// value and perform no I/O. All persistence goes through Service which keeps the
// authoritative copy in the ephemeral store, so correctness survives process
// restarts and multiple server instances.
package rounds

import (
	"slices"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// FailReasonExpired is the reason recorded when an unscanned QR lapses and burns
// an attempt.
const FailReasonExpired = "QR_EXPIRED"

// RoundResult records one successfully validated round.
type RoundResult struct {
	Round          int    `json:"round" cbor:"1,keyasint"`
	ResponseTimeMs int64  `json:"response_time_ms" cbor:"2,keyasint"`
	ValidatedAt    int64  `json:"validated_at" cbor:"3,keyasint"`
	Nonce          string `json:"nonce" cbor:"4,keyasint"`
}

// State is the attendance proof progress of one student in one session.
//
// Invariants: StatusCompleted implies len(RoundsCompleted) == MaxRounds;
// StatusFailed implies CurrentAttempt == MaxAttempts, with the rounds of the
// failing attempt retained for audit.
type State struct {
	StudentID       int64         `json:"student_id" cbor:"1,keyasint"`
	SessionID       string        `json:"session_id" cbor:"2,keyasint"`
	CurrentRound    int           `json:"current_round" cbor:"3,keyasint"`
	MaxRounds       int           `json:"max_rounds" cbor:"4,keyasint"`
	RoundsCompleted []RoundResult `json:"rounds_completed" cbor:"5,keyasint"`
	CurrentAttempt  int           `json:"current_attempt" cbor:"6,keyasint"`
	MaxAttempts     int           `json:"max_attempts" cbor:"7,keyasint"`
	ActiveNonce     string        `json:"active_qr_nonce,omitempty" cbor:"8,keyasint,omitempty"`
	QRGeneratedAt   int64         `json:"qr_generated_at,omitempty" cbor:"9,keyasint,omitempty"`
	Status          string        `json:"status" cbor:"10,keyasint"`
	FailReason      string        `json:"fail_reason,omitempty" cbor:"11,keyasint,omitempty"`
}

// NewState returns the initial State: round 1, attempt 1, active.
func NewState(studentId int64, sessionId string, maxRounds, maxAttempts int) (State, error) {
	if studentId <= 0 {
		return State{}, newError("invalid studentId %d <= 0", studentId)
	}
	if "" == sessionId {
		return State{}, newError("empty sessionId")
	}
	if maxRounds < 1 {
		return State{}, newError("invalid maxRounds %d < 1", maxRounds)
	}
	if maxAttempts < 1 {
		return State{}, newError("invalid maxAttempts %d < 1", maxAttempts)
	}

	return State{
		StudentID:      studentId,
		SessionID:      sessionId,
		CurrentRound:   1,
		MaxRounds:      maxRounds,
		CurrentAttempt: 1,
		MaxAttempts:    maxAttempts,
		Status:         StatusActive,
	}, nil
}

// Active reports whether the State accepts further rounds.
func (self State) Active() bool {
	return StatusActive == self.Status
}

// CompleteRound appends res and advances the machine.
//
// The active nonce is cleared. When res completes the last round the State turns
// StatusCompleted, otherwise CurrentRound is incremented.
func (self State) CompleteRound(res RoundResult) (State, error) {
	if !self.Active() {
		return self, wrapError(ErrTerminal, "state is %s", self.Status)
	}
	if res.Round != self.CurrentRound {
		return self, newError("result round %d != current round %d", res.Round, self.CurrentRound)
	}

	next := self
	next.RoundsCompleted = append(slices.Clone(self.RoundsCompleted), res)
	next.ActiveNonce = ""
	next.QRGeneratedAt = 0

	if len(next.RoundsCompleted) == next.MaxRounds {
		next.Status = StatusCompleted
	} else {
		next.CurrentRound += 1
	}

	return next, nil
}

// FailRound spends an attempt.
//
// With attempts remaining the full round sequence restarts: CurrentRound resets
// to 1 and the partial progress of the failed attempt is discarded. With no
// attempt left the State turns StatusFailed and keeps the failing attempt's
// rounds for audit.
func (self State) FailRound(reason string) (State, error) {
	if !self.Active() {
		return self, wrapError(ErrTerminal, "state is %s", self.Status)
	}

	next := self
	next.ActiveNonce = ""
	next.QRGeneratedAt = 0
	next.FailReason = reason

	if next.CurrentAttempt < next.MaxAttempts {
		next.CurrentAttempt += 1
		next.CurrentRound = 1
		next.RoundsCompleted = nil
	} else {
		next.Status = StatusFailed
	}

	return next, nil
}

// WithActiveQR returns the State with the freshly issued QR recorded.
func (self State) WithActiveQR(nonce string, generatedAtMs int64) State {
	next := self
	next.ActiveNonce = nonce
	next.QRGeneratedAt = generatedAtMs
	return next
}

// AttemptsLeft reports whether a further attempt remains after a failure.
func (self State) AttemptsLeft() bool {
	return self.CurrentAttempt < self.MaxAttempts
}
