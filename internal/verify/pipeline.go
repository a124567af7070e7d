// Package verify orchestrates the validation pipeline: decrypt, structural
// checks, round/nonce ownership, anti-replay, consumption, advance.
//
// Stages run in a fixed order and short-circuit; each stage reports a distinct
// Outcome so failures stay observable independently while the user only ever
// sees the coarse code.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"code.rollmark.org/golang/internal/login"
	"code.rollmark.org/golang/internal/observability"
	"code.rollmark.org/golang/internal/pool"
	"code.rollmark.org/golang/internal/qrpayload"
	"code.rollmark.org/golang/internal/rounds"
)

// ScanResponse is what a student device sends back each round: the original
// payload it decrypted, wrapped with its identity and receive timestamp, the
// whole re-encrypted under the session key.
type ScanResponse struct {
	Payload    qrpayload.Payload `json:"payload"`
	StudentID  int64             `json:"student_id"`
	ReceivedAt int64             `json:"received_at"`
}

// Check returns an error if the ScanResponse is not structurally valid.
func (self ScanResponse) Check() error {
	if self.StudentID <= 0 {
		return newError("invalid student id %d <= 0", self.StudentID)
	}
	if self.ReceivedAt <= 0 {
		return newError("invalid receive timestamp %d", self.ReceivedAt)
	}
	return nil
}

// IssuedQR is a freshly generated challenge.
type IssuedQR struct {
	Payload   qrpayload.Payload `json:"payload"`
	Encrypted string            `json:"encrypted"`
}

// Result is the pipeline verdict.
type Result struct {
	Outcome   Outcome       `json:"outcome"`
	State     rounds.State  `json:"state"`
	Completed bool          `json:"completed"`
	Stats     *Stats        `json:"stats,omitempty"`
	NextQR    *IssuedQR     `json:"next_qr,omitempty"`
}

// Pipeline wires the collaborators of the validation sequence.
type Pipeline struct {
	Rounds   *rounds.Service
	Payloads *qrpayload.Store
	Pool     *pool.Pool
	Login    *login.Flow
}

// NewPipeline validates the collaborator wiring and returns a Pipeline.
func NewPipeline(roundSvc *rounds.Service, payloads *qrpayload.Store, projection *pool.Pool, loginFlow *login.Flow) (*Pipeline, error) {
	if nil == roundSvc {
		return nil, newError("nil rounds Service")
	}
	if nil == payloads {
		return nil, newError("nil payload Store")
	}
	if nil == projection {
		return nil, newError("nil Pool")
	}
	if nil == loginFlow {
		return nil, newError("nil login Flow")
	}

	return &Pipeline{Rounds: roundSvc, Payloads: payloads, Pool: projection, Login: loginFlow}, nil
}

// Register enters the student into the session (idempotent) and makes sure a
// round 1 QR is live.
func (self *Pipeline) Register(ctx context.Context, sessionId string, studentId int64) (Result, error) {
	st, err := self.Rounds.Register(ctx, sessionId, studentId)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed registration")
	}
	if !st.Active() {
		return Result{Outcome: OutcomeSessionNotActive, State: st}, nil
	}
	if "" != st.ActiveNonce {
		// a QR is already in flight
		return Result{Outcome: OutcomeOK, State: st}, nil
	}

	return self.issue(ctx, st)
}

// RequestQR re-issues the current round challenge.
//
// When the active QR lapsed from the payload store the lapse burns an attempt
// (the implicit coupling made explicit: expiry is a state machine transition,
// not an exception side effect) before a fresh round 1 QR is issued.
func (self *Pipeline) RequestQR(ctx context.Context, sessionId string, studentId int64) (Result, error) {
	st, found, err := self.Rounds.Load(ctx, sessionId, studentId)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed state load")
	}
	if !found {
		return Result{Outcome: OutcomeNotRegistered}, nil
	}
	if !st.Active() {
		return Result{Outcome: OutcomeSessionNotActive, State: st}, nil
	}

	if "" != st.ActiveNonce {
		stillThere, err := self.payloadAlive(ctx, st.ActiveNonce)
		if nil != err {
			return Result{Outcome: OutcomeInternal}, wrapError(err, "failed active payload lookup")
		}
		if !stillThere {
			var res Result
			st, res, err = self.burnAttempt(ctx, st)
			if nil != err || OutcomeNoAttemptsLeft == res.Outcome {
				return res, err
			}
			// the fresh QR ships with the lapse verdict so the spent
			// attempt stays visible in the response code
			res, err = self.issue(ctx, st)
			if nil != err || OutcomeOK != res.Outcome {
				return res, err
			}
			res.Outcome = OutcomeQRExpired
			return res, nil
		}
	}

	return self.issue(ctx, st)
}

// Validate runs the scan validation sequence for the student response.
func (self *Pipeline) Validate(ctx context.Context, sessionId string, studentId int64, encryptedResponse string) (Result, error) {
	log := observability.GetObservability(ctx).Log().With("sessionId", sessionId, "studentId", studentId)

	// stage 1: decrypt with the student session key
	skey, haveKey, err := self.Login.Keys(ctx, studentId)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed session key lookup")
	}
	if !haveKey {
		log.Debug("scan rejected", "stage", "decrypt", "cause", "no session key")
		return Result{Outcome: OutcomeDecryptionFailed}, nil
	}
	plaintext, err := qrpayload.OpenBytes(encryptedResponse, skey.SessionKey)
	if nil != err {
		log.Debug("scan rejected", "stage", "decrypt")
		return Result{Outcome: OutcomeDecryptionFailed}, nil
	}

	// stage 2: response structure
	var resp ScanResponse
	err = json.Unmarshal(plaintext, &resp)
	if nil != err || nil != resp.Check() || resp.StudentID != studentId {
		log.Debug("scan rejected", "stage", "response format")
		return Result{Outcome: OutcomeInvalidFormat}, nil
	}

	// stage 3: embedded payload structure
	presented := resp.Payload
	err = presented.Check()
	if nil != err || presented.SID != sessionId {
		log.Debug("scan rejected", "stage", "payload format")
		return Result{Outcome: OutcomeInvalidFormat}, nil
	}

	// stage 4: round & nonce ownership
	st, found, err := self.Rounds.Load(ctx, sessionId, studentId)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed state load")
	}
	if !found {
		return Result{Outcome: OutcomeNotRegistered}, nil
	}
	if !st.Active() {
		return Result{Outcome: OutcomeSessionNotActive, State: st}, nil
	}
	if presented.R < st.CurrentRound {
		return Result{Outcome: OutcomeRoundAlreadyCompleted, State: st}, nil
	}
	if presented.R > st.CurrentRound {
		return Result{Outcome: OutcomeRoundNotReached, State: st}, nil
	}
	if presented.N != st.ActiveNonce {
		return Result{Outcome: OutcomeQRNotActive, State: st}, nil
	}

	// stage 5: anti-replay store validation
	err = self.Payloads.Validate(ctx, presented)
	if nil != err {
		switch {
		case errors.Is(err, qrpayload.ErrNotFound):
			// the lapse spends an attempt
			var res Result
			st, res, err = self.burnAttempt(ctx, st)
			if nil != err {
				return res, err
			}
			if OutcomeNoAttemptsLeft == res.Outcome {
				return res, nil
			}
			return Result{Outcome: OutcomeQRExpired, State: st}, nil
		case errors.Is(err, qrpayload.ErrConsumed):
			return Result{Outcome: OutcomeAlreadyConsumed, State: st}, nil
		case errors.Is(err, qrpayload.ErrMismatch):
			log.Warn("payload field tampering detected")
			return Result{Outcome: OutcomeInvalidFormat, State: st}, nil
		default:
			return Result{Outcome: OutcomeInternal}, wrapError(err, "failed anti-replay validation")
		}
	}

	// stage 6: consume, single check-and-set
	spent, err := self.Payloads.Consume(ctx, presented.N, studentId)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed consumption")
	}
	if !spent {
		return Result{Outcome: OutcomeAlreadyConsumed, State: st}, nil
	}

	// stages 7 & 8: response time, advance
	validatedAt := time.Now().UnixMilli()
	st, err = st.CompleteRound(rounds.RoundResult{
		Round:          presented.R,
		ResponseTimeMs: validatedAt - presented.TS,
		ValidatedAt:    validatedAt,
		Nonce:          presented.N,
	})
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed round completion")
	}

	if rounds.StatusCompleted == st.Status {
		err = self.Rounds.Save(ctx, st)
		if nil != err {
			return Result{Outcome: OutcomeInternal}, wrapError(err, "failed state persistence")
		}
		stats := ComputeStats(st.RoundsCompleted)
		log.Info("attendance proof completed", "rounds", st.MaxRounds, "certainty", stats.Certainty)
		return Result{Outcome: OutcomeOK, State: st, Completed: true, Stats: &stats}, nil
	}

	return self.issue(ctx, st)
}

// issue builds, stores and publishes the QR of the state's current round, then
// persists the state with the new active nonce.
func (self *Pipeline) issue(ctx context.Context, st rounds.State) (Result, error) {
	skey, haveKey, err := self.Login.Keys(ctx, st.StudentID)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed session key lookup")
	}
	if !haveKey {
		return Result{Outcome: OutcomeDecryptionFailed, State: st}, nil
	}

	payload, err := qrpayload.Build(qrpayload.BuildParams{
		SessionID: st.SessionID,
		SubjectID: st.StudentID,
		Round:     st.CurrentRound,
	})
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed payload build")
	}
	sealed, err := qrpayload.Seal(payload, skey.SessionKey)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed payload sealing")
	}
	err = self.Payloads.Put(ctx, payload, sealed)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed payload storage")
	}
	err = self.Pool.Publish(ctx, st.SessionID, pool.Entry{
		Encrypted: sealed,
		StudentID: st.StudentID,
		Round:     payload.R,
		CreatedAt: payload.TS,
	})
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed pool publication")
	}

	st = st.WithActiveQR(payload.N, payload.TS)
	err = self.Rounds.Save(ctx, st)
	if nil != err {
		return Result{Outcome: OutcomeInternal}, wrapError(err, "failed state persistence")
	}

	return Result{
		Outcome: OutcomeOK,
		State:   st,
		NextQR:  &IssuedQR{Payload: payload, Encrypted: sealed},
	}, nil
}

// burnAttempt applies the expiry transition and persists the result.
func (self *Pipeline) burnAttempt(ctx context.Context, st rounds.State) (rounds.State, Result, error) {
	next, err := st.FailRound(rounds.FailReasonExpired)
	if nil != err {
		return st, Result{Outcome: OutcomeInternal}, wrapError(err, "failed expiry transition")
	}
	err = self.Rounds.Save(ctx, next)
	if nil != err {
		return st, Result{Outcome: OutcomeInternal}, wrapError(err, "failed state persistence")
	}
	if rounds.StatusFailed == next.Status {
		return next, Result{Outcome: OutcomeNoAttemptsLeft, State: next}, nil
	}

	return next, Result{Outcome: OutcomeQRExpired, State: next}, nil
}

func (self *Pipeline) payloadAlive(ctx context.Context, nonce string) (bool, error) {
	probe := qrpayload.Payload{N: nonce}
	err := self.Payloads.Validate(ctx, probe)
	switch {
	case nil == err:
		// Validate compares fields; a bare probe can only reach the mismatch
		// stage when the record exists
		return true, nil
	case errors.Is(err, qrpayload.ErrMismatch), errors.Is(err, qrpayload.ErrConsumed):
		return true, nil
	case errors.Is(err, qrpayload.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
