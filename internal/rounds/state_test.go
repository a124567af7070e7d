package rounds

import (
	"errors"
	"testing"
)

func mustNewState(t *testing.T, maxRounds, maxAttempts int) State {
	t.Helper()
	st, err := NewState(42, "sess-1", maxRounds, maxAttempts)
	if nil != err {
		t.Fatalf("failed creating state, got error %v", err)
	}
	return st
}

func TestNewState(t *testing.T) {
	st := mustNewState(t, 3, 2)
	if 1 != st.CurrentRound || 1 != st.CurrentAttempt || StatusActive != st.Status {
		t.Errorf("failed initial state, got %+v", st)
	}

	bad := []struct {
		name        string
		studentId   int64
		sessionId   string
		maxRounds   int
		maxAttempts int
	}{
		{"zero student", 0, "sess-1", 3, 2},
		{"empty session", 42, "", 3, 2},
		{"zero rounds", 42, "sess-1", 0, 2},
		{"zero attempts", 42, "sess-1", 3, 0},
	}
	for _, tc := range bad {
		_, err := NewState(tc.studentId, tc.sessionId, tc.maxRounds, tc.maxAttempts)
		if nil == err {
			t.Errorf("%s: Oops, accepted invalid parameters", tc.name)
		}
	}
}

func TestCompleteRoundProgression(t *testing.T) {
	st := mustNewState(t, 3, 2)
	st = st.WithActiveQR("nonce-1", 1000)

	var err error
	for round := 1; round <= 3; round++ {
		st, err = st.CompleteRound(RoundResult{Round: round, ResponseTimeMs: 900})
		if nil != err {
			t.Fatalf("round %d: failed completing, got error %v", round, err)
		}
		if "" != st.ActiveNonce || 0 != st.QRGeneratedAt {
			t.Errorf("round %d: failed clearing active QR, got %+v", round, st)
		}
		if round < 3 {
			if round+1 != st.CurrentRound || StatusActive != st.Status {
				t.Errorf("round %d: failed advancing, got %+v", round, st)
			}
		}
	}

	if StatusCompleted != st.Status {
		t.Errorf("failed completing session, got status %q", st.Status)
	}
	if 3 != len(st.RoundsCompleted) {
		t.Errorf("failed recording rounds, got %d", len(st.RoundsCompleted))
	}
}

func TestCompleteRoundRejects(t *testing.T) {
	st := mustNewState(t, 3, 2)

	// wrong round number
	_, err := st.CompleteRound(RoundResult{Round: 2})
	if nil == err {
		t.Error("Oops, completed a round that was not reached")
	}

	// terminal state accepts nothing
	done := st
	done.Status = StatusCompleted
	_, err = done.CompleteRound(RoundResult{Round: 1})
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("failed terminal handling, got error %v", err)
	}
}

func TestCompleteRoundValueSemantics(t *testing.T) {
	st := mustNewState(t, 3, 2)
	next, err := st.CompleteRound(RoundResult{Round: 1})
	if nil != err {
		t.Fatalf("failed completing, got error %v", err)
	}
	if 0 != len(st.RoundsCompleted) || 1 != st.CurrentRound {
		t.Errorf("Oops, transition mutated its receiver, got %+v", st)
	}
	if 1 != len(next.RoundsCompleted) {
		t.Errorf("failed recording round, got %+v", next)
	}
}

func TestFailRoundRestartsSequence(t *testing.T) {
	st := mustNewState(t, 3, 2)

	// one round in, then a failure
	st, err := st.CompleteRound(RoundResult{Round: 1})
	if nil != err {
		t.Fatalf("failed completing, got error %v", err)
	}
	st = st.WithActiveQR("nonce-2", 2000)
	st, err = st.FailRound(FailReasonExpired)
	if nil != err {
		t.Fatalf("failed failing round, got error %v", err)
	}

	if StatusActive != st.Status {
		t.Errorf("failed restart, got status %q", st.Status)
	}
	if 2 != st.CurrentAttempt || 1 != st.CurrentRound {
		t.Errorf("failed restart, got attempt %d round %d", st.CurrentAttempt, st.CurrentRound)
	}
	if 0 != len(st.RoundsCompleted) {
		t.Errorf("failed discarding partial progress, got %d rounds", len(st.RoundsCompleted))
	}
	if "" != st.ActiveNonce {
		t.Errorf("failed clearing active QR, got %q", st.ActiveNonce)
	}
	if FailReasonExpired != st.FailReason {
		t.Errorf("failed recording reason, got %q", st.FailReason)
	}
}

func TestFailRoundTerminal(t *testing.T) {
	st := mustNewState(t, 3, 2)

	// burn the first attempt, progress one round in the second
	st, err := st.FailRound(FailReasonExpired)
	if nil != err {
		t.Fatalf("failed failing round, got error %v", err)
	}
	st, err = st.CompleteRound(RoundResult{Round: 1})
	if nil != err {
		t.Fatalf("failed completing, got error %v", err)
	}
	if st.AttemptsLeft() {
		t.Error("Oops, attempts left on the last attempt")
	}

	// last attempt failure is terminal and keeps the audit trail
	st, err = st.FailRound(FailReasonExpired)
	if nil != err {
		t.Fatalf("failed failing round, got error %v", err)
	}
	if StatusFailed != st.Status {
		t.Errorf("failed terminal failure, got status %q", st.Status)
	}
	if 1 != len(st.RoundsCompleted) {
		t.Errorf("failed retaining failing attempt rounds, got %d", len(st.RoundsCompleted))
	}

	_, err = st.FailRound(FailReasonExpired)
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("failed terminal handling, got error %v", err)
	}
}
