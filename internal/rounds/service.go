package rounds

import (
	"context"
	"fmt"
	"time"

	"code.rollmark.org/golang/internal/store"
)

// DefaultSessionTTL bounds round state life. State expires with the session, it
// is never hard deleted.
const DefaultSessionTTL = 4 * time.Hour

// Service persists State in the ephemeral store under a composite
// (session, student) key.
type Service struct {
	KV          store.Store
	TTL         time.Duration
	MaxRounds   int
	MaxAttempts int
}

// NewService returns a Service. ttl <= 0 selects DefaultSessionTTL.
func NewService(kv store.Store, maxRounds, maxAttempts int, ttl time.Duration) (*Service, error) {
	if nil == kv {
		return nil, newError("nil KV store")
	}
	if maxRounds < 1 {
		return nil, newError("invalid maxRounds %d < 1", maxRounds)
	}
	if maxAttempts < 1 {
		return nil, newError("invalid maxAttempts %d < 1", maxAttempts)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &Service{KV: kv, TTL: ttl, MaxRounds: maxRounds, MaxAttempts: maxAttempts}, nil
}

// Register creates the initial State for (sessionId, studentId) or returns the
// existing one unchanged. Registration is idempotent.
func (self *Service) Register(ctx context.Context, sessionId string, studentId int64) (State, error) {
	st, found, err := self.Load(ctx, sessionId, studentId)
	if nil != err {
		return State{}, wrapError(err, "failed loading existing state")
	}
	if found {
		return st, nil
	}

	st, err = NewState(studentId, sessionId, self.MaxRounds, self.MaxAttempts)
	if nil != err {
		return State{}, wrapError(err, "failed creating state")
	}
	err = self.Save(ctx, st)
	if nil != err {
		return State{}, wrapError(err, "failed saving new state")
	}

	return st, nil
}

// Load reads the State of (sessionId, studentId).
// The bool flag is false if the student never registered or the session lapsed.
func (self *Service) Load(ctx context.Context, sessionId string, studentId int64) (State, bool, error) {
	var st State
	found, err := self.KV.Get(ctx, stateKey(sessionId, studentId), &st)
	if nil != err {
		return State{}, false, wrapError(err, "failed loading state")
	}
	return st, found, nil
}

// Save writes st, renewing the session TTL.
func (self *Service) Save(ctx context.Context, st State) error {
	err := self.KV.SetTTL(ctx, stateKey(st.SessionID, st.StudentID), st, self.TTL)
	return wrapError(err, "failed saving state") // nil if err is nil...
}

func stateKey(sessionId string, studentId int64) string {
	return fmt.Sprintf("round:%s:%d", sessionId, studentId)
}
