// Package pool implements the projection pool: one live encrypted QR per
// registered student mixed with undecryptable decoys, emitted round-robin so an
// observer can not tell a real code from noise.
package pool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"code.rollmark.org/golang/internal/qrpayload"
	"code.rollmark.org/golang/internal/store"
)

// DefaultTTL bounds pool slot life, aligned on the session duration.
const DefaultTTL = 4 * time.Hour

// Entry is one rotation slot. StudentID zero marks a decoy.
type Entry struct {
	ID        string `json:"id" cbor:"1,keyasint"`
	Encrypted string `json:"encrypted" cbor:"2,keyasint"`
	StudentID int64  `json:"student_id" cbor:"3,keyasint"`
	Round     int    `json:"round" cbor:"4,keyasint"`
	CreatedAt int64  `json:"created_at" cbor:"5,keyasint"`
	Fake      bool   `json:"fake" cbor:"6,keyasint"`
}

// Pool holds per session rotation state in the ephemeral store.
//
// Every student slot is a single key (concurrent upserts from different students
// never collide) and emission order comes from a shared counter advanced with an
// atomic increment. The slot list itself is maintained with a check-and-swap
// append; a lost append is repaired on the next Publish for that student, which
// is the approximate fairness the protocol accepts instead of a distributed
// lock.
type Pool struct {
	KV        store.Store
	TTL       time.Duration
	MaxRounds int
}

// New returns a Pool. ttl <= 0 selects DefaultTTL.
func New(kv store.Store, maxRounds int, ttl time.Duration) (*Pool, error) {
	if nil == kv {
		return nil, newError("nil KV store")
	}
	if maxRounds < 1 {
		return nil, newError("invalid maxRounds %d < 1", maxRounds)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Pool{KV: kv, TTL: ttl, MaxRounds: maxRounds}, nil
}

// Publish upserts the live entry of entry.StudentID in the sessionId pool.
// The previous QR of that student is implicitly retired by the overwrite.
func (self *Pool) Publish(ctx context.Context, sessionId string, entry Entry) error {
	if entry.StudentID <= 0 {
		return newError("invalid StudentID %d <= 0", entry.StudentID)
	}
	if "" == entry.ID {
		entry.ID = uuid.New().String()
	}
	if 0 == entry.CreatedAt {
		entry.CreatedAt = time.Now().UnixMilli()
	}

	slot := fmt.Sprintf("s:%d", entry.StudentID)
	err := self.KV.SetTTL(ctx, slotKey(sessionId, slot), entry, self.TTL)
	if nil != err {
		return wrapError(err, "failed slot write")
	}

	return self.addSlot(ctx, sessionId, slot)
}

// Seed adds count decoy entries to the sessionId pool. Each decoy carries a
// random round and a permanently undecryptable ciphertext.
func (self *Pool) Seed(ctx context.Context, sessionId string, count int) error {
	for pos := 0; pos < count; pos += 1 {
		round := 1 + rand.IntN(self.MaxRounds)
		payload, err := qrpayload.Build(qrpayload.BuildParams{
			SessionID: sessionId,
			SubjectID: 0,
			Round:     round,
		})
		if nil != err {
			return wrapError(err, "failed decoy payload build")
		}
		sealed, err := qrpayload.SealDecoy(payload)
		if nil != err {
			return wrapError(err, "failed decoy sealing")
		}

		entry := Entry{
			ID:        uuid.New().String(),
			Encrypted: sealed,
			StudentID: 0,
			Round:     round,
			CreatedAt: time.Now().UnixMilli(),
			Fake:      true,
		}
		slot := "d:" + entry.ID
		err = self.KV.SetTTL(ctx, slotKey(sessionId, slot), entry, self.TTL)
		if nil != err {
			return wrapError(err, "failed decoy slot write")
		}
		err = self.addSlot(ctx, sessionId, slot)
		if nil != err {
			return wrapError(err, "failed decoy slot indexing")
		}
	}

	return nil
}

// Emit returns the next entry of the sessionId rotation.
//
// The cursor is advanced with an atomic increment; two concurrent emitters may
// observe a skipped or repeated slot, which only dents fairness, never
// correctness. An empty pool yields a synthetic waiting entry so the projection
// never stalls.
func (self *Pool) Emit(ctx context.Context, sessionId string) (Entry, error) {
	slots, err := self.slots(ctx, sessionId)
	if nil != err {
		return Entry{}, wrapError(err, "failed loading slot list")
	}

	if 0 == len(slots) {
		return self.waiting(sessionId)
	}

	cursor, err := self.KV.Incr(ctx, cursorKey(sessionId), self.TTL)
	if nil != err {
		return Entry{}, wrapError(err, "failed advancing cursor")
	}

	// walk at most one full rotation past expired slots
	for pos := range slots {
		slot := slots[(int(cursor)+pos)%len(slots)]
		var entry Entry
		found, err := self.KV.Get(ctx, slotKey(sessionId, slot), &entry)
		if nil != err {
			return Entry{}, wrapError(err, "failed loading slot %s", slot)
		}
		if found {
			return entry, nil
		}
	}

	return self.waiting(sessionId)
}

// waiting builds the synthetic entry emitted while the pool has no live slot.
func (self *Pool) waiting(sessionId string) (Entry, error) {
	payload, err := qrpayload.Build(qrpayload.BuildParams{
		SessionID: sessionId,
		SubjectID: 0,
		Round:     1,
	})
	if nil != err {
		return Entry{}, wrapError(err, "failed waiting payload build")
	}
	sealed, err := qrpayload.SealDecoy(payload)
	if nil != err {
		return Entry{}, wrapError(err, "failed waiting payload sealing")
	}

	return Entry{
		ID:        uuid.New().String(),
		Encrypted: sealed,
		StudentID: 0,
		Round:     1,
		CreatedAt: time.Now().UnixMilli(),
		Fake:      true,
	}, nil
}

func (self *Pool) slots(ctx context.Context, sessionId string) ([]string, error) {
	var rv []string
	_, err := self.KV.Get(ctx, slotsKey(sessionId), &rv)
	return rv, err
}

// addSlot appends slot to the session slot list if absent.
func (self *Pool) addSlot(ctx context.Context, sessionId string, slot string) error {
	// bounded retry, a lost append is repaired by the next Publish
	for range 4 {
		var cur []string
		found, err := self.KV.Get(ctx, slotsKey(sessionId), &cur)
		if nil != err {
			return wrapError(err, "failed loading slot list")
		}
		if slices.Contains(cur, slot) {
			return nil
		}
		next := append(slices.Clone(cur), slot)
		if !found {
			err = self.KV.SetTTL(ctx, slotsKey(sessionId), next, self.TTL)
			return wrapError(err, "failed slot list creation") // nil if err is nil...
		}
		swapped, err := self.KV.CompareAndSwap(ctx, slotsKey(sessionId), cur, next)
		if nil != err {
			return wrapError(err, "failed slot list check-and-swap")
		}
		if swapped {
			return nil
		}
	}

	return newError("slot list contention, giving up on %s", slot)
}

func slotKey(sessionId, slot string) string {
	return fmt.Sprintf("pool:%s:%s", sessionId, slot)
}

func slotsKey(sessionId string) string {
	return fmt.Sprintf("pool:%s:slots", sessionId)
}

func cursorKey(sessionId string) string {
	return fmt.Sprintf("poolcur:%s", sessionId)
}
