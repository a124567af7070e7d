package qrpayload

import (
	"context"
	"time"

	"code.rollmark.org/golang/internal/store"
)

const keyPrefix = "qr:"

// DefaultTTL bounds the life of an unscanned QR. Expiry is the sole cleanup
// mechanism, there is no sweep of unconsumed payloads.
const DefaultTTL = 30 * time.Second

// StoredPayload is the server side record of an emitted QR.
type StoredPayload struct {
	Payload    Payload `cbor:"1,keyasint"`
	Encrypted  string  `cbor:"2,keyasint"`
	CreatedAt  int64   `cbor:"3,keyasint"`
	Consumed   bool    `cbor:"4,keyasint"`
	ConsumedBy int64   `cbor:"5,keyasint,omitempty"`
	ConsumedAt int64   `cbor:"6,keyasint,omitempty"`
}

// Store enforces single use of payload nonces on top of the ephemeral KV store.
type Store struct {
	KV  store.Store
	TTL time.Duration
}

// NewStore returns a Store with the given TTL, or DefaultTTL if ttl <= 0.
func NewStore(kv store.Store, ttl time.Duration) (*Store, error) {
	if nil == kv {
		return nil, newError("nil KV store")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{KV: kv, TTL: ttl}, nil
}

// Put records payload and its sealed form under the payload nonce.
func (self *Store) Put(ctx context.Context, payload Payload, sealed string) error {
	err := payload.Check()
	if nil != err {
		return wrapError(err, "can not store invalid payload")
	}

	rec := StoredPayload{
		Payload:   payload,
		Encrypted: sealed,
		CreatedAt: time.Now().UnixMilli(),
	}
	err = self.KV.SetTTL(ctx, keyPrefix+payload.N, rec, self.TTL)

	return wrapError(err, "failed storing payload") // nil if err is nil...
}

// Validate checks a presented payload against the stored original.
//
// It errors with ErrNotFound when the nonce is absent or expired, ErrConsumed
// when it was already spent, and ErrMismatch when any field of the presented
// payload differs from the stored original. A passing AEAD check alone does not
// prove the fields were untouched, the exact comparison does.
func (self *Store) Validate(ctx context.Context, presented Payload) error {
	var rec StoredPayload
	found, err := self.KV.Get(ctx, keyPrefix+presented.N, &rec)
	if nil != err {
		return wrapError(err, "failed loading payload record")
	}
	if !found {
		return wrapError(ErrNotFound, "nonce has no stored payload")
	}
	if rec.Consumed {
		return wrapError(ErrConsumed, "nonce was already spent")
	}
	if !rec.Payload.Equal(presented) {
		return wrapError(ErrMismatch, "presented payload differs from original")
	}

	return nil
}

// Consume marks the nonce as spent by consumerId.
//
// The mark is a single atomic check-and-set: the first call returns true, every
// later call for the same nonce returns false. A vanished (expired) nonce also
// returns false.
func (self *Store) Consume(ctx context.Context, nonce string, consumerId int64) (bool, error) {
	key := keyPrefix + nonce

	var rec StoredPayload
	found, err := self.KV.Get(ctx, key, &rec)
	if nil != err {
		return false, wrapError(err, "failed loading payload record")
	}
	if !found || rec.Consumed {
		return false, nil
	}

	next := rec
	next.Consumed = true
	next.ConsumedBy = consumerId
	next.ConsumedAt = time.Now().UnixMilli()

	swapped, err := self.KV.CompareAndSwap(ctx, key, rec, next)
	if nil != err {
		return false, wrapError(err, "failed consumption check-and-set")
	}

	return swapped, nil
}
