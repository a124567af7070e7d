// Package qrpayload implements the versioned QR wire payload, its AEAD sealing
// and the nonce keyed anti-replay store.
package qrpayload

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

const (
	// Version is the only supported wire payload version.
	Version = 1

	// NonceSize is the byte length of the payload nonce.
	NonceSize = 16

	// NonceHexLen is the character length of the hex encoded nonce.
	NonceHexLen = 2 * NonceSize
)

// Payload is the structured QR content, immutable once created.
//
// UID carries the subject: a student id on a live QR, the host id on pool
// metadata, zero on decoys.
type Payload struct {
	V   int    `json:"v" cbor:"1,keyasint"`
	SID string `json:"sid" cbor:"2,keyasint"`
	UID int64  `json:"uid" cbor:"3,keyasint"`
	R   int    `json:"r" cbor:"4,keyasint"`
	TS  int64  `json:"ts" cbor:"5,keyasint"`
	N   string `json:"n" cbor:"6,keyasint"`
}

// BuildParams carries Build inputs. Nonce & TS are optional.
type BuildParams struct {
	SessionID string
	SubjectID int64
	Round     int
	Nonce     string
	TS        int64
}

// Build assembles a version 1 Payload. A missing nonce is generated (16 random
// bytes, hex) and a missing TS defaults to the current millisecond timestamp.
func Build(params BuildParams) (Payload, error) {
	nonce := params.Nonce
	if "" == nonce {
		var err error
		nonce, err = NewNonce()
		if nil != err {
			return Payload{}, wrapError(err, "failed nonce generation")
		}
	}
	ts := params.TS
	if 0 == ts {
		ts = time.Now().UnixMilli()
	}

	rv := Payload{
		V:   Version,
		SID: params.SessionID,
		UID: params.SubjectID,
		R:   params.Round,
		TS:  ts,
		N:   nonce,
	}
	err := rv.Check()
	if nil != err {
		return Payload{}, wrapError(err, "failed building payload")
	}

	return rv, nil
}

// NewNonce returns a fresh 32 hex chars payload nonce.
func NewNonce() (string, error) {
	var raw [NonceSize]byte
	_, err := rand.Read(raw[:])
	if nil != err {
		return "", wrapError(err, "failed reading random nonce")
	}
	return hex.EncodeToString(raw[:]), nil
}

// Check returns an error flagged ErrMalformed if the Payload is not structurally
// valid.
func (self Payload) Check() error {
	if Version != self.V {
		return wrapError(ErrMalformed, "unsupported version %d", self.V)
	}
	if "" == self.SID {
		return wrapError(ErrMalformed, "empty session id")
	}
	if self.R < 1 {
		return wrapError(ErrMalformed, "invalid round %d < 1", self.R)
	}
	if self.TS <= 0 {
		return wrapError(ErrMalformed, "invalid timestamp %d", self.TS)
	}
	if NonceHexLen != len(self.N) {
		return wrapError(ErrMalformed, "invalid nonce length %d != %d", len(self.N), NonceHexLen)
	}
	_, err := hex.DecodeString(self.N)
	if nil != err {
		return wrapError(ErrMalformed, "nonce is not hex encoded")
	}

	return nil
}

// Equal reports whether other carries exactly the same fields.
// Anti-replay validation compares the presented payload to the stored original
// with Equal, defeating field tampering.
func (self Payload) Equal(other Payload) bool {
	return self == other
}
