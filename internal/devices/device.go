// Package devices holds the registry of enrolled hardware authenticators.
//
// A Device binds a WebAuthn credential to a user together with the durable
// handshake secret derived at enrollment. Devices are never hard deleted:
// revocation flips Status and the record stays for audit.
package devices

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"code.rollmark.org/golang/internal/utils"
)

const (
	StatusEnrolled = "enrolled"
	StatusRevoked  = "revoked"
)

// Device is one enrolled authenticator.
//
// At most one Device per user carries StatusEnrolled: re-enrollment revokes the
// prior record before creating a new one.
type Device struct {
	ID              int64           `json:"id" cbor:"1,keyasint"`
	CredentialID    utils.HexBinary `json:"credential_id" cbor:"2,keyasint"`
	UserID          int64           `json:"user_id" cbor:"3,keyasint"`
	PublicKey       []byte          `json:"public_key" cbor:"4,keyasint"`
	HandshakeSecret []byte          `json:"-" cbor:"5,keyasint"`
	AAGUID          string          `json:"aaguid" cbor:"6,keyasint"`
	Fingerprint     string          `json:"fingerprint,omitempty" cbor:"7,keyasint,omitempty"`
	Status          string          `json:"status" cbor:"8,keyasint"`
	SignCount       uint32          `json:"sign_count" cbor:"9,keyasint"`
	CreatedAt       time.Time       `json:"created_at" cbor:"10,keyasint"`
	LastUsedAt      time.Time       `json:"last_used_at,omitempty" cbor:"11,keyasint,omitempty"`
}

// Check returns an error if the Device is invalid.
func (self *Device) Check() error {
	if nil == self {
		return newError("nil Device")
	}
	if 0 == len(self.CredentialID) {
		return newError("empty CredentialID")
	}
	if self.UserID <= 0 {
		return newError("invalid UserID %d <= 0", self.UserID)
	}
	if 0 == len(self.PublicKey) {
		return newError("empty PublicKey")
	}
	if len(self.HandshakeSecret) != 32 {
		return newError("invalid HandshakeSecret, length != 32")
	}
	switch self.Status {
	case StatusEnrolled, StatusRevoked:
	default:
		return newError("invalid Status %q", self.Status)
	}

	return nil
}

// Enrolled reports whether the Device can open sessions.
func (self *Device) Enrolled() bool {
	return nil != self && StatusEnrolled == self.Status
}

// NormalizeUserID coerces the various shapes a user identifier takes once it has
// crossed a storage or serialization boundary (int64, float64 from JSON numbers,
// decimal strings) into a canonical int64.
//
// Ownership checks MUST compare normalized identifiers: a stringified id read back
// from storage must still match the numeric id presented by the caller.
func NormalizeUserID(v any) (int64, error) {
	switch uid := v.(type) {
	case int64:
		return uid, nil
	case int:
		return int64(uid), nil
	case int32:
		return int64(uid), nil
	case uint64:
		return int64(uid), nil
	case float64:
		rv := int64(uid)
		if float64(rv) != uid {
			return 0, newError("user id %v is not an integer", uid)
		}
		return rv, nil
	case json.Number:
		rv, err := uid.Int64()
		return rv, wrapError(err, "user id %q is not an integer", uid)
	case string:
		rv, err := strconv.ParseInt(strings.TrimSpace(uid), 10, 64)
		return rv, wrapError(err, "user id %q is not an integer", uid)
	default:
		return 0, newError("unsupported user id type %T", v)
	}
}
