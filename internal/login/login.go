// Package login implements the ECDH key exchange against an enrolled device.
//
// Each login derives a fresh session key pair bound to the device credential and
// a TOTPu code from the durable handshake secret. A new login fully supersedes
// the previous session keys of the user, nothing accumulates.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.rollmark.org/golang/internal/algos"
	"code.rollmark.org/golang/internal/devices"
	"code.rollmark.org/golang/internal/keys"
	"code.rollmark.org/golang/internal/observability"
	"code.rollmark.org/golang/internal/store"
)

// DefaultSessionKeyTTL bounds session key life in the ephemeral store.
const DefaultSessionKeyTTL = 4 * time.Hour

// SessionKey is the ephemeral per login key material.
type SessionKey struct {
	SessionKey []byte `cbor:"1,keyasint"`
	HmacKey    []byte `cbor:"2,keyasint"`
	UserID     int64  `cbor:"3,keyasint"`
	DeviceID   int64  `cbor:"4,keyasint"`
	CreatedAt  int64  `cbor:"5,keyasint"`
}

// Request carries the login inputs.
//
// UserID is typed any on purpose: identifiers reach this boundary as JSON
// numbers, strings read back from storage, or native integers, and ownership is
// decided on the normalized value (see devices.NormalizeUserID).
type Request struct {
	UserID          any
	CredentialID    []byte
	ClientPublicKey []byte // raw uncompressed P-256 point
	Fingerprint     string
}

// Response is handed back to the client device.
type Response struct {
	ServerPublicKey    []byte `json:"server_public_key"`
	TOTP               string `json:"totp"`
	DeviceID           int64  `json:"device_id"`
	FingerprintUpdated bool   `json:"fingerprint_updated"`
}

// Flow executes login key exchanges.
type Flow struct {
	Devices devices.Store
	KV      store.Store
	TTL     time.Duration
}

// NewFlow validates the collaborator wiring and returns a Flow.
func NewFlow(devStore devices.Store, kv store.Store, ttl time.Duration) (*Flow, error) {
	if nil == devStore {
		return nil, newError("nil device Store")
	}
	if nil == kv {
		return nil, newError("nil KV store")
	}
	if ttl <= 0 {
		ttl = DefaultSessionKeyTTL
	}

	return &Flow{Devices: devStore, KV: kv, TTL: ttl}, nil
}

// Login performs the key exchange described by req.
func (self *Flow) Login(ctx context.Context, req Request) (Response, error) {
	log := observability.GetObservability(ctx).Log()

	userId, err := devices.NormalizeUserID(req.UserID)
	if nil != err {
		return Response{}, wrapError(err, "failed user id normalization")
	}

	var dev devices.Device
	err = self.Devices.FindByCredentialID(ctx, req.CredentialID, &dev)
	if errors.Is(err, devices.ErrNotFound) {
		return Response{}, wrapError(ErrDeviceNotFound, "unknown credential")
	}
	if nil != err {
		return Response{}, wrapError(err, "failed credential lookup")
	}

	// ownership compares normalized integers; a stringified id coming back from
	// storage must not defeat equality
	storedId, err := devices.NormalizeUserID(dev.UserID)
	if nil != err {
		return Response{}, wrapError(err, "failed stored user id normalization")
	}
	if storedId != userId {
		return Response{}, wrapError(ErrDeviceNotOwned, "device belongs to another user")
	}
	if !dev.Enrolled() {
		return Response{}, wrapError(ErrSessionNotAllowed, "device status is %s", dev.Status)
	}

	clientKey, err := algos.ParseSessionPublicKey(req.ClientPublicKey)
	if nil != err {
		return Response{}, wrapError(ErrBadPublicKey, "client forwarded an invalid point")
	}

	serverKey, err := algos.GenerateSessionKeypair()
	if nil != err {
		return Response{}, wrapError(err, "failed server keypair generation")
	}
	shared, err := serverKey.ECDH(clientKey)
	if nil != err {
		return Response{}, wrapError(err, "failed ECDH")
	}

	sessionKey, hmacKey, err := keys.DeriveSessionKeys(shared, dev.CredentialID)
	if nil != err {
		return Response{}, wrapError(err, "failed session key derivation")
	}

	now := time.Now()
	totp, err := keys.GenerateTOTP(dev.HandshakeSecret, now)
	if nil != err {
		return Response{}, wrapError(err, "failed TOTPu generation")
	}

	record := SessionKey{
		SessionKey: sessionKey,
		HmacKey:    hmacKey,
		UserID:     userId,
		DeviceID:   dev.ID,
		CreatedAt:  now.UnixMilli(),
	}
	// a fresh login supersedes any previous session keys
	err = self.KV.SetTTL(ctx, SessionKeyID(userId), record, self.TTL)
	if nil != err {
		return Response{}, wrapError(err, "failed session key persistence")
	}

	err = self.Devices.UpdateLastUsed(ctx, dev.ID, now)
	if nil != err {
		return Response{}, wrapError(err, "failed last-used update")
	}

	// fingerprint drift is tolerated, the stored value follows the device
	var fingerprintUpdated bool
	if "" != req.Fingerprint && req.Fingerprint != dev.Fingerprint {
		err = self.Devices.UpdateFingerprint(ctx, dev.ID, req.Fingerprint)
		if nil != err {
			return Response{}, wrapError(err, "failed fingerprint update")
		}
		fingerprintUpdated = true
		log.Info("device fingerprint drifted", "deviceId", dev.ID)
	}

	return Response{
		ServerPublicKey:    serverKey.PublicKey().Bytes(),
		TOTP:               totp,
		DeviceID:           dev.ID,
		FingerprintUpdated: fingerprintUpdated,
	}, nil
}

// Keys loads the current session keys of userId.
// The bool flag is false if the user has no live login.
func (self *Flow) Keys(ctx context.Context, userId int64) (SessionKey, bool, error) {
	var rv SessionKey
	found, err := self.KV.Get(ctx, SessionKeyID(userId), &rv)
	if nil != err {
		return SessionKey{}, false, wrapError(err, "failed session key lookup")
	}
	return rv, found, nil
}

// SessionKeyID returns the store key holding the session keys of userId.
func SessionKeyID(userId int64) string {
	return fmt.Sprintf("skey:%d", userId)
}
