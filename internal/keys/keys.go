// Package keys implements the RollMark key derivation schedule.
//
// Two classes of secret are produced. The handshake secret is durable, derived once
// at enrollment and bound to the (credential, user) pair. Session keys are ephemeral,
// derived at each login from an ECDH shared secret and bound to the device credential
// through the HKDF info parameter.
//
// All derivations are pure functions of their inputs.
package keys

import (
	"crypto/sha256"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

const (
	// SecretSize is the byte length of every derived secret.
	SecretSize = 32

	handshakeInfo  = "attendance-handshake-v1"
	sessionInfoPfx = "attendance-session-key-v1:"
	hmacInfoPfx    = "attendance-hmac-key-v1:"
)

// DeriveHandshakeSecret derives the durable per device secret from the enrolled
// credential, the owning user and the service master secret.
//
// IKM is credentialId || decimal(userId) || master, salt is empty, info is
// "attendance-handshake-v1". Identical inputs yield byte identical outputs.
func DeriveHandshakeSecret(credentialId []byte, userId int64, master []byte) ([]byte, error) {
	if 0 == len(credentialId) {
		return nil, newError("empty credentialId")
	}
	if len(master) < SecretSize {
		return nil, newError("master secret length %d < %d", len(master), SecretSize)
	}

	ikm := make([]byte, 0, len(credentialId)+20+len(master))
	ikm = append(ikm, credentialId...)
	ikm = strconv.AppendInt(ikm, userId, 10)
	ikm = append(ikm, master...)

	return expand(ikm, []byte(handshakeInfo))
}

// DeriveSessionKeys derives the per login AEAD key and HMAC key from an ECDH shared
// secret. Both keys are bound to credentialId through the HKDF info parameter: the
// same shared secret replayed against a different device context yields unrelated
// keys.
func DeriveSessionKeys(shared, credentialId []byte) (sessionKey, hmacKey []byte, err error) {
	if 0 == len(shared) {
		return nil, nil, newError("empty shared secret")
	}
	if 0 == len(credentialId) {
		return nil, nil, newError("empty credentialId")
	}

	sessionKey, err = expand(shared, append([]byte(sessionInfoPfx), credentialId...))
	if nil != err {
		return nil, nil, wrapError(err, "failed session key derivation")
	}
	hmacKey, err = expand(shared, append([]byte(hmacInfoPfx), credentialId...))
	if nil != err {
		return nil, nil, wrapError(err, "failed hmac key derivation")
	}

	return sessionKey, hmacKey, nil
}

func expand(ikm, info []byte) ([]byte, error) {
	krd := hkdf.New(sha256.New, ikm, nil, info)
	dst := make([]byte, SecretSize)
	_, err := io.ReadFull(krd, dst)
	if nil != err {
		return nil, wrapError(err, "failed HKDF key filling")
	}
	return dst, nil
}
