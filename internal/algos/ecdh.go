package algos

import (
	"crypto/ecdh"
	"crypto/rand"
)

// SessionCurve is the elliptic curve used for login key exchanges.
// Client devices forward raw uncompressed P-256 points.
var SessionCurve = ecdh.P256()

// GenerateSessionKeypair returns an ephemeral keypair on the SessionCurve.
func GenerateSessionKeypair() (*ecdh.PrivateKey, error) {
	keypair, err := SessionCurve.GenerateKey(rand.Reader)
	return keypair, wrapError(err, "failed P256 keypair generation") // nil if err is nil...
}

// ParseSessionPublicKey validates a raw uncompressed P-256 point forwarded by a client.
func ParseSessionPublicKey(raw []byte) (*ecdh.PublicKey, error) {
	pubkey, err := SessionCurve.NewPublicKey(raw)
	if nil != err {
		return nil, wrapError(err, "invalid P256 public key point")
	}
	return pubkey, nil
}
