package qrpayload

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"

	"code.rollmark.org/golang/internal/algos"
)

const sealSegments = 3

// SealBytes encrypts plaintext with the default AEAD and formats the result as
// three dot separated base64 segments: iv "." ciphertext "." tag.
func SealBytes(plaintext, key []byte) (string, error) {
	factory, err := algos.GetAead(algos.AEAD_AES256_GCM)
	if nil != err {
		return "", wrapError(err, "failed loading AEAD factory")
	}
	aead, err := factory(key)
	if nil != err {
		return "", wrapError(err, "failed AEAD construction")
	}

	iv := make([]byte, algos.AeadNonceSize)
	_, err = rand.Read(iv)
	if nil != err {
		return "", wrapError(err, "failed reading random iv")
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	tagAt := len(sealed) - algos.AeadTagSize

	enc := base64.StdEncoding
	segments := []string{
		enc.EncodeToString(iv),
		enc.EncodeToString(sealed[:tagAt]),
		enc.EncodeToString(sealed[tagAt:]),
	}

	return strings.Join(segments, "."), nil
}

// OpenBytes decrypts a sealed string produced by SealBytes.
// It errors with ErrOpenFailed if the string is not 3 well formed segments or the
// key does not authenticate the ciphertext.
func OpenBytes(sealed string, key []byte) ([]byte, error) {
	segments := strings.Split(sealed, ".")
	if sealSegments != len(segments) {
		return nil, wrapError(ErrOpenFailed, "expected %d segments, got %d", sealSegments, len(segments))
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(segments[0])
	if nil != err {
		return nil, wrapError(ErrOpenFailed, "iv segment is not base64")
	}
	if algos.AeadNonceSize != len(iv) {
		return nil, wrapError(ErrOpenFailed, "invalid iv length %d", len(iv))
	}
	ciphertext, err := enc.DecodeString(segments[1])
	if nil != err {
		return nil, wrapError(ErrOpenFailed, "ciphertext segment is not base64")
	}
	tag, err := enc.DecodeString(segments[2])
	if nil != err {
		return nil, wrapError(ErrOpenFailed, "tag segment is not base64")
	}
	if algos.AeadTagSize != len(tag) {
		return nil, wrapError(ErrOpenFailed, "invalid tag length %d", len(tag))
	}

	factory, err := algos.GetAead(algos.AEAD_AES256_GCM)
	if nil != err {
		return nil, wrapError(err, "failed loading AEAD factory")
	}
	aead, err := factory(key)
	if nil != err {
		return nil, wrapError(err, "failed AEAD construction")
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if nil != err {
		return nil, wrapError(ErrOpenFailed, "AEAD rejected ciphertext")
	}

	return plaintext, nil
}

// Seal encrypts the JSON form of payload with key.
func Seal(payload Payload, key []byte) (string, error) {
	plaintext, err := json.Marshal(payload)
	if nil != err {
		return "", wrapError(err, "failed json.Marshal(payload)")
	}
	return SealBytes(plaintext, key)
}

// Open decrypts sealed with key and decodes the inner Payload.
// The Payload is returned as decoded, structural validation is the caller's
// concern.
func Open(sealed string, key []byte) (Payload, error) {
	plaintext, err := OpenBytes(sealed, key)
	if nil != err {
		return Payload{}, err
	}
	var rv Payload
	err = json.Unmarshal(plaintext, &rv)
	if nil != err {
		return Payload{}, wrapError(ErrOpenFailed, "sealed content is not a payload document")
	}

	return rv, nil
}

// SealDecoy encrypts payload under a throwaway random key. The output is
// structurally identical to Seal output but permanently undecryptable, which is
// the projection pool decoy mechanism.
func SealDecoy(payload Payload) (string, error) {
	key := make([]byte, algos.AeadKeySize)
	_, err := rand.Read(key)
	if nil != err {
		return "", wrapError(err, "failed reading throwaway key")
	}
	// key goes out of scope here and is never stored
	return Seal(payload, key)
}
