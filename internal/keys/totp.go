package keys

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// TotpStep is the TOTP time window.
	TotpStep = 30 * time.Second

	// TotpDigits is the number of decimal digits in a generated code.
	TotpDigits = 6

	totpModulus = 1_000_000
)

// GenerateTOTP computes the 6 digits code for secret at time at.
//
// The code is an HMAC-SHA256 over the 8 bytes big endian time counter (unix / 30s),
// truncated per RFC 4226 and reduced modulo 1e6.
func GenerateTOTP(secret []byte, at time.Time) (string, error) {
	if len(secret) < SecretSize {
		return "", newError("secret length %d < %d", len(secret), SecretSize)
	}
	counter := at.Unix() / int64(TotpStep/time.Second)
	return totpAt(secret, counter), nil
}

// ValidateTOTP checks code against the counters [now-1, now, now+1].
//
// All three candidates are always computed and compared, so validation effort does
// not depend on which counter matches.
func ValidateTOTP(secret []byte, code string, at time.Time) (bool, error) {
	if len(secret) < SecretSize {
		return false, newError("secret length %d < %d", len(secret), SecretSize)
	}
	if len(code) != TotpDigits {
		return false, nil
	}

	counter := at.Unix() / int64(TotpStep/time.Second)
	match := 0
	for _, c := range []int64{counter - 1, counter, counter + 1} {
		match |= subtle.ConstantTimeCompare([]byte(totpAt(secret, c)), []byte(code))
	}

	return 1 == match, nil
}

func totpAt(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha256.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation
	offset := sum[len(sum)-1] & 0x0F
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFF_FFFF

	return fmt.Sprintf("%06d", code%totpModulus)
}
