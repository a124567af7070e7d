package keys

import (
	"bytes"
	"testing"
)

var (
	testMaster = bytes.Repeat([]byte{0xA5}, 32)
	testCredId = []byte("credential-0001")
)

func TestDeriveHandshakeSecretDeterminism(t *testing.T) {
	s1, err := DeriveHandshakeSecret(testCredId, 42, testMaster)
	if nil != err {
		t.Fatalf("failed deriving handshake secret, got error %v", err)
	}
	s2, err := DeriveHandshakeSecret(testCredId, 42, testMaster)
	if nil != err {
		t.Fatalf("failed deriving handshake secret, got error %v", err)
	}
	if SecretSize != len(s1) {
		t.Errorf("failed secret sizing, got %d", len(s1))
	}
	if !bytes.Equal(s1, s2) {
		t.Error("Oops, identical inputs produced distinct secrets")
	}
}

func TestDeriveHandshakeSecretBinding(t *testing.T) {
	base, err := DeriveHandshakeSecret(testCredId, 42, testMaster)
	if nil != err {
		t.Fatalf("failed deriving handshake secret, got error %v", err)
	}

	otherCred, err := DeriveHandshakeSecret([]byte("credential-0002"), 42, testMaster)
	if nil != err {
		t.Fatalf("failed deriving handshake secret, got error %v", err)
	}
	if bytes.Equal(base, otherCred) {
		t.Error("Oops, secret is not bound to the credential")
	}

	otherUser, err := DeriveHandshakeSecret(testCredId, 43, testMaster)
	if nil != err {
		t.Fatalf("failed deriving handshake secret, got error %v", err)
	}
	if bytes.Equal(base, otherUser) {
		t.Error("Oops, secret is not bound to the user")
	}
}

func TestDeriveHandshakeSecretRejects(t *testing.T) {
	_, err := DeriveHandshakeSecret(nil, 42, testMaster)
	if nil == err {
		t.Error("Oops, accepted an empty credentialId")
	}
	_, err = DeriveHandshakeSecret(testCredId, 42, testMaster[:16])
	if nil == err {
		t.Error("Oops, accepted a short master secret")
	}
}

func TestDeriveSessionKeys(t *testing.T) {
	shared := bytes.Repeat([]byte{0x3C}, 32)

	sk1, hk1, err := DeriveSessionKeys(shared, testCredId)
	if nil != err {
		t.Fatalf("failed deriving session keys, got error %v", err)
	}
	if SecretSize != len(sk1) || SecretSize != len(hk1) {
		t.Errorf("failed key sizing, got %d / %d", len(sk1), len(hk1))
	}
	if bytes.Equal(sk1, hk1) {
		t.Error("Oops, session key and hmac key are identical")
	}

	// same shared secret against a different credential yields unrelated keys
	sk2, hk2, err := DeriveSessionKeys(shared, []byte("credential-0002"))
	if nil != err {
		t.Fatalf("failed deriving session keys, got error %v", err)
	}
	if bytes.Equal(sk1, sk2) || bytes.Equal(hk1, hk2) {
		t.Error("Oops, session keys are not bound to the credential")
	}
}
