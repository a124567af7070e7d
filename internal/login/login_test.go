package login

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"code.rollmark.org/golang/internal/algos"
	"code.rollmark.org/golang/internal/devices"
	"code.rollmark.org/golang/internal/keys"
	"code.rollmark.org/golang/internal/store"
)

func newTestFlow(t *testing.T) (*Flow, *devices.MemStore) {
	t.Helper()
	reg := devices.NewMemStore()
	flow, err := NewFlow(reg, store.NewMemStore(), time.Hour)
	if nil != err {
		t.Fatalf("failed creating flow, got error %v", err)
	}
	return flow, reg
}

func enrollTestDevice(t *testing.T, reg *devices.MemStore, userId int64, credentialId string) *devices.Device {
	t.Helper()
	dev := &devices.Device{
		CredentialID:    []byte(credentialId),
		UserID:          userId,
		PublicKey:       []byte{0x04, 0x01, 0x02},
		HandshakeSecret: bytes.Repeat([]byte{0x5A}, 32),
		Status:          devices.StatusEnrolled,
	}
	err := reg.Create(context.Background(), dev)
	if nil != err {
		t.Fatalf("failed creating device, got error %v", err)
	}
	return dev
}

func newClientKey(t *testing.T) []byte {
	t.Helper()
	key, err := algos.GenerateSessionKeypair()
	if nil != err {
		t.Fatalf("failed generating client keypair, got error %v", err)
	}
	return key.PublicKey().Bytes()
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	flow, reg := newTestFlow(t)
	dev := enrollTestDevice(t, reg, 42, "cred-1")

	resp, err := flow.Login(ctx, Request{
		UserID:          int64(42),
		CredentialID:    []byte("cred-1"),
		ClientPublicKey: newClientKey(t),
	})
	if nil != err {
		t.Fatalf("failed login, got error %v", err)
	}
	if dev.ID != resp.DeviceID {
		t.Errorf("failed device binding, got %d", resp.DeviceID)
	}
	if 0 == len(resp.ServerPublicKey) {
		t.Error("Oops, no server public key")
	}

	// the code comes from the durable handshake secret
	ok, err := keys.ValidateTOTP(dev.HandshakeSecret, resp.TOTP, time.Now())
	if nil != err || !ok {
		t.Errorf("failed TOTPu validation, got %v / %v", ok, err)
	}

	// session keys are now live
	skey, found, err := flow.Keys(ctx, 42)
	if nil != err || !found {
		t.Fatalf("failed session key lookup, got found %v error %v", found, err)
	}
	if 32 != len(skey.SessionKey) || 32 != len(skey.HmacKey) {
		t.Errorf("failed key sizing, got %d / %d", len(skey.SessionKey), len(skey.HmacKey))
	}
	if 42 != skey.UserID || dev.ID != skey.DeviceID {
		t.Errorf("failed key record, got %+v", skey)
	}
}

func TestLoginSupersedes(t *testing.T) {
	ctx := context.Background()
	flow, reg := newTestFlow(t)
	enrollTestDevice(t, reg, 42, "cred-1")

	req := Request{UserID: int64(42), CredentialID: []byte("cred-1"), ClientPublicKey: newClientKey(t)}
	_, err := flow.Login(ctx, req)
	if nil != err {
		t.Fatalf("failed login, got error %v", err)
	}
	first, _, err := flow.Keys(ctx, 42)
	if nil != err {
		t.Fatalf("failed session key lookup, got error %v", err)
	}

	req.ClientPublicKey = newClientKey(t)
	_, err = flow.Login(ctx, req)
	if nil != err {
		t.Fatalf("failed second login, got error %v", err)
	}
	second, _, err := flow.Keys(ctx, 42)
	if nil != err {
		t.Fatalf("failed session key lookup, got error %v", err)
	}

	if bytes.Equal(first.SessionKey, second.SessionKey) {
		t.Error("Oops, a fresh login kept the previous session key")
	}
}

func TestLoginUserIdShapes(t *testing.T) {
	ctx := context.Background()
	flow, reg := newTestFlow(t)
	enrollTestDevice(t, reg, 42, "cred-1")

	// the same user presented as string, float and integer is one user
	for _, uid := range []any{int64(42), "42", float64(42)} {
		_, err := flow.Login(ctx, Request{
			UserID:          uid,
			CredentialID:    []byte("cred-1"),
			ClientPublicKey: newClientKey(t),
		})
		if nil != err {
			t.Errorf("%T: failed login, got error %v", uid, err)
		}
	}
}

func TestLoginRejects(t *testing.T) {
	ctx := context.Background()
	flow, reg := newTestFlow(t)
	dev := enrollTestDevice(t, reg, 42, "cred-1")

	// unknown credential
	_, err := flow.Login(ctx, Request{UserID: int64(42), CredentialID: []byte("cred-9"), ClientPublicKey: newClientKey(t)})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("failed unknown credential handling, got error %v", err)
	}

	// another user's device
	_, err = flow.Login(ctx, Request{UserID: int64(43), CredentialID: []byte("cred-1"), ClientPublicKey: newClientKey(t)})
	if !errors.Is(err, ErrDeviceNotOwned) {
		t.Errorf("failed ownership handling, got error %v", err)
	}

	// malformed public key
	_, err = flow.Login(ctx, Request{UserID: int64(42), CredentialID: []byte("cred-1"), ClientPublicKey: []byte{0x04, 0x00}})
	if !errors.Is(err, ErrBadPublicKey) {
		t.Errorf("failed bad point handling, got error %v", err)
	}

	// revoked device
	err = reg.Revoke(ctx, dev.ID)
	if nil != err {
		t.Fatalf("failed revoking device, got error %v", err)
	}
	_, err = flow.Login(ctx, Request{UserID: int64(42), CredentialID: []byte("cred-1"), ClientPublicKey: newClientKey(t)})
	if !errors.Is(err, ErrSessionNotAllowed) {
		t.Errorf("failed revoked device handling, got error %v", err)
	}
}

// faultyDeviceStore fails every lookup with an infrastructure error.
type faultyDeviceStore struct {
	devices.Store
}

func (self faultyDeviceStore) FindByCredentialID(ctx context.Context, credentialId []byte, dst *devices.Device) error {
	return errors.New("connection refused")
}

func TestLoginStoreFault(t *testing.T) {
	ctx := context.Background()
	flow, err := NewFlow(faultyDeviceStore{}, store.NewMemStore(), time.Hour)
	if nil != err {
		t.Fatalf("failed creating flow, got error %v", err)
	}

	// a registry fault is not a missing device, it must propagate unflagged
	_, err = flow.Login(ctx, Request{UserID: int64(42), CredentialID: []byte("cred-1"), ClientPublicKey: newClientKey(t)})
	if nil == err {
		t.Fatal("Oops, login succeeded against a broken registry")
	}
	if errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("failed fault propagation, got error %v", err)
	}
}

func TestLoginFingerprintDrift(t *testing.T) {
	ctx := context.Background()
	flow, reg := newTestFlow(t)
	dev := enrollTestDevice(t, reg, 42, "cred-1")

	resp, err := flow.Login(ctx, Request{
		UserID:          int64(42),
		CredentialID:    []byte("cred-1"),
		ClientPublicKey: newClientKey(t),
		Fingerprint:     "fp-new",
	})
	if nil != err {
		t.Fatalf("failed login, got error %v", err)
	}
	if !resp.FingerprintUpdated {
		t.Error("Oops, fingerprint drift went unnoticed")
	}

	var dst devices.Device
	err = reg.FindByCredentialID(ctx, dev.CredentialID, &dst)
	if nil != err {
		t.Fatalf("failed device lookup, got error %v", err)
	}
	if "fp-new" != dst.Fingerprint {
		t.Errorf("failed fingerprint follow, got %q", dst.Fingerprint)
	}
}

func TestKeysAbsent(t *testing.T) {
	ctx := context.Background()
	flow, _ := newTestFlow(t)

	_, found, err := flow.Keys(ctx, 42)
	if nil != err {
		t.Fatalf("failed session key lookup, got error %v", err)
	}
	if found {
		t.Error("Oops, found keys for a user that never logged in")
	}
}
