package boltdb

import (
	"bytes"
	"context"
	"errors"
	"path"
	"testing"
	"time"

	"code.rollmark.org/golang/internal/devices"
)

func newTestStore(t *testing.T) devices.Store {
	t.Helper()
	dbPath := path.Join(t.TempDir(), "devices.db")
	store, err := New(dbPath)
	if nil != err {
		t.Fatalf("failed New, got error %v", err)
	}
	return store
}

func testDevice(userId int64, credentialId string) *devices.Device {
	return &devices.Device{
		CredentialID:    []byte(credentialId),
		UserID:          userId,
		PublicKey:       []byte{0x04, 0x01, 0x02},
		HandshakeSecret: bytes.Repeat([]byte{0x5A}, 32),
		AAGUID:          "08987058-cadc-4b81-b6e1-30de50dcbe96",
		Status:          devices.StatusEnrolled,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestNew(t *testing.T) {
	dbPath := path.Join(t.TempDir(), "devices.db")
	_, err := New(dbPath)
	if nil != err {
		t.Errorf("failed New, got error %v", err)
	}

	// reopening an existing file is fine
	_, err = New(dbPath)
	if nil != err {
		t.Errorf("failed reopening, got error %v", err)
	}
}

func TestDeviceCreateFind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	dev := testDevice(42, "cred-1")
	err := store.Create(ctx, dev)
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}
	if dev.ID <= 0 {
		t.Fatalf("failed id assignment, got %d", dev.ID)
	}

	var byCred devices.Device
	err = store.FindByCredentialID(ctx, []byte("cred-1"), &byCred)
	if nil != err {
		t.Fatalf("failed FindByCredentialID, got error %v", err)
	}
	if byCred.ID != dev.ID || !bytes.Equal(dev.HandshakeSecret, byCred.HandshakeSecret) {
		t.Errorf("failed record round trip, got %+v", byCred)
	}

	var byUser devices.Device
	err = store.FindByUserID(ctx, 42, &byUser)
	if nil != err {
		t.Fatalf("failed FindByUserID, got error %v", err)
	}
	if byUser.ID != dev.ID {
		t.Errorf("failed user lookup, got %+v", byUser)
	}

	err = store.FindByCredentialID(ctx, []byte("cred-9"), &byCred)
	if !errors.Is(err, devices.ErrNotFound) {
		t.Errorf("failed absent credential handling, got error %v", err)
	}
}

func TestDeviceCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.Create(ctx, testDevice(42, "cred-1"))
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}
	err = store.Create(ctx, testDevice(43, "cred-1"))
	if !errors.Is(err, devices.ErrDuplicate) {
		t.Errorf("failed duplicate handling, got error %v", err)
	}
}

func TestDeviceRevoke(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	dev := testDevice(42, "cred-1")
	err := store.Create(ctx, dev)
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}
	err = store.Revoke(ctx, dev.ID)
	if nil != err {
		t.Fatalf("failed Revoke, got error %v", err)
	}

	var dst devices.Device
	err = store.FindByUserID(ctx, 42, &dst)
	if !errors.Is(err, devices.ErrNotFound) {
		t.Errorf("failed revoked lookup, got error %v", err)
	}

	// the record survives with its new status
	err = store.FindByCredentialID(ctx, []byte("cred-1"), &dst)
	if nil != err {
		t.Fatalf("failed FindByCredentialID, got error %v", err)
	}
	if devices.StatusRevoked != dst.Status {
		t.Errorf("failed revocation, got status %q", dst.Status)
	}

	err = store.Revoke(ctx, 999)
	if !errors.Is(err, devices.ErrNotFound) {
		t.Errorf("failed absent revoke handling, got error %v", err)
	}
}

func TestDeviceListByUser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := testDevice(42, "cred-1")
	err := store.Create(ctx, old)
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}
	err = store.Revoke(ctx, old.ID)
	if nil != err {
		t.Fatalf("failed Revoke, got error %v", err)
	}
	for _, dev := range []*devices.Device{testDevice(42, "cred-2"), testDevice(43, "cred-3")} {
		err = store.Create(ctx, dev)
		if nil != err {
			t.Fatalf("failed Create, got error %v", err)
		}
	}

	active, err := store.FindAllByUserID(ctx, 42, false)
	if nil != err {
		t.Fatalf("failed FindAllByUserID, got error %v", err)
	}
	if 1 != len(active) || !bytes.Equal([]byte("cred-2"), active[0].CredentialID) {
		t.Errorf("failed active listing, got %+v", active)
	}

	all, err := store.FindAllByUserID(ctx, 42, true)
	if nil != err {
		t.Fatalf("failed FindAllByUserID, got error %v", err)
	}
	if 2 != len(all) {
		t.Errorf("failed full listing, got %d devices", len(all))
	}
}

func TestDeviceUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	dev := testDevice(42, "cred-1")
	err := store.Create(ctx, dev)
	if nil != err {
		t.Fatalf("failed Create, got error %v", err)
	}

	err = store.UpdateFingerprint(ctx, dev.ID, "fp-2")
	if nil != err {
		t.Fatalf("failed UpdateFingerprint, got error %v", err)
	}
	at := time.Unix(1_700_000_000, 0).UTC()
	err = store.UpdateLastUsed(ctx, dev.ID, at)
	if nil != err {
		t.Fatalf("failed UpdateLastUsed, got error %v", err)
	}

	var dst devices.Device
	err = store.FindByCredentialID(ctx, []byte("cred-1"), &dst)
	if nil != err {
		t.Fatalf("failed FindByCredentialID, got error %v", err)
	}
	if "fp-2" != dst.Fingerprint || !dst.LastUsedAt.Equal(at) {
		t.Errorf("failed updates, got %+v", dst)
	}

	err = store.UpdateFingerprint(ctx, 999, "fp-3")
	if !errors.Is(err, devices.ErrNotFound) {
		t.Errorf("failed absent update handling, got error %v", err)
	}
}
