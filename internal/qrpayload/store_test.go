package qrpayload

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.rollmark.org/golang/internal/store"
)

func newTestPayloadStore(t *testing.T) *Store {
	t.Helper()
	ps, err := NewStore(store.NewMemStore(), time.Minute)
	if nil != err {
		t.Fatalf("failed creating store, got error %v", err)
	}
	return ps
}

func TestStoreValidate(t *testing.T) {
	ctx := context.Background()
	ps := newTestPayloadStore(t)

	payload := mustBuild(t, BuildParams{SessionID: "sess-1", SubjectID: 42, Round: 1})
	err := ps.Put(ctx, payload, "sealed-form")
	if nil != err {
		t.Fatalf("failed storing payload, got error %v", err)
	}

	err = ps.Validate(ctx, payload)
	if nil != err {
		t.Errorf("failed validating original, got error %v", err)
	}

	// unknown nonce
	other := mustBuild(t, BuildParams{SessionID: "sess-1", SubjectID: 42, Round: 1})
	err = ps.Validate(ctx, other)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("failed unknown nonce handling, got error %v", err)
	}

	// any tampered field fails the exact comparison
	tampered := payload
	tampered.R = 2
	err = ps.Validate(ctx, tampered)
	if !errors.Is(err, ErrMismatch) {
		t.Errorf("failed tamper handling, got error %v", err)
	}
	tampered = payload
	tampered.UID = 43
	err = ps.Validate(ctx, tampered)
	if !errors.Is(err, ErrMismatch) {
		t.Errorf("failed tamper handling, got error %v", err)
	}
}

func TestStoreConsumeSingleUse(t *testing.T) {
	ctx := context.Background()
	ps := newTestPayloadStore(t)

	payload := mustBuild(t, BuildParams{SessionID: "sess-1", SubjectID: 42, Round: 1})
	err := ps.Put(ctx, payload, "sealed-form")
	if nil != err {
		t.Fatalf("failed storing payload, got error %v", err)
	}

	ok, err := ps.Consume(ctx, payload.N, 42)
	if nil != err {
		t.Fatalf("failed consuming, got error %v", err)
	}
	if !ok {
		t.Fatal("Oops, first consumption refused")
	}

	// second consumption loses
	ok, err = ps.Consume(ctx, payload.N, 42)
	if nil != err {
		t.Fatalf("failed consuming, got error %v", err)
	}
	if ok {
		t.Error("Oops, nonce consumed twice")
	}

	// and validation now reports the spent nonce
	err = ps.Validate(ctx, payload)
	if !errors.Is(err, ErrConsumed) {
		t.Errorf("failed spent nonce handling, got error %v", err)
	}

	// absent nonce consumption is a plain false
	ok, err = ps.Consume(ctx, "0000", 42)
	if nil != err || ok {
		t.Errorf("failed absent nonce handling, got %v / %v", ok, err)
	}
}

func TestStorePutRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	ps := newTestPayloadStore(t)

	err := ps.Put(ctx, Payload{}, "sealed-form")
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("failed invalid payload handling, got error %v", err)
	}
}

func TestNewStoreDefaults(t *testing.T) {
	_, err := NewStore(nil, time.Minute)
	if nil == err {
		t.Error("Oops, accepted a nil store")
	}

	ps, err := NewStore(store.NewMemStore(), 0)
	if nil != err {
		t.Fatalf("failed creating store, got error %v", err)
	}
	if DefaultTTL != ps.TTL {
		t.Errorf("failed ttl defaulting, got %v", ps.TTL)
	}
}
