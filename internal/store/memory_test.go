package store

import (
	"context"
	"reflect"
	"testing"
	"time"
)

type record struct {
	Name  string `cbor:"1,keyasint"`
	Count int    `cbor:"2,keyasint"`
}

// frozenStore returns a MemStore with a controllable clock.
func frozenStore(start time.Time) (*MemStore, *time.Time) {
	now := start
	ms := NewMemStore()
	ms.now = func() time.Time { return now }
	return ms, &now
}

func TestMemStoreSetGet(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()

	src := record{Name: "alpha", Count: 3}
	err := ms.SetTTL(ctx, "k1", src, time.Minute)
	if nil != err {
		t.Fatalf("failed setting key, got error %v", err)
	}

	var dst record
	found, err := ms.Get(ctx, "k1", &dst)
	if nil != err {
		t.Fatalf("failed getting key, got error %v", err)
	}
	if !found {
		t.Fatal("Oops, key not found")
	}
	if !reflect.DeepEqual(src, dst) {
		t.Errorf("failed value round trip, got %+v", dst)
	}

	found, err = ms.Get(ctx, "missing", &dst)
	if nil != err || found {
		t.Errorf("failed missing key handling, got %v / %v", found, err)
	}
}

func TestMemStoreExpiry(t *testing.T) {
	ctx := context.Background()
	ms, now := frozenStore(time.Unix(1_700_000_000, 0))

	err := ms.SetTTL(ctx, "k1", record{Name: "alpha"}, 30*time.Second)
	if nil != err {
		t.Fatalf("failed setting key, got error %v", err)
	}

	var dst record
	*now = now.Add(29 * time.Second)
	found, _ := ms.Get(ctx, "k1", &dst)
	if !found {
		t.Error("Oops, key lapsed before its ttl")
	}

	*now = now.Add(2 * time.Second)
	found, _ = ms.Get(ctx, "k1", &dst)
	if found {
		t.Error("Oops, key survived its ttl")
	}
}

func TestMemStoreRejectsBadTTL(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()

	err := ms.SetTTL(ctx, "k1", 1, 0)
	if nil == err {
		t.Error("Oops, accepted a zero ttl")
	}
	_, err = ms.Incr(ctx, "k1", -time.Second)
	if nil == err {
		t.Error("Oops, accepted a negative ttl")
	}
}

func TestMemStoreDelete(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()

	ms.SetTTL(ctx, "k1", 1, time.Minute)
	err := ms.Delete(ctx, "k1")
	if nil != err {
		t.Fatalf("failed deleting key, got error %v", err)
	}
	var dst int
	found, _ := ms.Get(ctx, "k1", &dst)
	if found {
		t.Error("Oops, key survived Delete")
	}

	err = ms.Delete(ctx, "missing")
	if nil != err {
		t.Errorf("failed deleting absent key, got error %v", err)
	}
}

func TestMemStoreIncr(t *testing.T) {
	ctx := context.Background()
	ms, now := frozenStore(time.Unix(1_700_000_000, 0))

	for want := int64(1); want <= 3; want++ {
		got, err := ms.Incr(ctx, "cur", time.Minute)
		if nil != err {
			t.Fatalf("failed incrementing, got error %v", err)
		}
		if want != got {
			t.Errorf("failed counting, got %d want %d", got, want)
		}
	}

	// expired counter restarts from zero
	*now = now.Add(2 * time.Minute)
	got, err := ms.Incr(ctx, "cur", time.Minute)
	if nil != err {
		t.Fatalf("failed incrementing, got error %v", err)
	}
	if 1 != got {
		t.Errorf("failed counter restart, got %d", got)
	}
}

func TestMemStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore()

	// absent key
	ok, err := ms.CompareAndSwap(ctx, "k1", record{Name: "a"}, record{Name: "b"})
	if nil != err {
		t.Fatalf("failed CAS, got error %v", err)
	}
	if ok {
		t.Error("Oops, CAS succeeded on an absent key")
	}

	ms.SetTTL(ctx, "k1", record{Name: "a"}, time.Minute)

	// stale prev
	ok, err = ms.CompareAndSwap(ctx, "k1", record{Name: "z"}, record{Name: "b"})
	if nil != err || ok {
		t.Errorf("failed stale CAS handling, got %v / %v", ok, err)
	}

	// matching prev
	ok, err = ms.CompareAndSwap(ctx, "k1", record{Name: "a"}, record{Name: "b"})
	if nil != err {
		t.Fatalf("failed CAS, got error %v", err)
	}
	if !ok {
		t.Fatal("Oops, CAS refused a matching prev")
	}

	var dst record
	found, _ := ms.Get(ctx, "k1", &dst)
	if !found || "b" != dst.Name {
		t.Errorf("failed swapped value, got %v %+v", found, dst)
	}

	// second swap with the old prev shall lose
	ok, _ = ms.CompareAndSwap(ctx, "k1", record{Name: "a"}, record{Name: "c"})
	if ok {
		t.Error("Oops, CAS replayed with a stale prev")
	}
}
