package utils

import (
	"testing"
)

func TestRegistrySetGet(t *testing.T) {
	reg := NewRegistry[string, int]()

	err := RegistrySet(reg, "one", 1)
	if nil != err {
		t.Fatalf("failed setting entry, got error %v", err)
	}

	got, ok := RegistryGet(reg, "one")
	if !ok || 1 != got {
		t.Errorf("failed getting entry, got %d ok %v", got, ok)
	}

	_, ok = RegistryGet(reg, "two")
	if ok {
		t.Error("Oops, got an entry that was never set")
	}
}

func TestRegistryConflict(t *testing.T) {
	reg := NewRegistry[string, int]()

	err := RegistrySet(reg, "one", 1)
	if nil != err {
		t.Fatalf("failed setting entry, got error %v", err)
	}

	err = RegistrySet(reg, "one", 2)
	if nil == err {
		t.Error("Oops, overwrote an existing entry")
	}
}

func TestRegistryEntries(t *testing.T) {
	reg := NewRegistry[string, int]()
	RegistrySet(reg, "one", 1)
	RegistrySet(reg, "two", 2)

	entries := RegistryEntries(reg)
	if 2 != len(entries) {
		t.Fatalf("failed listing entries, got %d", len(entries))
	}

	// mutating the copy shall not affect the registry
	entries["three"] = 3
	_, ok := RegistryGet(reg, "three")
	if ok {
		t.Error("Oops, entries copy is not detached from the registry")
	}
}
