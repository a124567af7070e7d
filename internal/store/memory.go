package store

import (
	"bytes"
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	numShard = 16
)

type entry struct {
	data     []byte
	deadline time.Time
}

type shard struct {
	mut     sync.Mutex
	entries map[string]entry
}

// MemStore is an in memory Store that lazily expires keys.
//
// Entries are spread over a fixed set of shards to limit lock contention. Expired
// entries are dropped when read and opportunistically when their shard is written.
type MemStore struct {
	seed   maphash.Seed
	shards [numShard]shard
	now    func() time.Time
}

// NewMemStore instantiates a new MemStore.
func NewMemStore() *MemStore {
	rv := &MemStore{seed: maphash.MakeSeed(), now: time.Now}
	for pos := range rv.shards {
		rv.shards[pos].entries = make(map[string]entry)
	}
	return rv
}

// Get loads the value stored under key into dst.
// The bool flag is false if key is absent or expired.
func (self *MemStore) Get(_ context.Context, key string, dst any) (bool, error) {
	sh := self.shard(key)
	sh.mut.Lock()
	defer sh.mut.Unlock()

	ent, found := sh.entries[key]
	if !found {
		return false, nil
	}
	if self.now().After(ent.deadline) {
		delete(sh.entries, key)
		return false, nil
	}

	err := cbor.Unmarshal(ent.data, dst)
	if nil != err {
		return false, wrapError(err, "failed decoding value of key %s", key)
	}

	return true, nil
}

// SetTTL stores value under key. The entry lapses after ttl.
func (self *MemStore) SetTTL(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return newError("invalid ttl %v <= 0", ttl)
	}
	data, err := cbor.Marshal(value)
	if nil != err {
		return wrapError(err, "failed encoding value of key %s", key)
	}

	sh := self.shard(key)
	sh.mut.Lock()
	defer sh.mut.Unlock()

	self.sweep(sh)
	sh.entries[key] = entry{data: data, deadline: self.now().Add(ttl)}

	return nil
}

// Delete removes key. Removing an absent key is not an error.
func (self *MemStore) Delete(_ context.Context, key string) error {
	sh := self.shard(key)
	sh.mut.Lock()
	defer sh.mut.Unlock()

	delete(sh.entries, key)

	return nil
}

// Incr atomically increments the integer counter stored under key and returns the
// new value. An absent or expired counter restarts from zero.
func (self *MemStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, newError("invalid ttl %v <= 0", ttl)
	}

	sh := self.shard(key)
	sh.mut.Lock()
	defer sh.mut.Unlock()

	var counter int64
	ent, found := sh.entries[key]
	if found && !self.now().After(ent.deadline) {
		err := cbor.Unmarshal(ent.data, &counter)
		if nil != err {
			return 0, wrapError(err, "key %s does not hold a counter", key)
		}
	}
	counter += 1

	data, err := cbor.Marshal(counter)
	if nil != err {
		return 0, wrapError(err, "failed encoding counter")
	}
	sh.entries[key] = entry{data: data, deadline: self.now().Add(ttl)}

	return counter, nil
}

// CompareAndSwap atomically replaces the value under key with next when the stored
// value equals prev. Equality is decided on the canonical encoded form.
func (self *MemStore) CompareAndSwap(_ context.Context, key string, prev, next any) (bool, error) {
	prevData, err := cbor.Marshal(prev)
	if nil != err {
		return false, wrapError(err, "failed encoding prev value")
	}
	nextData, err := cbor.Marshal(next)
	if nil != err {
		return false, wrapError(err, "failed encoding next value")
	}

	sh := self.shard(key)
	sh.mut.Lock()
	defer sh.mut.Unlock()

	ent, found := sh.entries[key]
	if !found || self.now().After(ent.deadline) {
		return false, nil
	}
	if !bytes.Equal(ent.data, prevData) {
		return false, nil
	}

	// deadline is kept, CAS does not extend entry lifetime
	ent.data = nextData
	sh.entries[key] = ent

	return true, nil
}

func (self *MemStore) shard(key string) *shard {
	return &(self.shards[maphash.String(self.seed, key)%numShard])
}

// sweep drops a handful of expired entries. Caller must hold the shard lock.
func (self *MemStore) sweep(sh *shard) {
	now := self.now()
	budget := 8
	for key, ent := range sh.entries {
		if now.After(ent.deadline) {
			delete(sh.entries, key)
		}
		budget -= 1
		if 0 == budget {
			break
		}
	}
}

var _ Store = &MemStore{}
