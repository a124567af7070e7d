package devices

import (
	"context"
	"sync"
	"time"
)

// MemStore provides "in memory" implementation of Store.
type MemStore struct {
	mut    sync.Mutex
	nextId int64
	byCred map[string]*Device
	byId   map[int64]*Device
}

func NewMemStore() *MemStore {
	return &MemStore{
		byCred: make(map[string]*Device),
		byId:   make(map[int64]*Device),
	}
}

// FindByCredentialID loads the Device enrolled with credentialId into dst.
// It errors with ErrNotFound if no such Device exists.
func (self *MemStore) FindByCredentialID(_ context.Context, credentialId []byte, dst *Device) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	dev, found := self.byCred[string(credentialId)]
	if !found {
		return wrapError(ErrNotFound, "unknown credentialId")
	}
	*dst = *dev

	return nil
}

// FindByUserID loads the enrolled Device of userId into dst.
// It errors with ErrNotFound if the user has no enrolled Device.
func (self *MemStore) FindByUserID(_ context.Context, userId int64, dst *Device) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	for _, dev := range self.byId {
		if dev.UserID == userId && StatusEnrolled == dev.Status {
			*dst = *dev
			return nil
		}
	}

	return wrapError(ErrNotFound, "user %d has no enrolled device", userId)
}

// FindAllByUserID lists the Devices of userId. Revoked Devices are included only
// when includeInactive is true.
func (self *MemStore) FindAllByUserID(_ context.Context, userId int64, includeInactive bool) ([]Device, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	var rv []Device
	for _, dev := range self.byId {
		if dev.UserID != userId {
			continue
		}
		if !includeInactive && StatusEnrolled != dev.Status {
			continue
		}
		rv = append(rv, *dev)
	}

	return rv, nil
}

// Create persists dev and assigns its ID.
// It errors with ErrDuplicate if the CredentialID is already registered.
func (self *MemStore) Create(_ context.Context, dev *Device) error {
	err := dev.Check()
	if nil != err {
		return wrapError(err, "can not save invalid device")
	}

	self.mut.Lock()
	defer self.mut.Unlock()

	_, conflict := self.byCred[string(dev.CredentialID)]
	if conflict {
		return wrapError(ErrDuplicate, "credentialId already registered")
	}

	self.nextId += 1
	dev.ID = self.nextId

	saved := *dev
	self.byCred[string(dev.CredentialID)] = &saved
	self.byId[dev.ID] = &saved

	return nil
}

// UpdateFingerprint overwrites the stored device fingerprint.
func (self *MemStore) UpdateFingerprint(_ context.Context, id int64, fingerprint string) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	dev, found := self.byId[id]
	if !found {
		return wrapError(ErrNotFound, "unknown device id %d", id)
	}
	dev.Fingerprint = fingerprint

	return nil
}

// UpdateLastUsed records a successful login at time at.
func (self *MemStore) UpdateLastUsed(_ context.Context, id int64, at time.Time) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	dev, found := self.byId[id]
	if !found {
		return wrapError(ErrNotFound, "unknown device id %d", id)
	}
	dev.LastUsedAt = at

	return nil
}

// Revoke flips the Device status to revoked. The record is kept.
func (self *MemStore) Revoke(_ context.Context, id int64) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	dev, found := self.byId[id]
	if !found {
		return wrapError(ErrNotFound, "unknown device id %d", id)
	}
	dev.Status = StatusRevoked

	return nil
}

var _ Store = &MemStore{}
