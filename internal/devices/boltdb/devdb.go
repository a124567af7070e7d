// Package boltdb provides a persistent devices.Store that keeps data in a file.
//
// It suits single node deployments, the postgres store being the multi instance
// option.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"code.rollmark.org/golang/internal/devices"
)

const (
	connectTimeout = 5 * time.Second
	maxDeviceId    = 0xFFFF_FFFF
)

var (
	deviceTbl = []byte("deviceTbl")
	credIdx   = []byte("credIdx")
	userIdx   = []byte("userIdx")
)

type deviceStore struct {
	dbpath string
}

// New returns a devices.Store implementation that persists Devices in a single file
// boltdb database. It errors if the database schema can not be created.
func New(dbpath string) (devices.Store, error) {
	devStore := deviceStore{dbpath: dbpath}

	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		var err error
		for _, bucketname := range [][]byte{deviceTbl, credIdx, userIdx} {
			_, err = tx.CreateBucketIfNotExists(bucketname)
			if nil != err {
				return wrapError(err, "failed %s bucket creation", bucketname)
			}
		}

		return nil
	})
	if nil != err {
		return nil, wrapError(err, "failed db initialization")
	}

	return devStore, nil
}

// FindByCredentialID loads the Device enrolled with credentialId into dst.
// It errors with devices.ErrNotFound if no such Device exists.
func (self deviceStore) FindByCredentialID(_ context.Context, credentialId []byte, dst *devices.Device) error {
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout, ReadOnly: true})
	if nil != err {
		return wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		idKey := tx.Bucket(credIdx).Get(credentialId)
		if nil == idKey {
			return wrapError(devices.ErrNotFound, "unknown credentialId")
		}
		return loadDevice(tx, idKey, dst)
	})
}

// FindByUserID loads the enrolled Device of userId into dst.
// It errors with devices.ErrNotFound if the user has no enrolled Device.
func (self deviceStore) FindByUserID(ctx context.Context, userId int64, dst *devices.Device) error {
	devs, err := self.FindAllByUserID(ctx, userId, false)
	if nil != err {
		return wrapError(err, "failed user device listing")
	}
	for _, dev := range devs {
		if dev.Enrolled() {
			*dst = dev
			return nil
		}
	}

	return wrapError(devices.ErrNotFound, "user %d has no enrolled device", userId)
}

// FindAllByUserID lists the Devices of userId. Revoked Devices are included only
// when includeInactive is true.
func (self deviceStore) FindAllByUserID(_ context.Context, userId int64, includeInactive bool) ([]devices.Device, error) {
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout, ReadOnly: true})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	var rv []devices.Device
	err = db.View(func(tx *bolt.Tx) error {
		prefix := idKeyOf(userId)
		cursor := tx.Bucket(userIdx).Cursor()
		for k, idKey := cursor.Seek(prefix); nil != k && bytes.HasPrefix(k, prefix); k, idKey = cursor.Next() {
			var dev devices.Device
			err := loadDevice(tx, idKey, &dev)
			if nil != err {
				return wrapError(err, "failed loading indexed device")
			}
			if !includeInactive && !dev.Enrolled() {
				continue
			}
			rv = append(rv, dev)
		}
		return nil
	})
	if nil != err {
		return nil, err
	}

	return rv, nil
}

// Create persists dev and assigns its ID.
// It errors with devices.ErrDuplicate if the CredentialID is already registered.
func (self deviceStore) Create(_ context.Context, dev *devices.Device) error {
	err := dev.Check()
	if nil != err {
		return wrapError(err, "can not save invalid device")
	}

	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		tbl := tx.Bucket(deviceTbl)

		if nil != tx.Bucket(credIdx).Get(dev.CredentialID) {
			return wrapError(devices.ErrDuplicate, "credentialId already registered")
		}

		if tbl.Sequence() >= maxDeviceId {
			return newError("too many devices")
		}
		nId, err := tbl.NextSequence()
		if nil != err {
			return wrapError(err, "failed generating device ID")
		}
		dev.ID = int64(nId)

		srzdev, err := cbor.Marshal(dev)
		if nil != err {
			return wrapError(err, "failed cbor.Marshal(dev)")
		}

		idKey := idKeyOf(dev.ID)
		err = tbl.Put(idKey, srzdev)
		if nil != err {
			return wrapError(err, "failed device record write")
		}
		err = tx.Bucket(credIdx).Put(dev.CredentialID, idKey)
		if nil != err {
			return wrapError(err, "failed credIdx write")
		}
		err = tx.Bucket(userIdx).Put(append(idKeyOf(dev.UserID), idKey...), idKey)
		return wrapError(err, "failed userIdx write") // nil if err is nil...
	})
}

// UpdateFingerprint overwrites the stored device fingerprint.
func (self deviceStore) UpdateFingerprint(ctx context.Context, id int64, fingerprint string) error {
	return self.mutate(id, func(dev *devices.Device) {
		dev.Fingerprint = fingerprint
	})
}

// UpdateLastUsed records a successful login at time at.
func (self deviceStore) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	return self.mutate(id, func(dev *devices.Device) {
		dev.LastUsedAt = at
	})
}

// Revoke flips the Device status to revoked. The record is kept.
func (self deviceStore) Revoke(ctx context.Context, id int64) error {
	return self.mutate(id, func(dev *devices.Device) {
		dev.Status = devices.StatusRevoked
	})
}

func (self deviceStore) mutate(id int64, update func(dev *devices.Device)) error {
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		idKey := idKeyOf(id)
		var dev devices.Device
		err := loadDevice(tx, idKey, &dev)
		if nil != err {
			return err
		}
		update(&dev)
		srzdev, err := cbor.Marshal(&dev)
		if nil != err {
			return wrapError(err, "failed cbor.Marshal(dev)")
		}
		err = tx.Bucket(deviceTbl).Put(idKey, srzdev)
		return wrapError(err, "failed device record write") // nil if err is nil...
	})
}

func loadDevice(tx *bolt.Tx, idKey []byte, dst *devices.Device) error {
	srzdev := tx.Bucket(deviceTbl).Get(idKey)
	if nil == srzdev {
		return wrapError(devices.ErrNotFound, "unknown device id")
	}
	err := cbor.Unmarshal(srzdev, dst)
	return wrapError(err, "failed cbor.Unmarshal(dev)") // nil if err is nil...
}

func idKeyOf(id int64) []byte {
	var rv [8]byte
	binary.BigEndian.PutUint64(rv[:], uint64(id))
	return rv[:]
}
