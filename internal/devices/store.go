package devices

import (
	"context"
	"time"
)

// Store gives access to the Device registry.
//
// The registry is read often and written rarely (enroll, revoke, login). All
// lookups load into a dst pointer and flag absence with ErrNotFound.
type Store interface {

	// FindByCredentialID loads the Device enrolled with credentialId into dst.
	// It errors with ErrNotFound if no such Device exists.
	FindByCredentialID(ctx context.Context, credentialId []byte, dst *Device) error

	// FindByUserID loads the enrolled Device of userId into dst.
	// It errors with ErrNotFound if the user has no enrolled Device.
	FindByUserID(ctx context.Context, userId int64, dst *Device) error

	// FindAllByUserID lists the Devices of userId. Revoked Devices are included
	// only when includeInactive is true.
	FindAllByUserID(ctx context.Context, userId int64, includeInactive bool) ([]Device, error)

	// Create persists dev and assigns its ID.
	// It errors with ErrDuplicate if the CredentialID is already registered.
	Create(ctx context.Context, dev *Device) error

	// UpdateFingerprint overwrites the stored device fingerprint.
	UpdateFingerprint(ctx context.Context, id int64, fingerprint string) error

	// UpdateLastUsed records a successful login at time at.
	UpdateLastUsed(ctx context.Context, id int64, at time.Time) error

	// Revoke flips the Device status to revoked. The record is kept.
	Revoke(ctx context.Context, id int64) error
}
