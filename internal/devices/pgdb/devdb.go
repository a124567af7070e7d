// Package pgdb provides a devices.Store backed by postgres.
package pgdb

import (
	"context"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"code.rollmark.org/golang/internal/devices"
)

const pgUniqueViolation = "23505"

// PGDB is implemented by pgx.Tx, pgx.Conn & pgxpool.Pool
// accessing a postgres database through this common interface simplifies testing
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DeviceStore implements devices.Store on top of a postgres database.
type DeviceStore struct {
	DB PGDB
}

//go:embed schema.sql
var schemaScriptTpl string

// DeviceStoreMigrate creates the device registry schema.
func DeviceStoreMigrate(pgconn *pgx.Conn, dbschema string) error {

	// render schema creation script
	schemaName := pgx.Identifier{dbschema}.Sanitize()
	schemaScript := strings.ReplaceAll(schemaScriptTpl, "${schema_name}", schemaName)

	_, err := pgconn.Exec(context.Background(), schemaScript)

	return wrapError(err, "failed db schema initialization") // nil if err is nil...
}

// NewDeviceStore returns a DeviceStore connected to the database referenced by dsn.
func NewDeviceStore(ctx context.Context, dsn string) (*DeviceStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if nil != err {
		return nil, wrapError(err, "failed connection pool creation")
	}

	return &DeviceStore{DB: pool}, nil
}

const deviceColumns = `
	   id as "ID",
	   credential_id as "CredentialID",
	   user_id as "UserID",
	   public_key as "PublicKey",
	   handshake_secret as "HandshakeSecret",
	   aaguid as "AAGUID",
	   fingerprint as "Fingerprint",
	   status as "Status",
	   sign_count as "SignCount",
	   created_at as "CreatedAt",
	   last_used_at as "LastUsedAt"`

// FindByCredentialID loads the Device enrolled with credentialId into dst.
// It errors with devices.ErrNotFound if no such Device exists.
func (self *DeviceStore) FindByCredentialID(ctx context.Context, credentialId []byte, dst *devices.Device) error {
	rows, err := self.DB.Query(
		ctx,
		// columns are renamed to match devices.Device struct
		`SELECT `+deviceColumns+` FROM device WHERE credential_id = $1`,
		credentialId,
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	dev, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[devices.Device])
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(devices.ErrNotFound, "unknown credentialId")
		}
		return wrapError(err, "failed loading device")
	}
	*dst = dev

	return nil
}

// FindByUserID loads the enrolled Device of userId into dst.
// It errors with devices.ErrNotFound if the user has no enrolled Device.
func (self *DeviceStore) FindByUserID(ctx context.Context, userId int64, dst *devices.Device) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+deviceColumns+` FROM device WHERE user_id = $1 AND status = 'enrolled'`,
		userId,
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	dev, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[devices.Device])
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(devices.ErrNotFound, "user %d has no enrolled device", userId)
		}
		return wrapError(err, "failed loading device")
	}
	*dst = dev

	return nil
}

// FindAllByUserID lists the Devices of userId. Revoked Devices are included only
// when includeInactive is true.
func (self *DeviceStore) FindAllByUserID(ctx context.Context, userId int64, includeInactive bool) ([]devices.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM device WHERE user_id = $1`
	if !includeInactive {
		query += ` AND status = 'enrolled'`
	}
	rows, err := self.DB.Query(ctx, query, userId)
	if nil != err {
		return nil, wrapError(err, "failed DB.Query")
	}
	devs, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[devices.Device])
	return devs, wrapError(err, "failed pgx.CollectRows") // nil if err is nil
}

// Create persists dev and assigns its ID.
// It errors with devices.ErrDuplicate if the CredentialID is already registered.
func (self *DeviceStore) Create(ctx context.Context, dev *devices.Device) error {
	err := dev.Check()
	if nil != err {
		return wrapError(err, "can not save invalid device")
	}

	row := self.DB.QueryRow(
		ctx,
		`INSERT INTO device
		   (credential_id, user_id, public_key, handshake_secret, aaguid, fingerprint, status, sign_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		[]byte(dev.CredentialID),
		dev.UserID,
		dev.PublicKey,
		dev.HandshakeSecret,
		dev.AAGUID,
		dev.Fingerprint,
		dev.Status,
		int64(dev.SignCount),
		dev.CreatedAt,
	)
	err = row.Scan(&dev.ID)
	if nil != err {
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) && pgUniqueViolation == pgerr.Code {
			return wrapError(devices.ErrDuplicate, "credentialId already registered")
		}
		return wrapError(err, "failed saving device")
	}

	return nil
}

// UpdateFingerprint overwrites the stored device fingerprint.
func (self *DeviceStore) UpdateFingerprint(ctx context.Context, id int64, fingerprint string) error {
	tag, err := self.DB.Exec(
		ctx,
		`UPDATE device SET fingerprint = $2 WHERE id = $1`,
		id, fingerprint,
	)
	if nil != err {
		return wrapError(err, "failed UPDATE query")
	}
	if 0 == tag.RowsAffected() {
		return wrapError(devices.ErrNotFound, "unknown device id %d", id)
	}

	return nil
}

// UpdateLastUsed records a successful login at time at.
func (self *DeviceStore) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	tag, err := self.DB.Exec(
		ctx,
		`UPDATE device SET last_used_at = $2 WHERE id = $1`,
		id, at,
	)
	if nil != err {
		return wrapError(err, "failed UPDATE query")
	}
	if 0 == tag.RowsAffected() {
		return wrapError(devices.ErrNotFound, "unknown device id %d", id)
	}

	return nil
}

// Revoke flips the Device status to revoked. The record is kept.
func (self *DeviceStore) Revoke(ctx context.Context, id int64) error {
	tag, err := self.DB.Exec(
		ctx,
		`UPDATE device SET status = 'revoked' WHERE id = $1`,
		id,
	)
	if nil != err {
		return wrapError(err, "failed UPDATE query")
	}
	if 0 == tag.RowsAffected() {
		return wrapError(devices.ErrNotFound, "unknown device id %d", id)
	}

	return nil
}

var _ devices.Store = &DeviceStore{}
