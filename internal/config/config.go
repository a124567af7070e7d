// Package config loads and validates the rollmarkd configuration file.
package config

import (
	"encoding/hex"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the complete service configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `toml:"listen"`

	// MasterSecret is the hex encoded handshake derivation secret, >= 32 bytes.
	MasterSecret string `toml:"master_secret"`

	Devices DevicesConfig `toml:"devices"`
	Enroll  EnrollConfig  `toml:"enroll"`
	Session SessionConfig `toml:"session"`
	QR      QRConfig      `toml:"qr"`
}

// DevicesConfig selects the device registry backend.
type DevicesConfig struct {
	// Driver is one of "memory", "bolt", "postgres".
	Driver string `toml:"driver"`

	// Path is the bolt database file (bolt driver).
	Path string `toml:"path"`

	// DSN is the postgres connection string (postgres driver).
	DSN string `toml:"dsn"`
}

// EnrollConfig tunes the enrollment ceremony.
type EnrollConfig struct {
	ChallengeTTLSeconds int `toml:"challenge_ttl_seconds"`

	// VerifierURL is the base URL of the external attestation verifier.
	VerifierURL string `toml:"verifier_url"`

	// AAGUID allowlist policy.
	EnforceAAGUID bool     `toml:"enforce_aaguid"`
	AllowNull     bool     `toml:"allow_null_aaguid"`
	AllowedAAGUID []string `toml:"allowed_aaguid"`
}

// SessionConfig bounds the attendance session.
type SessionConfig struct {
	MaxRounds     int `toml:"max_rounds"`
	MaxAttempts   int `toml:"max_attempts"`
	TTLMinutes    int `toml:"ttl_minutes"`
	KeyTTLMinutes int `toml:"key_ttl_minutes"`
}

// QRConfig tunes QR emission.
type QRConfig struct {
	TTLSeconds     int `toml:"ttl_seconds"`
	DecoyCount     int `toml:"decoy_count"`
	EmitIntervalMs int `toml:"emit_interval_ms"`
}

// Default returns the configuration used when a field is left unset.
func Default() Config {
	return Config{
		Listen: ":8443",
		Devices: DevicesConfig{
			Driver: "memory",
		},
		Enroll: EnrollConfig{
			ChallengeTTLSeconds: 300,
			EnforceAAGUID:       true,
		},
		Session: SessionConfig{
			MaxRounds:     3,
			MaxAttempts:   2,
			TTLMinutes:    240,
			KeyTTLMinutes: 240,
		},
		QR: QRConfig{
			TTLSeconds:     30,
			DecoyCount:     5,
			EmitIntervalMs: 400,
		},
	}
}

// Load reads the TOML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, &cfg)
	if nil != err {
		return Config{}, wrapError(err, "failed decoding %s", path)
	}
	err = cfg.Check()
	if nil != err {
		return Config{}, wrapError(err, "invalid configuration in %s", path)
	}

	return cfg, nil
}

// Check returns an error if the Config is invalid.
func (self *Config) Check() error {
	if nil == self {
		return newError("nil Config")
	}
	if "" == self.Listen {
		return newError("empty listen address")
	}
	master, err := self.Master()
	if nil != err {
		return err
	}
	if len(master) < 32 {
		return newError("master secret length %d < 32", len(master))
	}
	switch self.Devices.Driver {
	case "memory":
	case "bolt":
		if "" == self.Devices.Path {
			return newError("bolt driver needs devices.path")
		}
	case "postgres":
		if "" == self.Devices.DSN {
			return newError("postgres driver needs devices.dsn")
		}
	default:
		return newError("unsupported devices driver %q", self.Devices.Driver)
	}
	if "" == self.Enroll.VerifierURL {
		return newError("empty enroll.verifier_url")
	}
	if self.Session.MaxRounds < 1 {
		return newError("invalid session.max_rounds %d < 1", self.Session.MaxRounds)
	}
	if self.Session.MaxAttempts < 1 {
		return newError("invalid session.max_attempts %d < 1", self.Session.MaxAttempts)
	}
	if self.QR.TTLSeconds < 1 {
		return newError("invalid qr.ttl_seconds %d < 1", self.QR.TTLSeconds)
	}
	if self.QR.DecoyCount < 0 {
		return newError("invalid qr.decoy_count %d < 0", self.QR.DecoyCount)
	}
	if self.QR.EmitIntervalMs < 50 {
		return newError("invalid qr.emit_interval_ms %d < 50", self.QR.EmitIntervalMs)
	}

	return nil
}

// Master returns the decoded master secret.
func (self *Config) Master() ([]byte, error) {
	master, err := hex.DecodeString(self.MasterSecret)
	return master, wrapError(err, "master secret is not hex encoded") // nil if err is nil...
}

// QRTTL returns the QR time to live.
func (self *Config) QRTTL() time.Duration {
	return time.Duration(self.QR.TTLSeconds) * time.Second
}

// SessionTTL returns the session state time to live.
func (self *Config) SessionTTL() time.Duration {
	return time.Duration(self.Session.TTLMinutes) * time.Minute
}

// SessionKeyTTL returns the session key time to live.
func (self *Config) SessionKeyTTL() time.Duration {
	return time.Duration(self.Session.KeyTTLMinutes) * time.Minute
}

// ChallengeTTL returns the enrollment challenge time to live.
func (self *Config) ChallengeTTL() time.Duration {
	return time.Duration(self.Enroll.ChallengeTTLSeconds) * time.Second
}

// EmitInterval returns the projection cadence.
func (self *Config) EmitInterval() time.Duration {
	return time.Duration(self.QR.EmitIntervalMs) * time.Millisecond
}

// AAGUIDPolicy returns the allowlist policy tuple.
func (self *Config) AAGUIDPolicy() (enforce, allowNull bool, allowed []string) {
	return self.Enroll.EnforceAAGUID, self.Enroll.AllowNull, self.Enroll.AllowedAAGUID
}
