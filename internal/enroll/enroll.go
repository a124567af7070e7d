// Package enroll implements the device enrollment flow.
//
// The flow walks no_device -> challenge_issued -> verified -> enrolled, or ends
// rejected. Attestation signature verification is delegated to the external
// Verifier collaborator; this package owns challenge bookkeeping, the AAGUID
// allowlist policy, the 1:1 device policy and handshake secret derivation.
package enroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"code.rollmark.org/golang/internal/devices"
	"code.rollmark.org/golang/internal/keys"
	"code.rollmark.org/golang/internal/observability"
	"code.rollmark.org/golang/internal/store"
)

// DefaultChallengeTTL is how long a registration ceremony may stay open.
const DefaultChallengeTTL = 5 * time.Minute

// challengeGrace keeps a lapsed challenge record around long enough to report
// ErrChallengeExpired instead of ErrChallengeNotFound.
const challengeGrace = time.Minute

// Challenge is the pending ceremony record, one per user.
type Challenge struct {
	Challenge []byte `cbor:"1,keyasint"`
	UserID    int64  `cbor:"2,keyasint"`
	CreatedAt int64  `cbor:"3,keyasint"`
	ExpiresAt int64  `cbor:"4,keyasint"`
}

// AAGUIDPolicy is the authorized authenticator allowlist.
type AAGUIDPolicy struct {
	// Enforce turns the allowlist on. When false every AAGUID passes.
	Enforce bool

	// AllowNull accepts an empty AAGUID (some platform authenticators).
	AllowNull bool

	// Allowed lists the authorized authenticator model GUIDs.
	Allowed []string
}

// Authorized reports whether aaguid passes the policy.
func (self AAGUIDPolicy) Authorized(aaguid string) bool {
	if !self.Enforce {
		return true
	}
	if "" == aaguid {
		return self.AllowNull
	}
	for _, allowed := range self.Allowed {
		if allowed == aaguid {
			return true
		}
	}
	return false
}

// Flow executes enrollment ceremonies.
type Flow struct {
	Devices      devices.Store
	KV           store.Store
	Verifier     Verifier
	Penalties    PenaltyChecker // optional
	Policy       AAGUIDPolicy
	Master       []byte
	ChallengeTTL time.Duration
}

// NewFlow validates the collaborator wiring and returns a Flow.
func NewFlow(devStore devices.Store, kv store.Store, verifier Verifier, policy AAGUIDPolicy, master []byte) (*Flow, error) {
	if nil == devStore {
		return nil, newError("nil device Store")
	}
	if nil == kv {
		return nil, newError("nil KV store")
	}
	if nil == verifier {
		return nil, newError("nil Verifier")
	}
	if len(master) < keys.SecretSize {
		return nil, newError("master secret length %d < %d", len(master), keys.SecretSize)
	}

	return &Flow{
		Devices:      devStore,
		KV:           kv,
		Verifier:     verifier,
		Policy:       policy,
		Master:       master,
		ChallengeTTL: DefaultChallengeTTL,
	}, nil
}

// Start opens a registration ceremony for the user.
//
// It errors with ErrChallengePending if a ceremony is already open and with
// ErrPenaltyActive when the penalty collaborator vetoes the user. Existing
// active credentials of the user are forwarded as excludeCredentials so an
// already enrolled authenticator can not accidentally re-register.
func (self *Flow) Start(ctx context.Context, userId int64, username, displayName string) (RegistrationOptions, error) {
	if userId <= 0 {
		return RegistrationOptions{}, newError("invalid userId %d <= 0", userId)
	}

	if nil != self.Penalties {
		active, err := self.Penalties.PenaltyActive(ctx, userId)
		if nil != err {
			return RegistrationOptions{}, wrapError(err, "failed penalty check")
		}
		if active {
			return RegistrationOptions{}, wrapError(ErrPenaltyActive, "user %d is in a penalty window", userId)
		}
	}

	var pending Challenge
	found, err := self.KV.Get(ctx, challengeKey(userId), &pending)
	if nil != err {
		return RegistrationOptions{}, wrapError(err, "failed pending challenge lookup")
	}
	if found && time.Now().UnixMilli() <= pending.ExpiresAt {
		return RegistrationOptions{}, wrapError(ErrChallengePending, "user %d has an open ceremony", userId)
	}

	existing, err := self.Devices.FindAllByUserID(ctx, userId, false)
	if nil != err {
		return RegistrationOptions{}, wrapError(err, "failed existing credential listing")
	}
	exclude := make([][]byte, 0, len(existing))
	for _, dev := range existing {
		exclude = append(exclude, dev.CredentialID)
	}

	options, err := self.Verifier.GenerateRegistrationOptions(ctx, userId, username, displayName, exclude)
	if nil != err {
		return RegistrationOptions{}, wrapError(err, "failed registration options generation")
	}
	if 0 == len(options.Challenge) {
		return RegistrationOptions{}, newError("verifier returned empty challenge")
	}

	now := time.Now()
	record := Challenge{
		Challenge: options.Challenge,
		UserID:    userId,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(self.challengeTTL()).UnixMilli(),
	}
	err = self.KV.SetTTL(ctx, challengeKey(userId), record, self.challengeTTL()+challengeGrace)
	if nil != err {
		return RegistrationOptions{}, wrapError(err, "failed challenge persistence")
	}

	return options, nil
}

// Finish completes a ceremony and persists the enrolled Device.
//
// The pending challenge is deleted before returning on every path, success or
// failure, so a half finished enrollment can never be retried against a stale
// challenge.
func (self *Flow) Finish(ctx context.Context, userId int64, credential json.RawMessage, fingerprint string) (dev devices.Device, err error) {
	log := observability.GetObservability(ctx).Log()

	var pending Challenge
	found, err := self.KV.Get(ctx, challengeKey(userId), &pending)
	if nil != err {
		return dev, wrapError(err, "failed challenge lookup")
	}

	// challenge is single use whatever happens next
	defer func() {
		delErr := self.KV.Delete(ctx, challengeKey(userId))
		if nil != delErr {
			log.Error("failed deleting enrollment challenge", "userId", userId, "err", delErr)
		}
	}()

	if !found {
		return dev, wrapError(ErrChallengeNotFound, "user %d has no open ceremony", userId)
	}
	if time.Now().UnixMilli() > pending.ExpiresAt {
		return dev, wrapError(ErrChallengeExpired, "ceremony of user %d lapsed", userId)
	}

	registration, err := self.Verifier.VerifyRegistration(ctx, credential, pending.Challenge)
	if nil != err {
		return dev, wrapError(ErrVerificationFailed, "verifier rejected the credential: %v", err)
	}
	if !registration.Verified {
		return dev, wrapError(ErrVerificationFailed, "verifier reported verified=false")
	}

	if !self.Policy.Authorized(registration.AAGUID) {
		return dev, wrapError(ErrAAGUIDNotAuthorized, "authenticator model %q is not allowlisted", registration.AAGUID)
	}

	var conflict devices.Device
	err = self.Devices.FindByCredentialID(ctx, registration.CredentialID, &conflict)
	if nil == err {
		return dev, wrapError(ErrCredentialExists, "credential already enrolled")
	}
	if !errors.Is(err, devices.ErrNotFound) {
		return dev, wrapError(err, "failed duplicate credential lookup")
	}

	// 1:1 policy, re-enrollment revokes the prior device
	prior, err := self.Devices.FindAllByUserID(ctx, userId, false)
	if nil != err {
		return dev, wrapError(err, "failed prior device listing")
	}
	for _, old := range prior {
		err = self.Devices.Revoke(ctx, old.ID)
		if nil != err {
			return dev, wrapError(err, "failed revoking prior device %d", old.ID)
		}
		log.Info("revoked prior device", "userId", userId, "deviceId", old.ID)
	}

	secret, err := keys.DeriveHandshakeSecret(registration.CredentialID, userId, self.Master)
	if nil != err {
		return dev, wrapError(err, "failed handshake secret derivation")
	}

	dev = devices.Device{
		CredentialID:    registration.CredentialID,
		UserID:          userId,
		PublicKey:       registration.PublicKey,
		HandshakeSecret: secret,
		AAGUID:          registration.AAGUID,
		Fingerprint:     fingerprint,
		Status:          devices.StatusEnrolled,
		SignCount:       registration.Counter,
		CreatedAt:       time.Now(),
	}
	err = self.Devices.Create(ctx, &dev)
	if nil != err {
		if errors.Is(err, devices.ErrDuplicate) {
			return devices.Device{}, wrapError(ErrCredentialExists, "credential already enrolled")
		}
		return devices.Device{}, wrapError(err, "failed device persistence")
	}

	log.Info("enrolled device", "userId", userId, "deviceId", dev.ID, "aaguid", dev.AAGUID)

	return dev, nil
}

func (self *Flow) challengeTTL() time.Duration {
	if self.ChallengeTTL <= 0 {
		return DefaultChallengeTTL
	}
	return self.ChallengeTTL
}

func challengeKey(userId int64) string {
	return fmt.Sprintf("enroll:%d", userId)
}
