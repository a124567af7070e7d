package enroll

import (
	"context"
	"encoding/json"
)

// RegistrationOptions is what the external attestation verifier hands back when a
// registration ceremony starts. Options is forwarded opaque to the client.
type RegistrationOptions struct {
	Challenge []byte          `json:"challenge"`
	Options   json.RawMessage `json:"options"`
}

// Registration is the outcome of attestation verification.
//
// The verifier owns all signature checking; this package only consumes the
// extracted credential material.
type Registration struct {
	Verified     bool   `json:"verified"`
	CredentialID []byte `json:"credential_id"`
	PublicKey    []byte `json:"public_key"`
	AAGUID       string `json:"aaguid"`
	Counter      uint32 `json:"counter"`
	Fmt          string `json:"fmt"`
}

// Verifier is the external WebAuthn collaborator contract.
type Verifier interface {
	// GenerateRegistrationOptions starts a ceremony for the user. existing lists
	// the credential ids the authenticator must refuse to re-register.
	GenerateRegistrationOptions(ctx context.Context, userId int64, username, displayName string, existing [][]byte) (RegistrationOptions, error)

	// VerifyRegistration checks the attestation response against
	// expectedChallenge.
	VerifyRegistration(ctx context.Context, credential json.RawMessage, expectedChallenge []byte) (Registration, error)
}

// PenaltyChecker reports whether userId sits in an enrollment penalty window.
// The window policy itself lives outside the protocol core.
type PenaltyChecker interface {
	PenaltyActive(ctx context.Context, userId int64) (bool, error)
}
