package qrpayload

import (
	"errors"
	"strings"
	"testing"
)

func mustBuild(t *testing.T, params BuildParams) Payload {
	t.Helper()
	payload, err := Build(params)
	if nil != err {
		t.Fatalf("failed building payload, got error %v", err)
	}
	return payload
}

func TestBuildDefaults(t *testing.T) {
	payload := mustBuild(t, BuildParams{SessionID: "sess-1", SubjectID: 42, Round: 2})

	if Version != payload.V {
		t.Errorf("failed versioning, got %d", payload.V)
	}
	if NonceHexLen != len(payload.N) {
		t.Errorf("failed nonce generation, got %q", payload.N)
	}
	if payload.TS <= 0 {
		t.Errorf("failed timestamp defaulting, got %d", payload.TS)
	}

	// generated nonces do not repeat
	other := mustBuild(t, BuildParams{SessionID: "sess-1", SubjectID: 42, Round: 2})
	if payload.N == other.N {
		t.Error("Oops, two payloads share a nonce")
	}
}

func TestBuildExplicit(t *testing.T) {
	nonce := strings.Repeat("ab", NonceSize)
	payload := mustBuild(t, BuildParams{
		SessionID: "sess-1",
		SubjectID: 42,
		Round:     1,
		Nonce:     nonce,
		TS:        1_700_000_000_000,
	})
	if nonce != payload.N || 1_700_000_000_000 != payload.TS {
		t.Errorf("failed explicit fields, got %+v", payload)
	}
}

func TestPayloadCheck(t *testing.T) {
	base := mustBuild(t, BuildParams{SessionID: "sess-1", SubjectID: 42, Round: 1})

	cases := []struct {
		name   string
		mutate func(*Payload)
	}{
		{"bad version", func(p *Payload) { p.V = 2 }},
		{"empty session", func(p *Payload) { p.SID = "" }},
		{"zero round", func(p *Payload) { p.R = 0 }},
		{"zero timestamp", func(p *Payload) { p.TS = 0 }},
		{"short nonce", func(p *Payload) { p.N = "abcd" }},
		{"non hex nonce", func(p *Payload) { p.N = strings.Repeat("zz", NonceSize) }},
	}
	for _, tc := range cases {
		payload := base
		tc.mutate(&payload)
		err := payload.Check()
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: failed rejection, got error %v", tc.name, err)
		}
	}
}

func TestPayloadEqual(t *testing.T) {
	base := mustBuild(t, BuildParams{SessionID: "sess-1", SubjectID: 42, Round: 1})

	if !base.Equal(base) {
		t.Error("Oops, payload differs from itself")
	}

	tampered := base
	tampered.UID = 43
	if base.Equal(tampered) {
		t.Error("Oops, tampered payload compares equal")
	}
}
