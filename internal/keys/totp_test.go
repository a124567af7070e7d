package keys

import (
	"bytes"
	"testing"
	"time"
)

var totpSecret = bytes.Repeat([]byte{0x42}, SecretSize)

func TestGenerateTOTP(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)

	code, err := GenerateTOTP(totpSecret, at)
	if nil != err {
		t.Fatalf("failed generating code, got error %v", err)
	}
	if TotpDigits != len(code) {
		t.Fatalf("failed code sizing, got %q", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("failed code alphabet, got %q", code)
		}
	}

	// same window, same code
	again, err := GenerateTOTP(totpSecret, at.Add(29*time.Second))
	if nil != err {
		t.Fatalf("failed generating code, got error %v", err)
	}
	if code != again {
		t.Errorf("failed window stability, got %q != %q", again, code)
	}
}

func TestValidateTOTPWindow(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	code, err := GenerateTOTP(totpSecret, at)
	if nil != err {
		t.Fatalf("failed generating code, got error %v", err)
	}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"same window", at, true},
		{"previous window", at.Add(-TotpStep), true},
		{"next window", at.Add(TotpStep), true},
		{"two windows late", at.Add(2 * TotpStep), false},
		{"two windows early", at.Add(-2 * TotpStep), false},
	}
	for _, tc := range cases {
		ok, err := ValidateTOTP(totpSecret, code, tc.at)
		if nil != err {
			t.Fatalf("%s: failed validating code, got error %v", tc.name, err)
		}
		if tc.want != ok {
			t.Errorf("%s: got %v, want %v", tc.name, ok, tc.want)
		}
	}
}

func TestValidateTOTPRejects(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)

	ok, err := ValidateTOTP(totpSecret, "12345", at)
	if nil != err || ok {
		t.Errorf("Oops, accepted a short code, got %v / %v", ok, err)
	}

	other := bytes.Repeat([]byte{0x24}, SecretSize)
	code, err := GenerateTOTP(other, at)
	if nil != err {
		t.Fatalf("failed generating code, got error %v", err)
	}
	ok, err = ValidateTOTP(totpSecret, code, at)
	if nil != err {
		t.Fatalf("failed validating code, got error %v", err)
	}
	if ok {
		t.Error("Oops, accepted a code from another secret")
	}

	_, err = ValidateTOTP(totpSecret[:16], code, at)
	if nil == err {
		t.Error("Oops, accepted a short secret")
	}
}
