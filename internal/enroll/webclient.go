package enroll

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
)

// httpClient is a private interface that simplify mocking http.Client.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPVerifier calls an external attestation verifier service over HTTP.
//
// The remote service exposes 2 JSON endpoints,
// POST {base}/registration/options and POST {base}/registration/verify.
type HTTPVerifier struct {
	baseUrl string
	cli     httpClient
}

var _ Verifier = &HTTPVerifier{}

// NewHTTPVerifier returns an HTTPVerifier targetting baseUrl.
// nil cli defaults to http.DefaultClient.
func NewHTTPVerifier(baseUrl string, cli httpClient) (*HTTPVerifier, error) {
	u, err := url.Parse(baseUrl)
	if nil != err {
		return nil, wrapError(err, "invalid baseUrl")
	}
	if !slices.Contains([]string{"http", "https"}, u.Scheme) {
		return nil, newError("invalid baseUrl scheme %s", u.Scheme)
	}
	if nil == cli {
		cli = http.DefaultClient
	}

	return &HTTPVerifier{baseUrl: strippedSlash(baseUrl), cli: cli}, nil
}

type optionsReq struct {
	UserId      int64    `json:"user_id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Exclude     [][]byte `json:"exclude_credentials,omitempty"`
}

type verifyReq struct {
	Credential json.RawMessage `json:"credential"`
	Challenge  []byte          `json:"expected_challenge"`
}

// GenerateRegistrationOptions implements the Verifier interface.
func (self *HTTPVerifier) GenerateRegistrationOptions(
	ctx context.Context, userId int64, username, displayName string, existing [][]byte,
) (RegistrationOptions, error) {
	var opts RegistrationOptions
	msg := optionsReq{UserId: userId, Username: username, DisplayName: displayName, Exclude: existing}
	err := self.post(ctx, "/registration/options", msg, &opts)
	if nil != err {
		return RegistrationOptions{}, wrapError(err, "failed registration/options call")
	}
	if 0 == len(opts.Challenge) {
		return RegistrationOptions{}, newError("invalid verifier response miss challenge")
	}

	return opts, nil
}

// VerifyRegistration implements the Verifier interface.
func (self *HTTPVerifier) VerifyRegistration(
	ctx context.Context, credential json.RawMessage, expectedChallenge []byte,
) (Registration, error) {
	var reg Registration
	msg := verifyReq{Credential: credential, Challenge: expectedChallenge}
	err := self.post(ctx, "/registration/verify", msg, &reg)
	if nil != err {
		return Registration{}, wrapError(err, "failed registration/verify call")
	}

	return reg, nil
}

// post serializes msg, POSTs it to self.baseUrl+path and deserializes the
// response body into dst.
func (self *HTTPVerifier) post(ctx context.Context, path string, msg, dst any) error {
	srzmsg, err := json.Marshal(msg)
	if nil != err {
		return wrapError(err, "failed serializing request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, self.baseUrl+path, bytes.NewReader(srzmsg))
	if nil != err {
		return wrapError(err, "failed instantiating http Request")
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := self.cli.Do(req)
	if nil != err {
		return wrapError(err, "failed http POST request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 || resp.StatusCode < 200 {
		return newError("failed http POST request, got status %d", resp.StatusCode)
	}
	srzmsg, err = io.ReadAll(resp.Body)
	if nil != err {
		return wrapError(err, "failed reading resp.Body")
	}
	err = json.Unmarshal(srzmsg, dst)
	if nil != err {
		return wrapError(err, "failed deserializing resp.Body")
	}

	return nil
}

func strippedSlash(u string) string {
	for len(u) > 0 && '/' == u[len(u)-1] {
		u = u[:len(u)-1]
	}
	return u
}
