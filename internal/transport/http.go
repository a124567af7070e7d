// Package transport is the HTTP boundary of the protocol core.
//
// The protocol itself is transport agnostic; this package only decodes
// requests, maps outcomes and error flags to coarse user-facing codes, and
// pushes the projection feed over Server Sent Events.
package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"code.rollmark.org/golang/internal/devices"
	"code.rollmark.org/golang/internal/enroll"
	"code.rollmark.org/golang/internal/login"
	"code.rollmark.org/golang/internal/observability"
	"code.rollmark.org/golang/internal/pool"
	"code.rollmark.org/golang/internal/utils"
	"code.rollmark.org/golang/internal/verify"
)

// Server bundles the protocol flows behind an HTTP router.
type Server struct {
	Enroll       *enroll.Flow
	Login        *login.Flow
	Pipeline     *verify.Pipeline
	Pool         *pool.Pool
	EmitInterval time.Duration
	DecoyCount   int
}

// Router returns the configured mux router wrapped with observability.
func (self *Server) Router() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/enroll/start", self.handleEnrollStart).Methods("POST")
	api.HandleFunc("/enroll/finish", self.handleEnrollFinish).Methods("POST")
	api.HandleFunc("/login", self.handleLogin).Methods("POST")
	api.HandleFunc("/sessions/{sid}/register", self.handleRegister).Methods("POST")
	api.HandleFunc("/sessions/{sid}/qr", self.handleRequestQR).Methods("POST")
	api.HandleFunc("/sessions/{sid}/scan", self.handleScan).Methods("POST")
	api.HandleFunc("/sessions/{sid}/feed", self.handleFeed).Methods("GET")

	mw := observability.Middleware{TraceIdHeader: "X-Trace-Id"}
	return mw.Wrap(router)
}

type enrollStartReq struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (self *Server) handleEnrollStart(w http.ResponseWriter, r *http.Request) {
	var req enrollStartReq
	if !decode(w, r, &req) {
		return
	}
	options, err := self.Enroll.Start(r.Context(), req.UserID, req.Username, req.DisplayName)
	if nil != err {
		writeFlagged(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

type enrollFinishReq struct {
	UserID      int64           `json:"user_id"`
	Credential  json.RawMessage `json:"credential"`
	Fingerprint string          `json:"fingerprint"`
}

func (self *Server) handleEnrollFinish(w http.ResponseWriter, r *http.Request) {
	var req enrollFinishReq
	if !decode(w, r, &req) {
		return
	}
	dev, err := self.Enroll.Finish(r.Context(), req.UserID, req.Credential, req.Fingerprint)
	if nil != err {
		writeFlagged(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":     dev.ID,
		"credential_id": dev.CredentialID,
		"aaguid":        dev.AAGUID,
		"status":        dev.Status,
	})
}

type loginReq struct {
	UserID          json.Number     `json:"user_id"`
	CredentialID    utils.HexBinary `json:"credential_id"`
	ClientPublicKey string          `json:"client_public_key"`
	Fingerprint     string          `json:"fingerprint"`
}

func (self *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if !decode(w, r, &req) {
		return
	}
	point, err := base64.StdEncoding.DecodeString(req.ClientPublicKey)
	if nil != err {
		writeCode(w, http.StatusBadRequest, "INVALID_PUBLIC_KEY")
		return
	}
	resp, err := self.Login.Login(r.Context(), login.Request{
		UserID:          req.UserID,
		CredentialID:    req.CredentialID,
		ClientPublicKey: point,
		Fingerprint:     req.Fingerprint,
	})
	if nil != err {
		writeFlagged(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionReq struct {
	StudentID int64  `json:"student_id"`
	Response  string `json:"response,omitempty"`
}

func (self *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if !decode(w, r, &req) {
		return
	}
	res, err := self.Pipeline.Register(r.Context(), mux.Vars(r)["sid"], req.StudentID)
	self.writeResult(w, r, res, err)
}

func (self *Server) handleRequestQR(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if !decode(w, r, &req) {
		return
	}
	res, err := self.Pipeline.RequestQR(r.Context(), mux.Vars(r)["sid"], req.StudentID)
	self.writeResult(w, r, res, err)
}

func (self *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if !decode(w, r, &req) {
		return
	}
	res, err := self.Pipeline.Validate(r.Context(), mux.Vars(r)["sid"], req.StudentID, req.Response)
	self.writeResult(w, r, res, err)
}

// handleFeed streams the projection rotation at the configured cadence.
func (self *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeCode(w, http.StatusInternalServerError, "INTERNAL_ERROR")
		return
	}
	sessionId := mux.Vars(r)["sid"]
	log := observability.GetObservability(r.Context()).Log()

	// opening the projection surface seeds the decoys of the session
	if self.DecoyCount > 0 {
		err := self.Pool.Seed(r.Context(), sessionId, self.DecoyCount)
		if nil != err {
			log.Error("failed decoy seeding", "sessionId", sessionId, "err", err)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	interval := self.EmitInterval
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			entry, err := self.Pool.Emit(r.Context(), sessionId)
			if nil != err {
				log.Error("failed pool emission", "sessionId", sessionId, "err", err)
				continue
			}
			_, err = w.Write([]byte("data: "))
			if nil == err {
				err = encoder.Encode(entry)
			}
			if nil == err {
				_, err = w.Write([]byte("\n"))
			}
			if nil != err {
				return
			}
			flusher.Flush()
		}
	}
}

// writeResult maps the pipeline verdict onto an HTTP response.
func (self *Server) writeResult(w http.ResponseWriter, r *http.Request, res verify.Result, err error) {
	if nil != err {
		log := observability.GetObservability(r.Context()).Log()
		log.Error("pipeline fault", "err", err)
		writeCode(w, http.StatusInternalServerError, verify.OutcomeInternal.Code())
		return
	}
	writeJSON(w, statusOf(res.Outcome), map[string]any{
		"code":     res.Outcome.Code(),
		"terminal": res.Outcome.Terminal(),
		"result":   res,
	})
}

// statusOf maps every Outcome kind to an HTTP status. The switch is exhaustive
// over the closed enum; adding an Outcome without extending it falls through to
// a server fault, which is loud in tests.
func statusOf(outcome verify.Outcome) int {
	switch outcome {
	case verify.OutcomeOK:
		return http.StatusOK
	case verify.OutcomeDecryptionFailed,
		verify.OutcomeInvalidFormat:
		return http.StatusBadRequest
	case verify.OutcomeNotRegistered:
		return http.StatusNotFound
	case verify.OutcomeSessionNotActive,
		verify.OutcomeRoundNotReached,
		verify.OutcomeRoundAlreadyCompleted,
		verify.OutcomeQRNotActive,
		verify.OutcomeQRExpired,
		verify.OutcomeAlreadyConsumed,
		verify.OutcomeNoAttemptsLeft:
		return http.StatusConflict
	case verify.OutcomeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// writeFlagged maps flow error flags to coarse codes. Infrastructure faults are
// logged with context and surface as INTERNAL_ERROR.
func writeFlagged(w http.ResponseWriter, r *http.Request, err error) {
	for _, entry := range flagTable {
		if errors.Is(err, entry.flag) {
			writeCode(w, entry.status, entry.code)
			return
		}
	}
	log := observability.GetObservability(r.Context()).Log()
	log.Error("flow fault", "err", err)
	writeCode(w, http.StatusInternalServerError, "INTERNAL_ERROR")
}

var flagTable = []struct {
	flag   error
	status int
	code   string
}{
	{enroll.ErrChallengePending, http.StatusConflict, "CHALLENGE_PENDING"},
	{enroll.ErrChallengeNotFound, http.StatusNotFound, "CHALLENGE_NOT_FOUND"},
	{enroll.ErrChallengeExpired, http.StatusGone, "CHALLENGE_EXPIRED"},
	{enroll.ErrPenaltyActive, http.StatusTooManyRequests, "PENALTY_ACTIVE"},
	{enroll.ErrVerificationFailed, http.StatusUnauthorized, "VERIFICATION_FAILED"},
	{enroll.ErrAAGUIDNotAuthorized, http.StatusForbidden, "AAGUID_NOT_AUTHORIZED"},
	{enroll.ErrCredentialExists, http.StatusConflict, "CREDENTIAL_ALREADY_EXISTS"},
	{login.ErrDeviceNotFound, http.StatusNotFound, "DEVICE_NOT_FOUND"},
	{login.ErrDeviceNotOwned, http.StatusForbidden, "DEVICE_NOT_OWNED"},
	{login.ErrSessionNotAllowed, http.StatusForbidden, "SESSION_NOT_ALLOWED"},
	{login.ErrBadPublicKey, http.StatusBadRequest, "INVALID_PUBLIC_KEY"},
	{devices.ErrNotFound, http.StatusNotFound, "DEVICE_NOT_FOUND"},
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	err := decoder.Decode(dst)
	if nil != err {
		writeCode(w, http.StatusBadRequest, "INVALID_FORMAT")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"code": code})
}
