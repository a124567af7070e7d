// Command rollmarkd runs the QR attendance verification service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"

	"code.rollmark.org/golang/internal/config"
	"code.rollmark.org/golang/internal/devices"
	devbolt "code.rollmark.org/golang/internal/devices/boltdb"
	devpg "code.rollmark.org/golang/internal/devices/pgdb"
	"code.rollmark.org/golang/internal/enroll"
	"code.rollmark.org/golang/internal/login"
	"code.rollmark.org/golang/internal/observability"
	"code.rollmark.org/golang/internal/pool"
	"code.rollmark.org/golang/internal/qrpayload"
	"code.rollmark.org/golang/internal/rounds"
	"code.rollmark.org/golang/internal/store"
	"code.rollmark.org/golang/internal/transport"
	"code.rollmark.org/golang/internal/verify"
)

const usageFmt = `
Command Usage: %s [Flags]
  Run the RollMark attendance verification service.

Flags:
------
`

func main() {
	err := run(os.Args[0], os.Args[1:])
	if nil != err {
		fmt.Fprintf(os.Stderr, "rollmarkd: %v\n", err)
		os.Exit(1)
	}
}

func run(progname string, args []string) error {
	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}
	var cfgPath string
	flags.StringVar(&cfgPath, "c", "rollmark.toml", "path of the TOML configuration file")
	var debug bool
	flags.BoolVar(&debug, "debug", false, "lower the log level to debug")
	err := flags.Parse(args)
	if nil != err {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if nil != err {
		return err
	}
	master, err := cfg.Master()
	if nil != err {
		return err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := observability.NewTextLogger(level)
	obs := &observability.Observability{Logger: logger}
	ctx := observability.SetObservability(context.Background(), obs)

	devStore, err := newDeviceStore(ctx, cfg)
	if nil != err {
		return err
	}
	kv := store.NewMemStore()

	verifier, err := enroll.NewHTTPVerifier(cfg.Enroll.VerifierURL, nil)
	if nil != err {
		return err
	}
	enforce, allowNull, allowed := cfg.AAGUIDPolicy()
	enrollFlow, err := enroll.NewFlow(devStore, kv, verifier, enroll.AAGUIDPolicy{
		Enforce:   enforce,
		AllowNull: allowNull,
		Allowed:   allowed,
	}, master)
	if nil != err {
		return err
	}
	enrollFlow.ChallengeTTL = cfg.ChallengeTTL()

	loginFlow, err := login.NewFlow(devStore, kv, cfg.SessionKeyTTL())
	if nil != err {
		return err
	}
	roundSvc, err := rounds.NewService(kv, cfg.Session.MaxRounds, cfg.Session.MaxAttempts, cfg.SessionTTL())
	if nil != err {
		return err
	}
	payloads, err := qrpayload.NewStore(kv, cfg.QRTTL())
	if nil != err {
		return err
	}
	projection, err := pool.New(kv, cfg.Session.MaxRounds, cfg.SessionTTL())
	if nil != err {
		return err
	}
	pipeline, err := verify.NewPipeline(roundSvc, payloads, projection, loginFlow)
	if nil != err {
		return err
	}

	server := &transport.Server{
		Enroll:       enrollFlow,
		Login:        loginFlow,
		Pipeline:     pipeline,
		Pool:         projection,
		EmitInterval: cfg.EmitInterval(),
		DecoyCount:   cfg.QR.DecoyCount,
	}

	logger.Info("rollmarkd listening", "addr", cfg.Listen, "devices", cfg.Devices.Driver)

	return http.ListenAndServe(cfg.Listen, withBaseContext(ctx, server.Router()))
}

func withBaseContext(ctx context.Context, next http.Handler) http.Handler {
	obs := observability.GetObservability(ctx)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.Clone(observability.SetObservability(r.Context(), obs)))
	})
}

func newDeviceStore(ctx context.Context, cfg config.Config) (devices.Store, error) {
	switch cfg.Devices.Driver {
	case "memory":
		return devices.NewMemStore(), nil
	case "bolt":
		return devbolt.New(cfg.Devices.Path)
	case "postgres":
		return devpg.NewDeviceStore(ctx, cfg.Devices.DSN)
	default:
		return nil, fmt.Errorf("unsupported devices driver %q", cfg.Devices.Driver)
	}
}
