// Command cloudshelld is the CloudShell gateway: a single static binary
// serving the REST/WebSocket API, owning the SQLite database, and
// optionally hosting the built single-page UI.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/iu2frl/cloudshell/internal/api"
	"github.com/iu2frl/cloudshell/internal/audit"
	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/config"
	"github.com/iu2frl/cloudshell/internal/credentials"
	"github.com/iu2frl/cloudshell/internal/devices"
	"github.com/iu2frl/cloudshell/internal/hostkeys"
	"github.com/iu2frl/cloudshell/internal/session"
	"github.com/iu2frl/cloudshell/internal/store"
	"github.com/iu2frl/cloudshell/internal/vault"
)

var log = logrus.WithField("component", "cloudshelld")

func main() {
	initLogger()

	if err := run(); err != nil {
		log.WithError(err).Fatal("cloudshelld exited with error")
	}
}

func initLogger() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)
	if os.Getenv("DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return trace.Wrap(err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return trace.Wrap(err)
	}
	defer db.Close()

	v, err := vault.New(cfg.SecretKey, cfg.KeysDir)
	if err != nil {
		return trace.Wrap(err)
	}

	credTempDir := cfg.DataDir + "/keys/tmp"
	credMat, err := credentials.New(v, credTempDir)
	if err != nil {
		return trace.Wrap(err)
	}

	knownHostsPath := cfg.DataDir + "/known_hosts"
	policy, err := hostkeys.New(knownHostsPath)
	if err != nil {
		return trace.Wrap(err)
	}

	authStore, err := auth.New(auth.Config{
		DB:              db,
		SecretKey:       cfg.SecretKey,
		TokenTTL:        time.Duration(cfg.TokenTTLHours) * time.Hour,
		DefaultUsername: cfg.AdminUser,
		DefaultPassword: cfg.AdminPassword,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	h := api.New(cfg.AuditRetentionDays)
	h.Auth = authStore
	h.Devices = devices.New(db)
	h.Credentials = credMat
	h.Vault = v
	h.Policy = policy
	h.Sessions = session.NewRegistry()
	h.Audit = audit.New(db)

	handler := h.NewRouter(cfg.CORSOrigins, cfg.StaticDir)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return trace.Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	h.Sessions.CloseAll()
	return nil
}
