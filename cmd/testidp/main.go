package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mikehadlow/samlproxy/internal/core"
	"github.com/mikehadlow/samlproxy/internal/idp"
	"github.com/mikehadlow/samlproxy/internal/keys"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/session"
	"github.com/mikehadlow/samlproxy/internal/store"
)

func main() {
	cfg := core.LoadIdpConfig()
	logger := core.NewLogger("test-idp", cfg.Debug)

	kp, err := loadKeys(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load signing keys")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := idp.Provision(ctx, st, cfg, kp); err != nil {
		logger.Fatal().Err(err).Msg("failed to provision connections")
	}

	sessions := session.NewManager("idp_auth", cfg.SessionSecret, time.Hour)
	app := idp.New(st, saml.NewEngine(saml.Config{}), sessions, logger)

	router := chi.NewRouter()
	router.Use(core.Recovery(logger))
	router.Use(core.RequestLogger(logger))
	router.Use(core.SecurityHeaders)
	app.Routes(router)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("base_url", cfg.BaseURL).Msg("test IdP starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("test IdP exited gracefully")
}

func loadKeys(cfg *core.IdpConfig) (keys.KeyPair, error) {
	if cfg.KeysBasePath == "" {
		return keys.EnsureDevKeys(core.DevKeysDir, "idp")
	}
	return keys.Load(cfg.KeysBasePath, cfg.PrivateKeyFile, cfg.CertificateFile, cfg.PrivateKeyPassword)
}
