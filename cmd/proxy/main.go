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
	"github.com/mikehadlow/samlproxy/internal/keys"
	"github.com/mikehadlow/samlproxy/internal/proxy"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/store"
)

func main() {
	cfg := core.LoadProxyConfig()
	logger := core.NewLogger("proxy", cfg.Debug)

	kp, idpCertificate, err := loadKeys(cfg)
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

	if err := proxy.Provision(ctx, st, cfg, kp, idpCertificate); err != nil {
		logger.Fatal().Err(err).Msg("failed to provision connections")
	}

	app := proxy.New(st, saml.NewEngine(saml.Config{}), logger)

	router := chi.NewRouter()
	router.Use(core.Recovery(logger))
	router.Use(core.RequestLogger(logger))
	router.Use(core.SecurityHeaders)
	app.Routes(router)

	go st.SweepLoop(ctx, time.Minute, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("base_url", cfg.BaseURL).Msg("proxy starting")
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
	logger.Info().Msg("proxy exited gracefully")
}

// loadKeys reads the proxy's key pair and the trusted IdP certificate,
// falling back to shared development keys when no key path is set.
func loadKeys(cfg *core.ProxyConfig) (keys.KeyPair, string, error) {
	if cfg.KeysBasePath == "" {
		kp, err := keys.EnsureDevKeys(core.DevKeysDir, "proxy")
		if err != nil {
			return keys.KeyPair{}, "", err
		}
		idpKp, err := keys.EnsureDevKeys(core.DevKeysDir, "idp")
		if err != nil {
			return keys.KeyPair{}, "", err
		}
		return kp, idpKp.Certificate, nil
	}

	kp, err := keys.Load(cfg.KeysBasePath, cfg.PrivateKeyFile, cfg.CertificateFile, cfg.PrivateKeyPassword)
	if err != nil {
		return keys.KeyPair{}, "", err
	}
	idpCertificate, err := keys.LoadCertificate(cfg.KeysBasePath, cfg.IdpCertificateFile)
	if err != nil {
		return keys.KeyPair{}, "", err
	}
	return kp, idpCertificate, nil
}
