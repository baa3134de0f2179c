package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
	"github.com/juliusbiascan/EduInsight-Project-sub000/viewer-client/internal/client"
	"github.com/juliusbiascan/EduInsight-Project-sub000/viewer-client/internal/config"
	"github.com/juliusbiascan/EduInsight-Project-sub000/viewer-client/internal/gateway"
	"github.com/juliusbiascan/EduInsight-Project-sub000/viewer-client/internal/session"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(fs)
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()
	logger.Info().Str(pkglog.FieldDeviceID, cfg.Device.ID).Str("relay", cfg.Relay.URL).Msg("starting viewer-client")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Roster.BaseURL != "" {
		devices := client.NewDeviceClient(cfg.Roster.BaseURL, cfg.Relay.Token, cfg.Roster.CacheTTL, cfg.Roster.Timeout)
		if device, err := devices.GetDevice(ctx, cfg.Device.ID); err != nil {
			logger.Warn().Err(err).Str(pkglog.FieldDeviceID, cfg.Device.ID).Msg("device lookup failed")
		} else {
			logger.Info().Str(pkglog.FieldDeviceID, device.ID).Str("name", device.Name).Bool("online", device.Online).Msg("observing device")
		}

		// Resolve on every dial so a re-addressed kiosk is picked up once the
		// cache entry expires.
		if cfg.ResolvesHostname() {
			template, deviceID := cfg.Relay.URL, cfg.Device.ID
			cfg.Relay.Endpoint = func(ctx context.Context) (string, error) {
				return devices.ResolveEndpoint(ctx, template, config.HostnamePlaceholder, deviceID)
			}
		}
	}

	conn := wsconn.New(cfg.Relay)
	conn.OnStateChange(func(s wsconn.State) {
		logger.Info().Str("status", string(s.Status)).Int("attempts", s.Attempts).Str("last_error", s.LastError).Msg("relay connection state")
	})

	frames := &session.LatestFrame{}
	sess := session.New(conn, frames)
	if err := sess.Connect(ctx, cfg.Device.ID); err != nil {
		logger.Fatal().Err(err).Msg("failed to start session")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), pkglog.GinMiddleware(logger, "/health", "/frame", "/state", "/input/pointer"))
	gateway.NewHandler(sess, frames).RegisterRoutes(r)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("viewer gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("gateway server error")
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
	case <-conn.Done():
		logger.Error().Str("status", string(conn.State().Status)).Msg("relay connection ended")
	}

	logger.Info().Msg("shutting down viewer-client")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gateway forced to shutdown")
	}

	sess.Close()
	logger.Info().Msg("viewer-client stopped")
}
