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

	"golang.org/x/sync/errgroup"

	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/agent"
	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/capture"
	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/config"
	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/desktop"
	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/handler"
	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/input"
	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
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
	logger.Info().Str("relay", cfg.Relay.URL).Msg("starting device-agent")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	screen := desktop.New()
	conn := wsconn.New(cfg.Relay)
	conn.OnStateChange(func(s wsconn.State) {
		logger.Debug().Str("status", string(s.Status)).Int("attempts", s.Attempts).Msg("relay connection state")
	})

	loop := capture.New(cfg.Capture, screen, conn)
	a := agent.New(cfg.Device.ID, conn, loop, input.New(screen, screen))

	g, gctx := errgroup.WithContext(ctx)
	var runErr error
	g.Go(func() error {
		defer cancel()
		runErr = a.Run(gctx)
		return runErr
	})

	if cfg.Status.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Status.Host, cfg.Status.Port)
		server := &http.Server{
			Addr:         addr,
			Handler:      handler.NewHTTPHandler(a).Router(logger),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		// A busy status port is logged; it never takes the agent down.
		g.Go(func() error {
			logger.Info().Str("addr", addr).Msg("status server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("status server error")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("status server forced to shutdown")
			}
			return nil
		})
	}

	g.Wait()

	if runErr != nil {
		logger.Error().Err(runErr).Msg("device-agent exited")
		os.Exit(1)
	}
	logger.Info().Msg("device-agent stopped")
}
