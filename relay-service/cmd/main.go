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
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/database"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/jwt"
	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/middleware"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/pubsub"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/cluster"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/config"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/handler"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/hub"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/kafka"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/metrics"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/roster"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/service"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/store"
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

	instanceID := uuid.New().String()
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Str("instance_id", instanceID).Msg("starting relay-service")

	var (
		m        *metrics.Metrics
		recorder hub.Recorder
		svcRec   service.Recorder
		connRec  handler.ConnRecorder
	)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		recorder, svcRec, connRec = m, m, m
	}

	// Redis backs the shared store and the roster cache
	var redisClient *redis.Client
	if cfg.Store.Driver == "redis" || (cfg.Roster.Driver == "database" && cfg.Roster.CacheTTL > 0) {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		pingCancel()
		defer redisClient.Close()
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}

	var st store.Store
	if cfg.Store.Driver == "redis" {
		st = store.NewRedisStore(redisClient, cfg.Store.TTL)
	} else {
		st = store.NewMemoryStore()
	}
	defer st.Close()

	devices, db, err := newRoster(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize device roster")
	}
	if db != nil {
		defer database.Close(db)
	}

	// Cross-instance fan-out; the memory driver keeps rooms local
	var ps pubsub.PubSub
	if cfg.PubSub.Driver != "" && cfg.PubSub.Driver != pubsub.DriverMemory {
		// Every instance must see every emission, so Kafka consumers get
		// their own group.
		cfg.PubSub.Kafka.GroupID = fmt.Sprintf("%s-%s", cfg.PubSub.Kafka.GroupID, instanceID)
		ps, err = pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize pubsub")
		}
		defer ps.Close()
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("cluster fan-out enabled")
	}

	// Initialize Kafka producer for observation events
	var producer kafka.ObservationEventProducer
	if cfg.Kafka.Enabled {
		cp, err := kafka.NewConfluentProducer(kafka.ProducerOptions{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      cfg.Kafka.Topic,
			Partitions: cfg.Kafka.Partitions,
			Instance:   instanceID,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, observation events disabled")
		} else {
			producer = cp
			defer cp.Close()
			logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize hub
	wsHub := hub.NewHub(cfg.WebSocket, recorder)
	go wsHub.Run(ctx)

	bridge := cluster.NewBridge(wsHub, ps, instanceID)
	go func() {
		if err := bridge.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("cluster bridge stopped")
		}
	}()

	relaySvc := service.NewRelayService(service.Options{
		Hub:             wsHub,
		Emitter:         bridge,
		Roster:          devices,
		Store:           st,
		Producer:        producer,
		Recorder:        svcRec,
		InstanceID:      instanceID,
		RefreshInterval: cfg.Store.RefreshInterval,
	})
	if err := relaySvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start relay service")
	}
	defer relaySvc.Stop()

	var verifier middleware.TokenVerifier
	if cfg.Auth.Enabled {
		tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize token verifier")
		}
		verifier = tokens
	} else {
		logger.Warn().Msg("authentication disabled, identities are taken from query parameters")
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	var metricsHandler http.Handler
	if m != nil {
		metricsHandler = m.Handler(func() {
			m.SetConnections(wsHub.ClientCount())
			m.SetRooms(wsHub.RoomCount())
		})
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), pkglog.GinMiddleware(logger, "/health", "/metrics", "/ws"))

	handler.NewWSHandler(wsHub, relaySvc, authMiddleware, connRec).RegisterRoutes(r)
	handler.NewHandler(wsHub, st, devices, authMiddleware, metricsHandler, instanceID).RegisterRoutes(r)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("relay-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down relay-service")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stopping the hub closes every websocket.
	cancel()
	<-wsHub.Done()

	logger.Info().Msg("relay-service stopped")
}

func newRoster(cfg *config.Config, redisClient *redis.Client) (roster.Roster, *gorm.DB, error) {
	if cfg.Roster.Driver != "database" {
		return nil, nil, nil
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	var r roster.Roster = roster.NewGormRoster(db)
	if redisClient != nil {
		r = roster.NewCachedRoster(r, redisClient, cfg.Roster.CacheTTL)
	}
	return r, db, nil
}
