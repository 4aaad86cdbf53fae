package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"transfer"
	"transfer/internal/api/handler/endpoints"
	"transfer/internal/api/service"
	"transfer/internal/connector"
	"transfer/internal/engine"
	"transfer/internal/query"
	"transfer/internal/realtime"
	"transfer/internal/solid"
	"transfer/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	transfer.InitConfig(".env")
	gin.SetMode(gin.ReleaseMode)

	cfg := transfer.GetConfig()
	if cfg.Mode == "dev" {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	router, err := graceful.Default(graceful.WithAddr(cfg.ApiPort))
	if err != nil {
		panic(err)
	}
	defer stop()
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	slots := store.NewSlots(store.NewRedisStore(transfer.Redis, "transfer"))
	configs := service.NewConfigurationService(cfg.ConfigurationURL, slots)
	backend := connector.NewClient(cfg.BackendBaseURL, transfer.Logger)
	queries := query.NewHTTPEngine(cfg.QueryEngineURL, transfer.Logger)

	solidSession, err := solid.NewSession(ctx, cfg.SolidConfig)
	if err != nil {
		transfer.Logger.Fatal().Err(err).Msg("Failed to initialize Solid OIDC session")
	}

	sessionID := uuid.NewString()
	reporter := realtime.NewStateReporter(cfg.RealtimeConfig.NatsURL, cfg.RealtimeConfig.TenantID, sessionID)
	defer reporter.Close()

	machine := engine.NewMachine(engine.Config{
		SessionID:      sessionID,
		Slots:          slots,
		Configurations: configs,
		Backend:        backend,
		Solid:          solid.NewGateway(solidSession),
		Queries:        queries,
		Reporter:       reporter,
		Notifier:       service.NewNotificationService(),
		RetryDelay:     3 * time.Second,
		Logger:         transfer.Logger,
	})
	go machine.Run(ctx)
	transfer.Logger.Info().Str("sessionId", sessionID).Msg("Execution engine started")

	hub := realtime.NewHub()
	go hub.Run()

	bridge, err := realtime.NewNATSBridge(cfg.RealtimeConfig.NatsURL, cfg.RealtimeConfig.TenantID, hub)
	if err != nil {
		transfer.Logger.Warn().Err(err).Msg("NATS bridge unavailable, WebSocket push disabled")
	} else {
		defer bridge.Close()
		if err := bridge.Subscribe(); err != nil {
			transfer.Logger.Warn().Err(err).Msg("NATS subscribe failed, WebSocket push disabled")
		}
	}

	endpoints.TransferHandler(router, machine, configs, solidSession, hub)

	transfer.Logger.Debug().Msgf("Starting transfer API on port %s", cfg.ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		transfer.Logger.Fatal().Msg(err.Error())
		panic(err)
	}
}
