package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pos-sync-service/internal/api"
	"pos-sync-service/internal/config"
	"pos-sync-service/internal/conflict"
	"pos-sync-service/internal/crypto"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/network"
	"pos-sync-service/internal/notify"
	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/retry"
	"pos-sync-service/internal/storage"
	"pos-sync-service/internal/store"
	"pos-sync-service/internal/syncer"
)

// envelopeSalt feeds key derivation for the persisted queue blob. It is
// not a secret; the passphrase is.
var envelopeSalt = []byte("pos-sync-service.queue.v1")

func main() {
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting POS sync service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable storage + optional queue encryption.
	kv, err := storage.NewSQLite(cfg.Storage.Path)
	if err != nil {
		logger.Log.Fatal("Failed to open durable storage", zap.Error(err))
	}
	defer kv.Close()

	var cipher *crypto.Cipher
	if cfg.Storage.EncryptQueue {
		cipher, err = crypto.NewCipher(cfg.Storage.Passphrase, envelopeSalt)
		if err != nil {
			logger.Log.Fatal("Failed to init queue cipher", zap.Error(err))
		}
	}
	envelope := storage.NewEnvelope(cipher)

	// Local record store with one repository per collection.
	recordDB, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logger.Log.Fatal("Failed to open record store", zap.Error(err))
	}
	defer recordDB.Close()

	registry := store.NewRegistry()
	for _, c := range []store.Collection{store.Orders, store.MenuItems, store.Staff} {
		registry.Register(c, recordDB.Repository(c))
	}

	// Connectivity observation.
	observer := network.NewObserver(cfg.Network.GetDebounceWindow())
	probeURL := cfg.Network.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Backend.BaseURL + "/health"
	}
	go observer.Run(ctx, network.HTTPProbe(probeURL, cfg.Backend.GetTimeout()), cfg.Network.GetProbeInterval())

	retrier := retry.NewOrchestrator(observer, cfg.Retry.CircuitBreakerThreshold, cfg.Retry.GetCircuitTimeout())

	// Mutation queue restored from its last persisted snapshot.
	mutationQueue := queue.New(kv, envelope, queue.Config{
		MaxSize:         cfg.Queue.MaxSize,
		MaxRetryCount:   cfg.Queue.MaxRetryCount,
		ItemTTL:         cfg.Queue.GetItemTTL(),
		DrainBackoff:    cfg.Queue.GetDrainBackoff(),
		DeadLetterLimit: cfg.Queue.DeadLetterLimit,
	})
	if err := mutationQueue.Load(ctx); err != nil {
		logger.Log.Error("Failed to restore mutation queue", zap.Error(err))
	}

	resolver := conflict.NewResolver(registry,
		conflict.ParseStrategy(cfg.Conflict.Strategy),
		conflict.WithDeleteGraceWindow(cfg.Conflict.GetDeleteGraceWindow()),
	)

	transport := syncer.NewHTTPTransport(cfg.Backend.BaseURL, cfg.Backend.AuthToken, cfg.Backend.GetTimeout())
	notifier := notify.NewLogNotifier(32)
	defer notifier.Close()

	orchestrator := syncer.New(syncer.Config{
		Retry: retry.Options{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			BaseDelay:     cfg.Retry.GetBaseDelay(),
			MaxDelay:      cfg.Retry.GetMaxDelay(),
			BackoffFactor: cfg.Retry.BackoffFactor,
			Jitter:        cfg.Retry.Jitter,
		},
		NetworkWaitTimeout: cfg.Network.GetWaitTimeout(),
	}, syncer.Deps{
		Queue:     mutationQueue,
		Resolver:  resolver,
		Transport: transport,
		Registry:  registry,
		Retrier:   retrier,
		Observer:  observer,
		Notifier:  notifier,
		Storage:   kv,
	})
	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	scheduler := syncer.NewScheduler(cfg.Sync, orchestrator)
	scheduler.Start()
	defer scheduler.Stop()

	// Control/status API.
	handler := api.NewHandler(orchestrator, mutationQueue, cfg.Server.AuthToken)
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: handler.Routes(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	_ = server.Shutdown(context.Background())
}
