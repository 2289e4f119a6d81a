package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chatsync/chat"
	"chatsync/config"
	"chatsync/live"
	"chatsync/network"
	"chatsync/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("startup failed while building logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, cfgPath, logger); err != nil {
		logger.Fatal("chatsync stopped with error", zap.Error(err))
	}
}

func run(cfg *config.ServerConfig, cfgPath string, logger *zap.Logger) error {
	dataDir := filepath.Dir(cfgPath)
	dbPath := cfg.DatabasePath(dataDir)

	store, err := storage.OpenPath(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()
	store.SetTypingWindow(cfg.TypingWindow())

	logger.Info("chatsync starting",
		zap.String("config_file", cfgPath),
		zap.String("database_file", dbPath),
		zap.String("listen_address", cfg.ListenAddress),
		zap.Bool("redis_relay", cfg.Redis.Enabled()),
	)

	hub := live.NewHub(logger, live.Options{UpdateBuffer: cfg.SubscriptionBuffer})
	defer hub.Close()

	service := chat.NewService(store, hub, logger, chat.Options{TypingRefresh: cfg.TypingRefresh()})
	server := network.NewServer(service, logger, network.Options{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			_ = client.Close()
		}()
		relay := live.NewRedisRelay(client, cfg.Redis.Channel, cfg.InstanceID, hub, logger)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	g.Go(func() error {
		return server.Listen(cfg.ListenAddress)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("chatsync shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
