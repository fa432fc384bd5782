package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carelinehq/realtime/internal/attachments"
	"github.com/carelinehq/realtime/internal/config"
	"github.com/carelinehq/realtime/internal/credentials"
	"github.com/carelinehq/realtime/internal/gateway"
	"github.com/carelinehq/realtime/internal/history"
	"github.com/carelinehq/realtime/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "careline-gateway"})
	logger := log.L()

	if cfg.Gateway.Auth.Secret == "" {
		logger.Fatal().Msg("gateway.auth.secret (AUTH_SECRET) is required")
	}
	auth := credentials.NewManager(cfg.Gateway.Auth.Secret, cfg.Gateway.Auth.TokenDuration, cfg.Gateway.Auth.Issuer)

	var store history.Store
	switch cfg.Gateway.History.Backend {
	case "redis":
		redisStore, err := history.NewRedisStore(cfg.Gateway.History.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize redis history store")
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info().Str("address", cfg.Gateway.History.Redis.Address).Msg("connected to redis")
	default:
		store = history.NewMemoryStore()
	}

	var attach attachments.Store
	switch cfg.Gateway.Attachments.Backend {
	case "s3":
		s3Store, err := attachments.NewS3Store(context.Background(), cfg.Gateway.Attachments.S3)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize s3 attachment store")
		}
		attach = s3Store
		logger.Info().Str("bucket", cfg.Gateway.Attachments.S3.Bucket).Msg("using s3 attachment store")
	default:
		localStore, err := attachments.NewLocalStore(cfg.Gateway.Attachments.Local)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize local attachment store")
		}
		attach = localStore
	}

	gw := gateway.New(cfg.Gateway, auth, store, attach, gateway.EchoResponder{})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	gw.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logger.Info().Str("addr", addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
