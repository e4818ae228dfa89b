// Command devapi is the reference verification backend the KYC client talks
// to: accounts, evidence submission and metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/auth"
	"github.com/example/kyc-liveness/internal/config"
	"github.com/example/kyc-liveness/internal/grpcclient"
	"github.com/example/kyc-liveness/internal/handlers"
	"github.com/example/kyc-liveness/internal/imageprocessor"
	"github.com/example/kyc-liveness/internal/logging"
	"github.com/example/kyc-liveness/internal/repository"
	"github.com/example/kyc-liveness/internal/server"
	"github.com/example/kyc-liveness/internal/usecase"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		panic(err)
	}
	cfg := config.LoadDevAPI()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err), zap.String("driver", cfg.DatabaseDriver))
	}
	users := repository.NewUserRepository(db, logger)
	logs := repository.NewVerificationRepository(db, logger)
	if err := repository.Migrate(ctx, users, logs); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	processor, closeProcessor := initProcessor(ctx, cfg, logger)
	defer closeProcessor()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTAudience, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("invalid token settings", zap.Error(err))
	}

	verifications := usecase.NewVerificationUseCase(logs, initCache(ctx, cfg, logger), processor, logger)
	accounts := usecase.NewAccountUseCase(users, issuer, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadSize
	handlers.RegisterRoutes(r, verifications, accounts, auth.JWTMiddleware(issuer), handlers.Options{
		MaxUploadSize: cfg.MaxUploadSize,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("verification API listening", zap.String("addr", cfg.ListenAddr))
	if err := server.Serve(srv, logger, server.Options{}); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initCache(ctx context.Context, cfg config.DevAPI, logger *zap.Logger) usecase.Cache {
	if cfg.CacheBackend != "redis" {
		return usecase.NewMemoryCache()
	}
	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(redisCtx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
	}
	return usecase.NewRedisCache(client)
}

// initProcessor inspects evidence with the landmark model when one is
// configured and falls back to decode checks otherwise.
func initProcessor(ctx context.Context, cfg config.DevAPI, logger *zap.Logger) (imageprocessor.Client, func()) {
	if cfg.LandmarkAddr == "" {
		return imageprocessor.DecodeChecker{}, func() {}
	}
	provider, conn, err := grpcclient.DialLandmarkService(ctx, cfg.LandmarkAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to landmark service", zap.Error(err))
	}
	checker := imageprocessor.NewLandmarkChecker(provider, float32(cfg.MinFaceScore), logger)
	return checker, func() { _ = conn.Close() }
}
