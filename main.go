package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/kyc-liveness/internal/agent"
	"github.com/example/kyc-liveness/internal/apiclient"
	"github.com/example/kyc-liveness/internal/capture"
	"github.com/example/kyc-liveness/internal/config"
	"github.com/example/kyc-liveness/internal/grpcclient"
	"github.com/example/kyc-liveness/internal/liveness"
	"github.com/example/kyc-liveness/internal/logging"
	"github.com/example/kyc-liveness/internal/sequencer"
	"github.com/example/kyc-liveness/internal/server"
	"github.com/example/kyc-liveness/internal/session"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		panic(err)
	}
	cfg := config.LoadClient()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store := session.NewStore(initSessionBackend(ctx, cfg, logger), cfg.Profile, logger)
	client := apiclient.NewClient(cfg.APIBaseURL, store, cfg.HTTPTimeout, logger).
		WithSubmitTimeout(cfg.SubmitTimeout)

	device := capture.NewAdapter(initCaptureDriver(cfg, logger), logger)

	policy := buildPolicy(cfg)
	var detector sequencer.Detector
	if policy.Mode == sequencer.ModeGated {
		d, conn := initDetector(ctx, cfg, logger)
		if d == nil {
			logger.Warn("landmark model unavailable, falling back to timed recording")
			policy.Mode = sequencer.ModeTimed
		} else {
			defer conn.Close()
			detector = d
		}
	}

	app := agent.New(client, store, logger)
	wizard := sequencer.New(sequencer.Dependencies{
		Device:    device,
		Detector:  detector,
		Submitter: client,
		Navigator: app,
		Notifier:  app,
		Observer:  app,
	}, policy, logger)
	app.Attach(wizard)

	r := gin.Default()
	agent.RegisterRoutes(r, app)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("KYC client listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("api", cfg.APIBaseURL),
		zap.String("policy", policy.Mode.String()))
	err = server.Serve(srv, logger, server.Options{
		OnShutdown: func(context.Context) { wizard.Close() },
	})
	if err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initSessionBackend(ctx context.Context, cfg config.Client, logger *zap.Logger) session.Backend {
	if cfg.SessionStore != "redis" {
		return session.NewMemoryBackend()
	}
	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(redisCtx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
	}
	return session.NewRedisBackend(client)
}

func initCaptureDriver(cfg config.Client, logger *zap.Logger) capture.Driver {
	switch cfg.CaptureSource {
	case "camera":
		return capture.NewCameraDriver(cfg.CameraDevice)
	case "directory":
		return capture.NewDirectoryDriver(cfg.CaptureDir)
	default:
		logger.Fatal("unknown capture source", zap.String("source", cfg.CaptureSource))
		return nil
	}
}

// initDetector dials the landmark service. A nil detector means the gated
// flow cannot run.
func initDetector(ctx context.Context, cfg config.Client, logger *zap.Logger) (*liveness.Detector, *grpc.ClientConn) {
	provider, conn, err := grpcclient.DialLandmarkService(ctx, cfg.LandmarkAddr, logger)
	if err != nil {
		return nil, nil
	}
	detCfg := liveness.DefaultConfig()
	detCfg.BlinkEARThreshold = cfg.BlinkEARThreshold
	detCfg.CenterThresholdPx = cfg.CenterThresholdPx
	return liveness.NewDetector(provider, detCfg, logger), conn
}

func buildPolicy(cfg config.Client) sequencer.Policy {
	policy := sequencer.DefaultPolicy()
	policy.Mode = sequencer.ParseMode(cfg.Policy)
	policy.Evidence = sequencer.ParseEvidence(cfg.Evidence)
	policy.Constraints = capture.Constraints{
		Width:            cfg.FrameWidth,
		Height:           cfg.FrameHeight,
		FPS:              cfg.CaptureFPS,
		SnapshotMaxWidth: cfg.SnapshotMax,
	}
	policy.PollInterval = cfg.PollInterval
	policy.BlinkDebounce = cfg.BlinkDebounce
	policy.RequireCentering = cfg.RequireCentering
	policy.RecordDuration = cfg.RecordDuration
	policy.SubmitTimeout = cfg.SubmitTimeout
	policy.NavigationDelay = cfg.NavigationDelay
	policy.ModelLoadAttempts = cfg.ModelLoadAttempts
	policy.RetryCaptureOnNetworkError = cfg.RetryCaptureOnNetwork
	return policy
}
