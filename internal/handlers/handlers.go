// Package handlers exposes the verification backend over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/auth"
	"github.com/example/kyc-liveness/internal/imageprocessor"
	"github.com/example/kyc-liveness/internal/repository"
	"github.com/example/kyc-liveness/internal/usecase"
)

// MaxUploadSize is the default limit on decoded evidence.
const MaxUploadSize = 20 << 20

// VerificationService is the verification use case.
type VerificationService interface {
	VerifyEvidence(ctx context.Context, userID string, ev imageprocessor.Evidence) (*usecase.Verification, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context, window time.Duration) (*usecase.MetricsSummary, error)
}

// AccountService is the signup and login use case.
type AccountService interface {
	Signup(ctx context.Context, email, password, fullName string) (*usecase.Account, error)
	Login(ctx context.Context, email, password string) (*usecase.Account, error)
}

// Options tunes the routes.
type Options struct {
	MaxUploadSize int64
	Logger        *zap.Logger
}

type api struct {
	verifications VerificationService
	accounts      AccountService
	maxUpload     int64
	logger        *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, verifications VerificationService, accounts AccountService, authMiddleware gin.HandlerFunc, opts Options) {
	a := &api{
		verifications: verifications,
		accounts:      accounts,
		maxUpload:     opts.MaxUploadSize,
		logger:        opts.Logger,
	}
	if a.maxUpload <= 0 {
		a.maxUpload = MaxUploadSize
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	authGroup.POST("/signup/", a.signup)
	authGroup.POST("/login/", a.login)

	kyc := router.Group("/kyc", authMiddleware)
	kyc.POST("/kyc/", a.submit)
	kyc.GET("/kyc/:id/", a.result)
	kyc.GET("/kyc/:id/duplicates/", a.duplicates)
	kyc.GET("/metrics/", a.metrics)
}

func (a *api) submit(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated"})
		return
	}

	ev, err := readEvidence(c, a.maxUpload)
	if err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			c.JSON(reqErr.status, gin.H{"message": reqErr.message})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	v, err := a.verifications.VerifyEvidence(c.Request.Context(), userID, ev)
	if err != nil {
		a.logger.Error("verification failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"message": "verification service unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        v.Result.Success,
		"message":        v.Result.Message,
		"verificationId": v.RequestID,
		"data": gin.H{
			"request_id": v.RequestID,
			"kind":       v.Kind,
			"score":      v.Result.Score,
			"duplicate":  v.Duplicate,
			"created_at": v.CreatedAt,
		},
	})
}

func (a *api) result(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	requestID := c.Param("id")

	log, err := a.verifications.GetResult(c.Request.Context(), userID, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "result not found"})
			return
		}
		a.logger.Error("result lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "result lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        log.Success,
		"message":        log.Details,
		"verificationId": log.RequestID,
		"data": gin.H{
			"request_id": log.RequestID,
			"user_id":    log.UserID,
			"kind":       log.Kind,
			"score":      log.Score,
			"created_at": log.CreatedAt,
		},
	})
}

func (a *api) duplicates(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())

	report, err := a.verifications.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "result not found"})
			return
		}
		a.logger.Error("duplicate report failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "duplicate report failed"})
		return
	}

	ids := make([]string, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		ids = append(ids, d.RequestID)
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": report.Request.RequestID,
		"sha1_hash":  report.Request.SHA1Hash,
		"duplicates": ids,
	})
}

func (a *api) metrics(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "window must be a positive duration"})
			return
		}
		window = d
	}

	summary, err := a.verifications.GetMetricsSummary(c.Request.Context(), window)
	if err != nil {
		a.logger.Error("metrics aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
