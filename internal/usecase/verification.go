package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/imageprocessor"
	"github.com/example/kyc-liveness/internal/logging"
	"github.com/example/kyc-liveness/internal/repository"
)

// DuplicateMessage is reported when a user resubmits evidence byte for byte.
const DuplicateMessage = "This capture was already submitted. Please record a new one."

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationLog, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.VerificationLog, error)
	AggregateMetrics(ctx context.Context, since time.Time) (*repository.MetricsAggregation, error)
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo           VerificationRepository
	cache          Cache
	processor      imageprocessor.Client
	logger         *zap.Logger
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	resultTTL      time.Duration
}

// Verification is the outcome of one submission.
type Verification struct {
	RequestID string
	Kind      string
	Result    *imageprocessor.Result
	Duplicate bool
	CreatedAt time.Time
}

type cachedVerification struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Score     float32   `json:"score"`
	Success   bool      `json:"success"`
	Details   string    `json:"details"`
	Hash      string    `json:"sha1_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// DuplicateReport represents duplicate verification entries for a request.
type DuplicateReport struct {
	Request    *repository.VerificationLog
	Duplicates []*repository.VerificationLog
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, processor imageprocessor.Client, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		processor:      processor,
		logger:         logger.Named("verification_usecase"),
		now:            func() time.Time { return time.Now().UTC() },
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		resultTTL:      5 * time.Minute,
	}
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

// VerifyEvidence inspects the evidence, rejects replays of an earlier
// submission by the same user, and records the outcome.
func (uc *VerificationUseCase) VerifyEvidence(ctx context.Context, userID string, ev imageprocessor.Evidence) (*Verification, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_evidence", requestID)
	cacheKey := resultKey(requestID)

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	started := uc.now()
	result, err := uc.processor.Process(ctx, userID, ev)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.process_evidence", requestID, err)
		opLogger.Error("evidence processing failed", zap.Error(wrapped))
		return nil, wrapped
	}
	latency := uc.now().Sub(started)

	hash := sha1.Sum(ev.Data)
	hashHex := hex.EncodeToString(hash[:])

	duplicate := false
	if dups, err := uc.repo.FindDuplicatesByHash(ctx, userID, hashHex, requestID); err != nil {
		opLogger.Warn("duplicate lookup failed", zap.Error(err))
	} else if len(dups) > 0 {
		duplicate = true
		opLogger.Warn("evidence replay detected", zap.String("first_request_id", dups[0].RequestID))
		result = &imageprocessor.Result{Score: result.Score, Message: DuplicateMessage}
	}

	log := &repository.VerificationLog{
		RequestID: requestID,
		UserID:    userID,
		Kind:      ev.Kind,
		MIMEType:  ev.MIMEType,
		SizeBytes: len(ev.Data),
		Score:     result.Score,
		Success:   result.Success,
		Details:   fmt.Sprintf("status:%t score:%f duplicate:%t message:%s", result.Success, result.Score, duplicate, result.Message),
		SHA1Hash:  hashHex,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: uc.now(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist verification log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(cachedVerification{
		RequestID: requestID,
		UserID:    userID,
		Kind:      log.Kind,
		Score:     log.Score,
		Success:   log.Success,
		Details:   log.Details,
		Hash:      log.SHA1Hash,
		CreatedAt: log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return nil, err
	}

	// The log is already durable; a cache failure only costs a database read later.
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verification result", zap.Error(err))
	}

	opLogger.Info("verification recorded",
		zap.String("user_id", userID),
		zap.String("kind", ev.Kind),
		zap.Bool("success", result.Success),
		zap.Bool("duplicate", duplicate))

	return &Verification{
		RequestID: requestID,
		Kind:      ev.Kind,
		Result:    result,
		Duplicate: duplicate,
		CreatedAt: log.CreatedAt,
	}, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
// Only the owner of a verification can read it.
func (uc *VerificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var payload cachedVerification
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Debug("cached entry is not a result", zap.Error(err))
		} else if payload.UserID == userID {
			return &repository.VerificationLog{
				RequestID: payload.RequestID,
				UserID:    payload.UserID,
				Kind:      payload.Kind,
				Score:     payload.Score,
				Success:   payload.Success,
				Details:   payload.Details,
				SHA1Hash:  payload.Hash,
				CreatedAt: payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	log, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := uc.initialBackoff
	attempts := max(uc.retryAttempts, 1)
	opLogger := logging.WithOperation(uc.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
