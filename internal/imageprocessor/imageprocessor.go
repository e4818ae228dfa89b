// Package imageprocessor inspects submitted liveness evidence before it is
// recorded as a verification.
package imageprocessor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/liveness"
)

// Evidence kinds accepted by the processor.
const (
	KindImage = "image"
	KindVideo = "video"
)

// MinImageSide is the smallest accepted width or height of a still image.
const MinImageSide = 64

// Evidence is one uploaded capture.
type Evidence struct {
	Kind     string
	MIMEType string
	Data     []byte
}

// Result contains the outcome of an inspection.
type Result struct {
	Success bool
	Score   float32
	Message string
}

// Client exposes the subset of functionality used by the verification flow.
type Client interface {
	Process(ctx context.Context, userID string, ev Evidence) (*Result, error)
}

// DecodeChecker accepts evidence that is well formed: decodable images of a
// sensible size and non-empty video clips.
type DecodeChecker struct{}

// Process implements Client.
func (DecodeChecker) Process(ctx context.Context, userID string, ev Evidence) (*Result, error) {
	switch ev.Kind {
	case KindImage:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(ev.Data))
		if err != nil {
			return &Result{Message: "Image could not be decoded"}, nil
		}
		if cfg.Width < MinImageSide || cfg.Height < MinImageSide {
			return &Result{Message: fmt.Sprintf("Image is too small (%dx%d)", cfg.Width, cfg.Height)}, nil
		}
		return &Result{Success: true, Score: 1, Message: "Verification successful"}, nil
	case KindVideo:
		if len(ev.Data) == 0 {
			return &Result{Message: "Video is empty"}, nil
		}
		if ev.MIMEType != "" && !strings.HasPrefix(ev.MIMEType, "video/") {
			return &Result{Message: "Unsupported video format"}, nil
		}
		return &Result{Success: true, Score: 1, Message: "Verification successful"}, nil
	default:
		return nil, fmt.Errorf("unsupported evidence kind %q", ev.Kind)
	}
}

// LandmarkChecker additionally requires the landmark model to find a face in
// still images. Video clips are only checked for shape.
type LandmarkChecker struct {
	provider liveness.LandmarkProvider
	minScore float32
	logger   *zap.Logger
}

// NewLandmarkChecker constructs a checker backed by the landmark model.
func NewLandmarkChecker(provider liveness.LandmarkProvider, minScore float32, logger *zap.Logger) *LandmarkChecker {
	return &LandmarkChecker{provider: provider, minScore: minScore, logger: logger.Named("landmark_checker")}
}

// Process implements Client.
func (l *LandmarkChecker) Process(ctx context.Context, userID string, ev Evidence) (*Result, error) {
	res, err := DecodeChecker{}.Process(ctx, userID, ev)
	if err != nil || !res.Success || ev.Kind != KindImage {
		return res, err
	}

	landmarks, err := l.provider.Detect(ctx, ev.Data)
	if err != nil {
		return nil, fmt.Errorf("landmark detection failed: %w", err)
	}

	var best float32
	for _, f := range landmarks.Faces {
		if float32(f.Score) > best {
			best = float32(f.Score)
		}
	}
	l.logger.Debug("landmarks detected", zap.String("user_id", userID), zap.Int("faces", len(landmarks.Faces)), zap.Float32("score", best))

	switch {
	case len(landmarks.Faces) == 0:
		return &Result{Message: "No face detected"}, nil
	case len(landmarks.Faces) > 1:
		return &Result{Score: best, Message: "More than one face detected"}, nil
	case best < l.minScore:
		return &Result{Score: best, Message: "Face detection confidence too low"}, nil
	}
	return &Result{Success: true, Score: best, Message: "Verification successful"}, nil
}
