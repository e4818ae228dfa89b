package liveness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/capture"
)

// Config holds the decision thresholds of the detector.
type Config struct {
	// BlinkEARThreshold signals a blink when the averaged EAR is below it.
	BlinkEARThreshold float64
	// CenterThresholdPx is the centering radius at the reference resolution.
	CenterThresholdPx float64
	ReferenceWidth    int
	ReferenceHeight   int
	// MinFaceScore drops faces the model is not confident about.
	MinFaceScore float64
}

// DefaultConfig returns the thresholds tuned for 1280x720 capture.
func DefaultConfig() Config {
	return Config{
		BlinkEARThreshold: 0.2,
		CenterThresholdPx: 100,
		ReferenceWidth:    1280,
		ReferenceHeight:   720,
	}
}

// Observation is the per-frame result of the detector.
type Observation struct {
	FaceDetected     bool
	EyeAspectRatio   float64
	BlinkDetected    bool
	FaceCenterOffset float64
	Centered         bool
	At               time.Time
}

// Detector classifies frames using a landmark model.
type Detector struct {
	provider LandmarkProvider
	cfg      Config
	logger   *zap.Logger
}

// NewDetector constructs a detector backed by the given landmark provider.
func NewDetector(provider LandmarkProvider, cfg Config, logger *zap.Logger) *Detector {
	return &Detector{provider: provider, cfg: cfg, logger: logger.Named("liveness")}
}

// Load checks that the landmark model is ready.
func (d *Detector) Load(ctx context.Context) error {
	if err := d.provider.Ready(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return nil
}

// Observe classifies one frame. Model errors are reported as "no face".
func (d *Detector) Observe(ctx context.Context, frame capture.Frame) Observation {
	obs := Observation{At: frame.Timestamp}
	if obs.At.IsZero() {
		obs.At = time.Now().UTC()
	}

	result, err := d.provider.Detect(ctx, frame.Data)
	if err != nil {
		d.logger.Debug("landmark detection failed", zap.Error(err), zap.Int64("seq", frame.Seq))
		return obs
	}

	face, ok := d.primaryFace(result)
	if !ok {
		return obs
	}
	obs.FaceDetected = true

	if ear, ok := AverageEyeAspectRatio(face.Points); ok {
		obs.EyeAspectRatio = ear
		obs.BlinkDetected = ear < d.cfg.BlinkEARThreshold
	}

	width, height := frame.Width, frame.Height
	if width <= 0 || height <= 0 {
		width, height = result.Width, result.Height
	}
	if center, ok := FaceCenter(face.Points); ok && width > 0 && height > 0 {
		obs.FaceCenterOffset = distance(center, Point{X: float64(width) / 2, Y: float64(height) / 2})
		threshold := ScaledThreshold(d.cfg.CenterThresholdPx, d.cfg.ReferenceWidth, d.cfg.ReferenceHeight, width, height)
		obs.Centered = obs.FaceCenterOffset < threshold
	}
	return obs
}

// primaryFace picks the most confident face with a full landmark set.
func (d *Detector) primaryFace(result *LandmarkResult) (FaceLandmarks, bool) {
	var (
		best  FaceLandmarks
		found bool
	)
	if result == nil {
		return best, false
	}
	for _, face := range result.Faces {
		if len(face.Points) < landmarkCount || face.Score < d.cfg.MinFaceScore {
			continue
		}
		if !found || face.Score > best.Score {
			best, found = face, true
		}
	}
	return best, found
}
