package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/logging"
)

// Stream is an acquired camera stream. It is owned by a single verification
// session.
type Stream struct {
	ID          string
	Constraints Constraints
	AcquiredAt  time.Time

	track    Track
	once     sync.Once
	mu       sync.RWMutex
	released bool
}

// Released reports whether the stream hardware has been stopped.
func (s *Stream) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// Adapter implements acquire, snapshot, recording and release on top of a
// Driver.
type Adapter struct {
	driver Driver
	logger *zap.Logger
}

// NewAdapter constructs an adapter for the given driver.
func NewAdapter(driver Driver, logger *zap.Logger) *Adapter {
	return &Adapter{driver: driver, logger: logger.Named("capture")}
}

// Acquire opens a stream matching the constraints.
func (a *Adapter) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	track, err := a.driver.Open(ctx, c)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		wrapped := logging.NewOperationError("capture.acquire", "", err)
		a.logger.Warn("camera acquisition failed", zap.Error(wrapped))
		return nil, wrapped
	}

	stream := &Stream{
		ID:          uuid.NewString(),
		Constraints: c,
		AcquiredAt:  time.Now().UTC(),
		track:       track,
	}
	a.logger.Info("camera acquired",
		zap.String("stream_id", stream.ID),
		zap.Int("width", c.Width),
		zap.Int("height", c.Height))
	return stream, nil
}

// Frame returns the latest frame of the stream for detection.
func (a *Adapter) Frame(s *Stream) (Frame, error) {
	if s == nil || s.Released() {
		return Frame{}, ErrStreamReleased
	}
	frame, ok := s.track.Latest()
	if !ok || len(frame.Data) == 0 {
		return Frame{}, ErrFrameUnavailable
	}
	return frame, nil
}

// Snapshot captures exactly one frame as a still image.
func (a *Adapter) Snapshot(s *Stream) (*Evidence, error) {
	frame, err := a.Frame(s)
	if err != nil {
		return nil, logging.NewOperationError("capture.snapshot", s.idOrEmpty(), err)
	}

	data := frame.Data
	if maxWidth := s.Constraints.SnapshotMaxWidth; maxWidth > 0 && frame.Width > maxWidth {
		scaled, err := downscaleJPEG(data, maxWidth)
		if err != nil {
			a.logger.Warn("snapshot downscale failed, keeping native frame", zap.Error(err))
		} else {
			data = scaled
		}
	}

	at := frame.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return NewStillImage(data, "image/jpeg", at), nil
}

// RecordFor buffers encoded chunks starting now and stops after d of wall
// clock time.
func (a *Adapter) RecordFor(ctx context.Context, s *Stream, d time.Duration) (*Evidence, error) {
	if s == nil || s.Released() {
		return nil, logging.NewOperationError("capture.record", s.idOrEmpty(), ErrStreamReleased)
	}

	recCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := s.track.Encode(recCtx)
	if err != nil {
		return nil, logging.NewOperationError("capture.record", s.ID, err)
	}

	started := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	var buf bytes.Buffer
	count := 0
loop:
	for {
		select {
		case <-ctx.Done():
			return nil, logging.NewOperationError("capture.record", s.ID, ctx.Err())
		case <-timer.C:
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			buf.Write(chunk)
			count++
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("capture.record", s.ID, err)
	}
	if buf.Len() == 0 {
		a.logger.Warn("recording produced no data", zap.String("stream_id", s.ID), zap.Duration("duration", d))
		return nil, logging.NewOperationError("capture.record", s.ID, ErrEmptyRecording)
	}

	a.logger.Info("recording finished",
		zap.String("stream_id", s.ID),
		zap.Int("chunks", count),
		zap.Int("bytes", buf.Len()))
	return NewVideoClip(buf.Bytes(), s.track.VideoFormat(), time.Since(started), time.Now().UTC()), nil
}

// Release stops the stream hardware. Only the first call has an effect; it
// returns false for repeated calls.
func (a *Adapter) Release(s *Stream) bool {
	if s == nil {
		return false
	}
	released := false
	s.once.Do(func() {
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
		if err := s.track.Stop(); err != nil {
			a.logger.Warn("camera stop failed", zap.String("stream_id", s.ID), zap.Error(err))
		}
		released = true
	})
	if released {
		a.logger.Info("camera released", zap.String("stream_id", s.ID))
	}
	return released
}

func (s *Stream) idOrEmpty() string {
	if s == nil {
		return ""
	}
	return s.ID
}
