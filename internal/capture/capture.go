// Package capture acquires camera streams and turns them into liveness
// evidence: single still images or short encoded video clips.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
)

var (
	// ErrDeviceUnavailable is returned when camera permission is denied or no
	// device matches the requested constraints.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrFrameUnavailable is returned when the stream has no ready frame.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrEmptyRecording is returned when a recording produced zero bytes.
	ErrEmptyRecording = errors.New("empty recording")
	// ErrStreamReleased is returned when a released stream is used.
	ErrStreamReleased = errors.New("stream released")
)

// Constraints describe the stream a caller wants from the device.
type Constraints struct {
	Width  int
	Height int
	FPS    int
	// SnapshotMaxWidth downscales still images wider than this. Zero keeps
	// the native frame size.
	SnapshotMaxWidth int
}

// Frame is one encoded video frame.
type Frame struct {
	// Data is the JPEG encoded frame.
	Data      []byte
	Width     int
	Height    int
	Seq       int64
	Timestamp time.Time
}

// Driver opens tracks on a concrete camera backend.
type Driver interface {
	Open(ctx context.Context, c Constraints) (Track, error)
}

// Track is an open camera handle.
type Track interface {
	// Latest returns the most recent frame, false when none is ready.
	Latest() (Frame, bool)
	// Encode delivers encoded media chunks until ctx is done, then closes
	// the channel.
	Encode(ctx context.Context) (<-chan []byte, error)
	// VideoFormat is the MIME type of the chunks produced by Encode.
	VideoFormat() string
	// Stop releases the hardware.
	Stop() error
}

// EvidenceKind tells still images and video clips apart.
type EvidenceKind int

const (
	EvidenceImage EvidenceKind = iota + 1
	EvidenceVideo
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceImage:
		return "image"
	case EvidenceVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Evidence is the proof captured at the end of a liveness check.
type Evidence struct {
	Kind       EvidenceKind
	Data       []byte
	MIMEType   string
	Duration   time.Duration
	CapturedAt time.Time
}

// NewStillImage wraps an encoded image.
func NewStillImage(data []byte, mimeType string, at time.Time) *Evidence {
	return &Evidence{Kind: EvidenceImage, Data: data, MIMEType: mimeType, CapturedAt: at}
}

// NewVideoClip wraps an encoded clip of the given duration.
func NewVideoClip(data []byte, mimeType string, duration time.Duration, at time.Time) *Evidence {
	return &Evidence{Kind: EvidenceVideo, Data: data, MIMEType: mimeType, Duration: duration, CapturedAt: at}
}

// DataURI renders the evidence as a data URI.
func (e *Evidence) DataURI() string {
	return "data:" + e.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(e.Data)
}

// Size returns the encoded size in bytes.
func (e *Evidence) Size() int {
	if e == nil {
		return 0
	}
	return len(e.Data)
}
