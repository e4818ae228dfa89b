package sequencer

import (
	"strings"
	"time"

	"github.com/example/kyc-liveness/internal/capture"
)

// Mode selects the sequencer configuration.
type Mode int

const (
	// ModeGated requires face, blink, centering and two final blinks.
	ModeGated Mode = iota
	// ModeTimed records a fixed clip unconditionally. Used when landmark
	// detection is unavailable.
	ModeTimed
)

func (m Mode) String() string {
	if m == ModeTimed {
		return "timed"
	}
	return "gated"
}

// ParseMode maps "gated" and "timed"; anything else is gated.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "timed") {
		return ModeTimed
	}
	return ModeGated
}

// ParseEvidence maps "video" to capture.EvidenceVideo; anything else is an image.
func ParseEvidence(s string) capture.EvidenceKind {
	if strings.EqualFold(strings.TrimSpace(s), "video") {
		return capture.EvidenceVideo
	}
	return capture.EvidenceImage
}

// Policy configures one sequencer.
type Policy struct {
	Mode Mode
	// Evidence is what the gated flow captures on completion. The timed
	// flow always records video.
	Evidence         capture.EvidenceKind
	Constraints      capture.Constraints
	PollInterval     time.Duration
	BlinkDebounce    time.Duration
	FinalBlinks      int
	RequireCentering bool
	RecordDuration   time.Duration
	SubmitTimeout    time.Duration
	NavigationDelay  time.Duration

	ModelLoadAttempts int
	ModelLoadBackoff  time.Duration

	// RetryCaptureOnNetworkError returns to face detection once after a
	// transport failure instead of resetting the wizard.
	RetryCaptureOnNetworkError bool
}

// DefaultPolicy returns the gated liveness configuration.
func DefaultPolicy() Policy {
	return Policy{
		Mode:              ModeGated,
		Evidence:          capture.EvidenceImage,
		Constraints:       capture.Constraints{Width: 1280, Height: 720, FPS: 15},
		PollInterval:      100 * time.Millisecond,
		BlinkDebounce:     500 * time.Millisecond,
		FinalBlinks:       2,
		RequireCentering:  true,
		RecordDuration:    4 * time.Second,
		SubmitTimeout:     30 * time.Second,
		NavigationDelay:   2 * time.Second,
		ModelLoadAttempts: 3,
		ModelLoadBackoff:  250 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Evidence == 0 {
		p.Evidence = def.Evidence
	}
	if p.PollInterval <= 0 {
		p.PollInterval = def.PollInterval
	}
	if p.FinalBlinks <= 0 {
		p.FinalBlinks = def.FinalBlinks
	}
	if p.RecordDuration <= 0 {
		p.RecordDuration = def.RecordDuration
	}
	if p.ModelLoadAttempts <= 0 {
		p.ModelLoadAttempts = 1
	}
	if p.ModelLoadBackoff <= 0 {
		p.ModelLoadBackoff = def.ModelLoadBackoff
	}
	return p
}
