package sequencer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/example/kyc-liveness/internal/capture"
	"github.com/example/kyc-liveness/internal/liveness"
)

// Cause classifies why an attempt failed.
type Cause int

const (
	CauseNone Cause = iota
	CauseDevice
	CauseDetection
	CauseCapture
	CauseValidation
	CauseAuth
	CauseRejected
	CauseNetwork
)

var causeNames = map[Cause]string{
	CauseNone:       "none",
	CauseDevice:     "device",
	CauseDetection:  "detection",
	CauseCapture:    "capture",
	CauseValidation: "validation",
	CauseAuth:       "auth",
	CauseRejected:   "rejected",
	CauseNetwork:    "network",
}

func (c Cause) String() string { return causeNames[c] }

// MarshalText renders the cause by name.
func (c Cause) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Outcome is the terminal result of an attempt.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "none"
	}
}

// MarshalText renders the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Result is the terminal result of a session.
type Result struct {
	SessionID      string          `json:"session_id"`
	Outcome        Outcome         `json:"outcome"`
	Cause          Cause           `json:"cause"`
	Message        string          `json:"message"`
	VerificationID string          `json:"verification_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	At             time.Time       `json:"at"`
}

// Session is one verification attempt. Only the sequencer mutates it.
type Session struct {
	ID          string
	Step        Step
	Blinks      int
	LastBlinkAt time.Time
	LastFaceAt  time.Time
	StartedAt   time.Time
	Evidence    *capture.Evidence
	Result      *Result

	missedFaces    int
	captureRetries int
	polls          int
	skippedTicks   int
	// entered lists the steps Apply moved through, in order.
	entered []Step
}

func newSession(now time.Time) *Session {
	return &Session{ID: uuid.NewString(), Step: Instructions, StartedAt: now}
}

// Apply advances the gated state machine by one observation. It returns true
// when the session enters Processing.
func (s *Session) Apply(obs liveness.Observation, p Policy) bool {
	if !s.Step.detectionDependent() {
		return false
	}

	if !obs.FaceDetected {
		if s.Step.awaitingChallenge() {
			s.missedFaces++
			if s.missedFaces > 1 {
				s.enter(DetectingFace)
				s.Blinks = 0
				s.missedFaces = 0
			}
		}
		return false
	}
	s.missedFaces = 0
	s.LastFaceAt = obs.At

	// The face gate is an entry condition; the same frame is then judged
	// against the blink challenge.
	if s.Step == DetectingFace {
		s.enter(AwaitingBlink)
		s.Blinks = 0
	}

	switch s.Step {
	case AwaitingBlink:
		if s.countBlink(obs, p.BlinkDebounce) && s.Blinks >= 1 {
			s.Blinks = 0
			if p.RequireCentering {
				s.enter(AwaitingCenter)
			} else {
				s.enter(AwaitingFinalBlink)
			}
		}
	case AwaitingCenter:
		if obs.Centered {
			s.enter(AwaitingFinalBlink)
		}
	case AwaitingFinalBlink:
		if s.countBlink(obs, p.BlinkDebounce) && s.Blinks >= p.FinalBlinks {
			s.enter(Processing)
			return true
		}
	}
	return false
}

func (s *Session) enter(step Step) {
	s.Step = step
	s.entered = append(s.entered, step)
}

// countBlink counts a blink unless it falls inside the debounce window of the
// previous counted blink.
func (s *Session) countBlink(obs liveness.Observation, debounce time.Duration) bool {
	if !obs.BlinkDetected {
		return false
	}
	if !s.LastBlinkAt.IsZero() && obs.At.Sub(s.LastBlinkAt) < debounce {
		return false
	}
	s.Blinks++
	s.LastBlinkAt = obs.At
	return true
}
