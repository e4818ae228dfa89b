// Package sequencer drives the liveness verification wizard: it orders
// detector observations into a proof-of-liveness sequence, captures the
// evidence and hands it to submission.
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/apiclient"
	"github.com/example/kyc-liveness/internal/capture"
	"github.com/example/kyc-liveness/internal/liveness"
	"github.com/example/kyc-liveness/internal/logging"
)

// Client side routes the wizard navigates to.
const (
	RouteLogin     = "/"
	RouteSignup    = "/signup"
	RouteDashboard = "/dashboard"
	RouteKYC       = "/kyc"
)

var (
	// ErrSessionActive is returned by Start while an attempt is in progress.
	ErrSessionActive = errors.New("a verification session is already active")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("sequencer closed")
)

// Device is the capture device contract.
type Device interface {
	Acquire(ctx context.Context, c capture.Constraints) (*capture.Stream, error)
	Frame(s *capture.Stream) (capture.Frame, error)
	Snapshot(s *capture.Stream) (*capture.Evidence, error)
	RecordFor(ctx context.Context, s *capture.Stream, d time.Duration) (*capture.Evidence, error)
	Release(s *capture.Stream) bool
}

// Detector is the liveness detector contract.
type Detector interface {
	Load(ctx context.Context) error
	Observe(ctx context.Context, frame capture.Frame) liveness.Observation
}

// Submitter hands evidence to the verification API.
type Submitter interface {
	Submit(ctx context.Context, ev *capture.Evidence) (*apiclient.Result, error)
}

// Navigator changes the client route.
type Navigator interface {
	Navigate(route string)
}

// Level is the severity of a user notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user visible message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// Observer is told about every state change, including steps a single
// observation passes straight through. It is called with the sequencer lock
// held and must not call back into the sequencer.
type Observer interface {
	StepChanged(st State)
}

// State is a snapshot of the wizard.
type State struct {
	SessionID    string  `json:"session_id,omitempty"`
	Step         Step    `json:"step"`
	Mode         string  `json:"mode"`
	Blinks       int     `json:"blinks"`
	HasEvidence  bool    `json:"has_evidence"`
	Polls        int     `json:"polls"`
	SkippedTicks int     `json:"skipped_ticks"`
	Result       *Result `json:"result,omitempty"`
	LastResult   *Result `json:"last_result,omitempty"`
}

// Dependencies are the collaborators of a sequencer. Clock, Navigator,
// Notifier and Observer are optional.
type Dependencies struct {
	Device    Device
	Detector  Detector
	Submitter Submitter
	Clock     Clock
	Navigator Navigator
	Notifier  Notifier
	Observer  Observer
}

// Sequencer owns at most one verification session at a time.
type Sequencer struct {
	deps   Dependencies
	policy Policy
	logger *zap.Logger

	mu      sync.Mutex
	session *Session
	last    *Result
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// New constructs a sequencer in the Instructions step.
func New(deps Dependencies, policy Policy, logger *zap.Logger) *Sequencer {
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	s := &Sequencer{
		deps:   deps,
		policy: policy.normalized(),
		logger: logger.Named("sequencer"),
	}
	s.session = newSession(deps.Clock.Now())
	return s
}

// Policy returns the effective policy.
func (s *Sequencer) Policy() Policy {
	return s.policy
}

// State returns a snapshot of the current session.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// LastResult returns the result of the most recent finished attempt.
func (s *Sequencer) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start begins a new attempt. It is only allowed from Instructions.
func (s *Sequencer) Start() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.stateLocked(), ErrClosed
	}
	if s.session.Step != Instructions {
		return s.stateLocked(), ErrSessionActive
	}

	sess := newSession(s.deps.Clock.Now())
	sess.Step = Initializing
	s.session = sess

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.emitLocked()

	s.logger.Info("verification started", zap.String("session_id", sess.ID), zap.String("mode", s.policy.Mode.String()))
	go s.run(ctx, sess, done)
	return s.stateLocked(), nil
}

// Reset cancels the active attempt, waits for it to stop, releases the
// camera and returns to Instructions. No observation is applied afterwards.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Step != Instructions {
		s.logger.Info("verification reset", zap.String("session_id", s.session.ID), zap.Stringer("step", s.session.Step))
		s.session = newSession(s.deps.Clock.Now())
		s.emitLocked()
	}
}

// Close resets the sequencer and refuses further attempts.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Reset()
}

func (s *Sequencer) stateLocked() State {
	sess := s.session
	return State{
		SessionID:    sess.ID,
		Step:         sess.Step,
		Mode:         s.policy.Mode.String(),
		Blinks:       sess.Blinks,
		HasEvidence:  sess.Evidence != nil,
		Polls:        sess.polls,
		SkippedTicks: sess.skippedTicks,
		Result:       sess.Result,
		LastResult:   s.last,
	}
}

func (s *Sequencer) emitLocked() {
	if s.deps.Observer != nil {
		s.deps.Observer.StepChanged(s.stateLocked())
	}
}

// emitStepLocked reports a step the session passed through within a single
// observation.
func (s *Sequencer) emitStepLocked(step Step) {
	if s.deps.Observer != nil {
		st := s.stateLocked()
		st.Step = step
		s.deps.Observer.StepChanged(st)
	}
}

func (s *Sequencer) notify(level Level, msg string) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(Notification{Level: level, Message: msg, At: s.deps.Clock.Now()})
	}
}

func (s *Sequencer) navigate(route string) {
	if s.deps.Navigator != nil {
		s.deps.Navigator.Navigate(route)
	}
}

// run is the single goroutine owning an attempt.
func (s *Sequencer) run(ctx context.Context, sess *Session, done chan struct{}) {
	a := &attempt{
		seq:    s,
		ctx:    ctx,
		sess:   sess,
		logger: logging.WithOperation(s.logger, "sequencer.run", sess.ID),
	}
	defer func() {
		a.releaseCamera()
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()
	a.execute()
}
