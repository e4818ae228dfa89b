package sequencer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/kyc-liveness/internal/apiclient"
	"github.com/example/kyc-liveness/internal/capture"
	"github.com/example/kyc-liveness/internal/liveness"
)

const (
	msgDevice    = "Camera access was denied or no camera is available."
	msgDetection = "Face detection could not be loaded. Please try again."
	msgCapture   = "We could not capture your image. Please try again."
	msgAuth      = "Your session has expired. Please sign in again."
	msgSuccess   = "Verification successful!"
	msgRetrying  = "Connection problem. Please look at the camera again."
	msgFaceLost  = "Face lost. Please stay in front of the camera."
	msgRejected  = "Verification failed"
)

// attempt carries the per-session state owned by the run goroutine.
type attempt struct {
	seq    *Sequencer
	ctx    context.Context
	sess   *Session
	stream *capture.Stream
	logger *zap.Logger
}

func (a *attempt) execute() {
	s := a.seq
	p := s.policy

	stream, err := s.deps.Device.Acquire(a.ctx, p.Constraints)
	if err != nil {
		a.fail(CauseDevice, msgDevice, err)
		return
	}
	a.stream = stream

	if p.Mode == ModeGated {
		if err := a.loadModel(); err != nil {
			a.fail(CauseDetection, msgDetection, err)
			return
		}
	}

	for {
		ev, ok := a.captureEvidence()
		if !ok {
			return
		}
		if retry := a.submit(ev); !retry {
			return
		}
	}
}

func (a *attempt) loadModel() error {
	s := a.seq
	backoff := s.policy.ModelLoadBackoff
	for n := 1; ; n++ {
		err := s.deps.Detector.Load(a.ctx)
		if err == nil {
			return nil
		}
		if n >= s.policy.ModelLoadAttempts || a.ctx.Err() != nil {
			return err
		}
		a.logger.Warn("model load failed, retrying", zap.Error(err), zap.Int("attempt", n), zap.Duration("backoff", backoff))
		select {
		case <-a.ctx.Done():
			return a.ctx.Err()
		case <-s.deps.Clock.After(backoff):
		}
		backoff *= 2
	}
}

// captureEvidence runs the liveness challenge for the policy and returns the
// captured evidence in the Processing step.
func (a *attempt) captureEvidence() (*capture.Evidence, bool) {
	s := a.seq
	p := s.policy

	var (
		ev  *capture.Evidence
		err error
	)
	if p.Mode == ModeTimed {
		if !a.update(func(ss *Session) { ss.Step = Recording }) {
			return nil, false
		}
		ev, err = s.deps.Device.RecordFor(a.ctx, a.stream, p.RecordDuration)
		if err == nil && !a.update(func(ss *Session) { ss.Step = Processing }) {
			return nil, false
		}
	} else {
		if !a.update(func(ss *Session) { ss.Step = DetectingFace }) {
			return nil, false
		}
		if !a.poll() {
			return nil, false
		}
		if p.Evidence == capture.EvidenceVideo {
			ev, err = s.deps.Device.RecordFor(a.ctx, a.stream, p.RecordDuration)
		} else {
			ev, err = s.deps.Device.Snapshot(a.stream)
		}
	}

	if a.ctx.Err() != nil {
		return nil, false
	}
	if err != nil {
		a.fail(CauseCapture, msgCapture, err)
		return nil, false
	}
	if !a.update(func(ss *Session) { ss.Evidence = ev }) {
		return nil, false
	}
	a.logger.Info("evidence captured", zap.String("kind", ev.Kind.String()), zap.Int("bytes", ev.Size()))
	return ev, true
}

// poll feeds detector observations into the session until it reaches
// Processing. Ticks arriving while a detection is in flight are skipped.
func (a *attempt) poll() bool {
	s := a.seq
	ticker := s.deps.Clock.NewTicker(s.policy.PollInterval)
	defer ticker.Stop()

	results := make(chan liveness.Observation, 1)
	inFlight := false

	for {
		select {
		case <-a.ctx.Done():
			return false
		case <-ticker.C():
			if inFlight {
				a.update(func(ss *Session) { ss.skippedTicks++ })
				continue
			}
			frame, err := s.deps.Device.Frame(a.stream)
			if err != nil {
				a.logger.Debug("no frame for detection", zap.Error(err))
				if a.apply(liveness.Observation{At: s.deps.Clock.Now()}) {
					return true
				}
				continue
			}
			inFlight = true
			go func(frame capture.Frame) {
				obs := s.deps.Detector.Observe(a.ctx, frame)
				select {
				case results <- obs:
				case <-a.ctx.Done():
				}
			}(frame)
		case obs := <-results:
			inFlight = false
			if a.apply(obs) {
				return true
			}
			if a.ctx.Err() != nil {
				return false
			}
		}
	}
}

// apply hands one observation to the transition function.
func (a *attempt) apply(obs liveness.Observation) bool {
	var (
		reached bool
		before  Step
		after   Step
	)
	ok := a.update(func(ss *Session) {
		ss.polls++
		before = ss.Step
		reached = ss.Apply(obs, a.seq.policy)
		after = ss.Step
	})
	if !ok {
		return false
	}
	if before != after {
		a.logger.Debug("step advanced", zap.Stringer("from", before), zap.Stringer("to", after))
		if after == DetectingFace && before.awaitingChallenge() {
			a.seq.notify(LevelInfo, msgFaceLost)
		}
	}
	return reached
}

// submit posts the evidence and settles the session. It returns true when
// the capture should be retried.
func (a *attempt) submit(ev *capture.Evidence) bool {
	s := a.seq
	ctx := a.ctx
	if s.policy.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(a.ctx, s.policy.SubmitTimeout)
		defer cancel()
	}

	result, err := s.deps.Submitter.Submit(ctx, ev)
	// The evidence is never read again, whatever the outcome.
	if !a.update(func(ss *Session) { ss.Evidence = nil }) {
		return false
	}

	var vErr *apiclient.ValidationError
	switch {
	case err == nil && result != nil && result.Success:
		a.complete(result)
		return false
	case err == nil && result != nil:
		msg := result.Message
		if msg == "" {
			msg = msgRejected
		}
		a.fail(CauseRejected, msg, nil)
		return false
	case errors.As(err, &vErr):
		a.fail(CauseValidation, vErr.Message, err)
		return false
	case errors.Is(err, apiclient.ErrUnauthorized):
		a.fail(CauseAuth, msgAuth, err)
		return false
	}

	if err == nil {
		err = errors.New("empty submission result")
	}
	if s.policy.RetryCaptureOnNetworkError && a.sess.captureRetries == 0 {
		a.logger.Warn("submission failed, retrying capture", zap.Error(err))
		if !a.update(func(ss *Session) {
			ss.captureRetries++
			ss.Blinks = 0
			ss.missedFaces = 0
		}) {
			return false
		}
		s.notify(LevelInfo, msgRetrying)
		return true
	}
	a.fail(CauseNetwork, apiclient.GenericFailureMessage, err)
	return false
}

// update mutates the session under the sequencer lock unless the attempt has
// been cancelled.
func (a *attempt) update(fn func(ss *Session)) bool {
	s := a.seq
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ctx.Err() != nil || s.session != a.sess {
		return false
	}
	prev := a.sess.Step
	a.sess.entered = a.sess.entered[:0]
	fn(a.sess)
	switch {
	case len(a.sess.entered) > 0:
		for _, step := range a.sess.entered {
			s.emitStepLocked(step)
		}
	case a.sess.Step != prev:
		s.emitLocked()
	}
	return true
}

func (a *attempt) releaseCamera() {
	if a.stream != nil {
		a.seq.deps.Device.Release(a.stream)
		a.stream = nil
	}
}

func (a *attempt) complete(res *apiclient.Result) {
	s := a.seq
	a.releaseCamera()
	result := &Result{
		SessionID:      a.sess.ID,
		Outcome:        OutcomeSuccess,
		Message:        res.Message,
		VerificationID: res.VerificationID,
		Payload:        res.Payload,
		At:             s.deps.Clock.Now(),
	}
	if !a.update(func(ss *Session) {
		ss.Step = Complete
		ss.Result = result
		s.last = result
	}) {
		return
	}
	a.logger.Info("verification complete", zap.String("verification_id", res.VerificationID))
	s.notify(LevelSuccess, msgSuccess)

	select {
	case <-a.ctx.Done():
		return
	case <-s.deps.Clock.After(s.policy.NavigationDelay):
	}
	if a.update(func(ss *Session) {}) {
		s.navigate(RouteDashboard)
		s.mu.Lock()
		if s.session == a.sess {
			s.session = newSession(s.deps.Clock.Now())
			s.emitLocked()
		}
		s.mu.Unlock()
	}
}

// fail releases the camera, records the failure and returns to Instructions.
func (a *attempt) fail(cause Cause, msg string, err error) {
	s := a.seq
	a.releaseCamera()
	if a.ctx.Err() != nil {
		return
	}

	result := &Result{
		SessionID: a.sess.ID,
		Outcome:   OutcomeFailure,
		Cause:     cause,
		Message:   msg,
		At:        s.deps.Clock.Now(),
	}

	s.mu.Lock()
	if s.session != a.sess {
		s.mu.Unlock()
		return
	}
	a.sess.Step = Failed
	a.sess.Result = result
	a.sess.Evidence = nil
	s.last = result
	s.emitLocked()
	s.session = newSession(s.deps.Clock.Now())
	s.emitLocked()
	s.mu.Unlock()

	fields := []zap.Field{zap.Stringer("cause", cause), zap.String("message", msg)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	a.logger.Warn("verification failed", fields...)
	s.notify(LevelError, msg)
	if cause == CauseAuth {
		s.navigate(RouteLogin)
	}
}
