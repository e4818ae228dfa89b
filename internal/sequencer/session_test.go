package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/kyc-liveness/internal/liveness"
)

var t0 = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func face(at time.Duration) liveness.Observation {
	return liveness.Observation{FaceDetected: true, At: t0.Add(at)}
}

func blink(at time.Duration) liveness.Observation {
	obs := face(at)
	obs.BlinkDetected = true
	return obs
}

func centered(at time.Duration) liveness.Observation {
	obs := face(at)
	obs.Centered = true
	return obs
}

func noFace(at time.Duration) liveness.Observation {
	return liveness.Observation{At: t0.Add(at)}
}

func detectingSession() *Session {
	s := newSession(t0)
	s.Step = DetectingFace
	return s
}

func TestApplyGatedSequence(t *testing.T) {
	p := DefaultPolicy()
	s := detectingSession()

	require.False(t, s.Apply(blink(0), p))
	require.Equal(t, AwaitingCenter, s.Step)

	require.False(t, s.Apply(centered(500*time.Millisecond), p))
	require.Equal(t, AwaitingFinalBlink, s.Step)

	require.False(t, s.Apply(blink(1000*time.Millisecond), p))
	require.Equal(t, 1, s.Blinks)

	require.True(t, s.Apply(blink(1500*time.Millisecond), p))
	require.Equal(t, Processing, s.Step)

	// Processing ignores further observations.
	require.False(t, s.Apply(blink(2000*time.Millisecond), p))
	require.Equal(t, Processing, s.Step)
}

func TestApplyNoFaceNeverLeavesDetection(t *testing.T) {
	p := DefaultPolicy()
	s := detectingSession()
	for i := 0; i < 50; i++ {
		require.False(t, s.Apply(noFace(time.Duration(i)*100*time.Millisecond), p))
	}
	require.Equal(t, DetectingFace, s.Step)
}

func TestApplyDebouncesRapidBlinks(t *testing.T) {
	p := DefaultPolicy()
	s := detectingSession()
	s.Step = AwaitingFinalBlink

	require.False(t, s.Apply(blink(0), p))
	require.False(t, s.Apply(blink(100*time.Millisecond), p))
	require.False(t, s.Apply(blink(200*time.Millisecond), p))
	require.Equal(t, 1, s.Blinks)
	require.Equal(t, AwaitingFinalBlink, s.Step)

	require.True(t, s.Apply(blink(500*time.Millisecond), p))
}

func TestApplyCenteringCanBeDisabled(t *testing.T) {
	p := DefaultPolicy()
	p.RequireCentering = false
	s := detectingSession()

	s.Apply(blink(0), p)
	require.Equal(t, AwaitingFinalBlink, s.Step)
}

func TestApplyFaceLostRevertsAfterConsecutiveMisses(t *testing.T) {
	p := DefaultPolicy()
	s := detectingSession()
	s.Apply(blink(0), p)
	s.Apply(centered(100*time.Millisecond), p)
	require.Equal(t, AwaitingFinalBlink, s.Step)

	s.Apply(noFace(200*time.Millisecond), p)
	require.Equal(t, AwaitingFinalBlink, s.Step, "a single miss is tolerated")

	s.Apply(face(300*time.Millisecond), p)
	s.Apply(noFace(400*time.Millisecond), p)
	require.Equal(t, AwaitingFinalBlink, s.Step, "misses must be consecutive")

	s.Apply(noFace(500*time.Millisecond), p)
	require.Equal(t, DetectingFace, s.Step)
	require.Zero(t, s.Blinks)
}

func TestApplyIgnoredOutsideDetection(t *testing.T) {
	p := DefaultPolicy()
	for _, step := range []Step{Instructions, Initializing, Recording, Processing, Complete, Failed} {
		s := newSession(t0)
		s.Step = step
		require.False(t, s.Apply(blink(0), p))
		require.Equal(t, step, s.Step)
	}
}

func TestStepNames(t *testing.T) {
	require.Equal(t, "awaiting_final_blink", AwaitingFinalBlink.String())
	require.Equal(t, "step(42)", Step(42).String())

	text, err := Processing.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "processing", string(text))
}

func TestParsePolicyValues(t *testing.T) {
	require.Equal(t, ModeTimed, ParseMode(" Timed "))
	require.Equal(t, ModeGated, ParseMode("bogus"))
	require.Equal(t, "video", ParseEvidence("VIDEO").String())
	require.Equal(t, "image", ParseEvidence("").String())

	p := Policy{}.normalized()
	require.Equal(t, 2, p.FinalBlinks)
	require.Equal(t, 100*time.Millisecond, p.PollInterval)
	require.Equal(t, 1, p.ModelLoadAttempts)
}

func TestApplyRecordsStepsPassedInOneObservation(t *testing.T) {
	s := detectingSession()
	s.Apply(blink(0), DefaultPolicy())
	require.Equal(t, AwaitingCenter, s.Step)
	require.Equal(t, []Step{AwaitingBlink, AwaitingCenter}, s.entered)

	s.entered = nil
	s.Apply(face(100*time.Millisecond), DefaultPolicy())
	require.Empty(t, s.entered)

	s.Apply(noFace(200*time.Millisecond), DefaultPolicy())
	s.Apply(noFace(300*time.Millisecond), DefaultPolicy())
	require.Equal(t, []Step{DetectingFace}, s.entered)
}
