package sequencer

import "fmt"

// Step is a state of the verification wizard.
type Step int

const (
	Instructions Step = iota
	Initializing
	DetectingFace
	AwaitingBlink
	AwaitingCenter
	AwaitingFinalBlink
	Recording
	Processing
	Complete
	Failed
)

var stepNames = map[Step]string{
	Instructions:       "instructions",
	Initializing:       "initializing",
	DetectingFace:      "detecting_face",
	AwaitingBlink:      "awaiting_blink",
	AwaitingCenter:     "awaiting_center",
	AwaitingFinalBlink: "awaiting_final_blink",
	Recording:          "recording",
	Processing:         "processing",
	Complete:           "complete",
	Failed:             "failed",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// MarshalText renders the step by name.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// detectionDependent reports whether the step consumes detector observations.
func (s Step) detectionDependent() bool {
	switch s {
	case DetectingFace, AwaitingBlink, AwaitingCenter, AwaitingFinalBlink:
		return true
	}
	return false
}

// awaitingChallenge reports whether a lost face reverts the step.
func (s Step) awaitingChallenge() bool {
	return s == AwaitingBlink || s == AwaitingCenter || s == AwaitingFinalBlink
}
