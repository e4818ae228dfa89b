// Package liveness turns face landmarks into per-frame liveness observations:
// face presence, blinks (eye aspect ratio) and face centering.
package liveness

import (
	"context"
	"errors"
)

// ErrModelUnavailable is returned by Load when the landmark model is not ready.
var ErrModelUnavailable = errors.New("landmark model unavailable")

// Indices into the 68 point facial landmark layout.
const (
	landmarkCount = 68
	jawStart      = 0
	jawEnd        = 16
	leftEyeStart  = 36
	rightEyeStart = 42
)

// Point is a landmark position in frame pixels.
type Point struct {
	X float64
	Y float64
}

// FaceLandmarks is one detected face.
type FaceLandmarks struct {
	Points []Point
	Score  float64
}

// LandmarkResult is the output of a landmark model for one frame.
type LandmarkResult struct {
	Width  int
	Height int
	Faces  []FaceLandmarks
}

// LandmarkProvider exposes the face landmark model used by the detector.
type LandmarkProvider interface {
	// Ready reports whether the model is loaded and serving.
	Ready(ctx context.Context) error
	// Detect runs the model on an encoded frame.
	Detect(ctx context.Context, frame []byte) (*LandmarkResult, error)
}
