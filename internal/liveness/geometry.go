package liveness

import "math"

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2*|p1-p4|) for six eye
// boundary points. ok is false when the eye is degenerate.
func EyeAspectRatio(eye []Point) (ear float64, ok bool) {
	if len(eye) != 6 {
		return 0, false
	}
	horizontal := distance(eye[0], eye[3])
	if horizontal == 0 {
		return 0, false
	}
	vertical := distance(eye[1], eye[5]) + distance(eye[2], eye[4])
	return vertical / (2 * horizontal), true
}

// AverageEyeAspectRatio averages the EAR of both eyes of a 68 point face.
func AverageEyeAspectRatio(points []Point) (float64, bool) {
	if len(points) < landmarkCount {
		return 0, false
	}
	left, okLeft := EyeAspectRatio(points[leftEyeStart : leftEyeStart+6])
	right, okRight := EyeAspectRatio(points[rightEyeStart : rightEyeStart+6])
	if !okLeft || !okRight {
		return 0, false
	}
	return (left + right) / 2, true
}

// FaceCenter returns the center of the bounding box of the jaw line.
func FaceCenter(points []Point) (Point, bool) {
	if len(points) <= jawEnd {
		return Point{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points[jawStart : jawEnd+1] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return Point{X: (minX + maxX) / 2, Y: (minY + maxY) / 2}, true
}

// ScaledThreshold scales a pixel threshold defined at the reference
// resolution to a frame of width x height, by diagonal.
func ScaledThreshold(threshold float64, refWidth, refHeight, width, height int) float64 {
	if refWidth <= 0 || refHeight <= 0 || width <= 0 || height <= 0 {
		return threshold
	}
	ref := math.Hypot(float64(refWidth), float64(refHeight))
	return threshold * math.Hypot(float64(width), float64(height)) / ref
}
