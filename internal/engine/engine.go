// Package engine defines the face-embedding engine contract and the distance
// metric shared by its implementations.
package engine

import (
	"context"
	"image"
	"math"

	"github.com/starford/rollcall/internal/models"
)

// DefaultThreshold is the match tolerance used by dlib-style 128-d embeddings.
const DefaultThreshold = 0.6

// Engine detects faces and computes one embedding per face.
type Engine interface {
	// Detect returns every face found in img, in the engine's detection order.
	// Zero faces is not an error.
	Detect(ctx context.Context, img image.Image) ([]models.DetectedFace, error)
	// Distance returns the dissimilarity between two embeddings (lower = closer).
	Distance(a, b models.Embedding) float64
	// Threshold is the largest distance still considered a match.
	Threshold() float64
}

// Euclidean returns the L2 distance between a and b. Mismatched lengths
// never match.
func Euclidean(a, b models.Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Matches is the binary match predicate: distance within threshold.
func Matches(e Engine, distance float64) bool {
	return distance <= e.Threshold()
}
