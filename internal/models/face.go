package models

import "image"

// Embedding is a fixed-length face descriptor produced by a face engine.
type Embedding []float32

// EmbeddingEntry pairs a known face embedding with its label.
type EmbeddingEntry struct {
	Embedding Embedding
	Label     string
}

// Box is a face bounding box in pixel coordinates.
type Box image.Rectangle

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle { return image.Rectangle(b) }

// Scale multiplies every coordinate by factor.
func (b Box) Scale(factor int) Box {
	return Box{
		Min: image.Pt(b.Min.X*factor, b.Min.Y*factor),
		Max: image.Pt(b.Max.X*factor, b.Max.Y*factor),
	}
}

// DetectedFace is one face found in a frame. It is consumed immediately.
type DetectedFace struct {
	Box       Box
	Embedding Embedding
}

// IdentityDecision is the match outcome for one detected face.
type IdentityDecision struct {
	Label    string  `json:"label"`
	Known    bool    `json:"known"`
	Distance float64 `json:"distance,omitempty"`
}

// FaceResult is what the frame processor reports for one face.
// Box is expressed in full-resolution frame coordinates.
type FaceResult struct {
	Box      Box              `json:"box"`
	Decision IdentityDecision `json:"decision"`
	Recorded bool             `json:"recorded"`
}
