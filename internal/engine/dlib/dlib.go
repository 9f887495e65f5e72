// Package dlib implements engine.Engine on top of dlib through go-face.
// It requires the dlib models (shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat, mmod_human_face_detector.dat)
// in the configured models directory.
package dlib

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/models"
)

// Engine wraps a go-face recognizer. go-face recognizers are not safe for
// concurrent use, so calls are serialized.
type Engine struct {
	mu        sync.Mutex
	rec       *face.Recognizer
	threshold float64
}

var _ engine.Engine = (*Engine)(nil)

// New loads the dlib models from modelsDir.
func New(modelsDir string, threshold float64) (*Engine, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("dlib: load models from %s: %w", modelsDir, err)
	}
	if threshold <= 0 {
		threshold = engine.DefaultThreshold
	}
	return &Engine{rec: rec, threshold: threshold}, nil
}

// Detect encodes img as JPEG and runs detection plus descriptor extraction.
func (e *Engine) Detect(ctx context.Context, img image.Image) ([]models.DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("dlib: encode frame: %w", err)
	}

	e.mu.Lock()
	faces, err := e.rec.Recognize(buf.Bytes())
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib: recognize: %w", err)
	}

	out := make([]models.DetectedFace, 0, len(faces))
	for _, f := range faces {
		emb := make(models.Embedding, len(f.Descriptor))
		copy(emb, f.Descriptor[:])
		out = append(out, models.DetectedFace{
			Box:       models.Box(f.Rectangle),
			Embedding: emb,
		})
	}
	return out, nil
}

// Distance returns the Euclidean distance between two descriptors.
func (e *Engine) Distance(a, b models.Embedding) float64 {
	return engine.Euclidean(a, b)
}

// Threshold returns the configured match tolerance.
func (e *Engine) Threshold() float64 { return e.threshold }

// Close releases the dlib models.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	return nil
}
