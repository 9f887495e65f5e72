package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"golang.org/x/image/draw"

	"github.com/starford/rollcall/internal/engine"
	"github.com/starford/rollcall/internal/models"
)

// DefaultScale is the linear downscale factor applied before detection.
const DefaultScale = 0.25

// Recorder persists one attendance entry.
type Recorder interface {
	Record(ctx context.Context, label string, ts time.Time) error
}

// Session is the mutable recognition state of one pipeline run.
type Session struct {
	Cache    *Cache
	Ledger   *Ledger
	Recorder Recorder
}

// Processor runs detection and identification on full-resolution frames.
type Processor struct {
	engine  engine.Engine
	inverse int
	prefix  int
	now     func() time.Time
	logger  *slog.Logger
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithScale sets the detection downscale factor. 1/scale is rounded to an
// integer so boxes map back to the frame exactly.
func WithScale(scale float64) ProcessorOption {
	return func(p *Processor) {
		if scale > 0 && scale <= 1 {
			p.inverse = int(math.Round(1 / scale))
		}
	}
}

// WithUnknownPrefix sets how many embedding components feed unknown labels.
func WithUnknownPrefix(n int) ProcessorOption {
	return func(p *Processor) { p.prefix = n }
}

// WithClock overrides the attendance timestamp source.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor returns a processor using eng.
func NewProcessor(eng engine.Engine, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		engine:  eng,
		inverse: int(math.Round(1 / DefaultScale)),
		prefix:  DefaultUnknownPrefix,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Inverse returns the factor applied to detection boxes.
func (p *Processor) Inverse() int { return p.inverse }

// ProcessFrame detects every face in frame, decides its identity, records
// first sightings through s.Recorder and returns the annotated frame.
//
// A detection error aborts the frame. Recorder failures do not: the affected
// label is released from the ledger so a later frame retries, and the
// failures are returned joined alongside the results.
func (p *Processor) ProcessFrame(ctx context.Context, s *Session, frame image.Image) (*image.RGBA, []models.FaceResult, error) {
	small := p.downscale(frame)

	faces, err := p.engine.Detect(ctx, small)
	if err != nil {
		return nil, nil, fmt.Errorf("recognition: detect: %w", err)
	}

	out := toRGBA(frame)
	origin := frame.Bounds().Min
	results := make([]models.FaceResult, 0, len(faces))
	var recordErrs []error

	for _, f := range faces {
		dec := Decide(s.Cache, f.Embedding, p.engine, p.prefix)

		recorded := false
		if s.Ledger.Mark(dec.Label) {
			// Nothing is recorded once the run has been cancelled.
			err := ctx.Err()
			if err == nil {
				err = s.Recorder.Record(ctx, dec.Label, p.now())
			}
			if err != nil {
				s.Ledger.Forget(dec.Label)
				recordErrs = append(recordErrs, fmt.Errorf("recognition: record %q: %w", dec.Label, err))
			} else {
				recorded = true
				p.logger.Info("recognition: attendance marked",
					slog.String("label", dec.Label), slog.Bool("known", dec.Known))
			}
		}

		box := f.Box.Scale(p.inverse)
		box = models.Box(box.Rect().Add(origin))
		annotate(out, box.Rect(), dec.Label, dec.Known)

		results = append(results, models.FaceResult{
			Box:      box,
			Decision: dec,
			Recorded: recorded,
		})
	}

	return out, results, errors.Join(recordErrs...)
}

// downscale shrinks frame by the inverse factor into an RGBA image, which is
// also the channel layout the engines consume.
func (p *Processor) downscale(frame image.Image) *image.RGBA {
	b := frame.Bounds()
	w := max(b.Dx()/p.inverse, 1)
	h := max(b.Dy()/p.inverse, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, b, draw.Src, nil)
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
