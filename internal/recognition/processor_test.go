package recognition

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/starford/rollcall/internal/models"
	"github.com/starford/rollcall/internal/testutil"
)

func newSession(c *Cache, rec Recorder) *Session {
	return &Session{Cache: c, Ledger: NewLedger(), Recorder: rec}
}

func TestProcessFrame_KnownFaceRecordedOnce(t *testing.T) {
	eng := testutil.NewColorEngine()
	bond := models.Embedding{0.1, 0.2, 0.3, 0.4, 0.5}
	eng.Set(gray, testutil.Face(image.Rect(10, 20, 30, 40), bond...))

	rec := &testutil.Recorder{}
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	p := NewProcessor(eng, testutil.Logger(), WithClock(func() time.Time { return fixed }))
	s := newSession(NewCache(models.EmbeddingEntry{Embedding: bond, Label: "007 - Bond"}), rec)

	frame := testutil.Solid(640, 480, gray)
	for range 3 {
		out, results, err := p.ProcessFrame(context.Background(), s, frame)
		if err != nil {
			t.Fatal(err)
		}
		if out.Bounds() != frame.Bounds() {
			t.Fatalf("annotated bounds = %v, want %v", out.Bounds(), frame.Bounds())
		}
		if len(results) != 1 {
			t.Fatalf("results = %d, want 1", len(results))
		}
		got := results[0]
		if got.Decision.Label != "007 - Bond" || !got.Decision.Known {
			t.Fatalf("decision = %+v", got.Decision)
		}
		if want := image.Rect(40, 80, 120, 160); got.Box.Rect() != want {
			t.Errorf("box = %v, want %v", got.Box.Rect(), want)
		}
	}

	if n := rec.Count("007 - Bond"); n != 1 {
		t.Fatalf("recorded %d times, want 1", n)
	}
	if !rec.Entries[0].Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", rec.Entries[0].Timestamp, fixed)
	}
}

func TestProcessFrame_OnlyFirstSightingFlagged(t *testing.T) {
	eng := testutil.NewColorEngine()
	eng.Set(gray, testutil.Face(image.Rect(0, 0, 5, 5), 0.1))
	p := NewProcessor(eng, testutil.Logger())
	s := newSession(NewCache(models.EmbeddingEntry{Embedding: models.Embedding{0.1}, Label: "a"}), &testutil.Recorder{})

	frame := testutil.Solid(40, 40, gray)
	_, first, _ := p.ProcessFrame(context.Background(), s, frame)
	_, second, _ := p.ProcessFrame(context.Background(), s, frame)
	if !first[0].Recorded || second[0].Recorded {
		t.Errorf("recorded flags = %v, %v; want true, false", first[0].Recorded, second[0].Recorded)
	}
}

func TestProcessFrame_UnknownFaces(t *testing.T) {
	eng := testutil.NewColorEngine()
	stranger := models.Embedding{0.9, 0.8, 0.7, 0.6, 0.5, 0.4}
	eng.Set(gray,
		testutil.Face(image.Rect(0, 0, 10, 10), stranger...),
		testutil.Face(image.Rect(20, 20, 30, 30), stranger...),
	)
	rec := &testutil.Recorder{}
	p := NewProcessor(eng, testutil.Logger())
	s := newSession(NewCache(), rec)

	_, results, err := p.ProcessFrame(context.Background(), s, testutil.Solid(200, 200, gray))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Decision.Known || !strings.HasPrefix(r.Decision.Label, "Unknown_") {
			t.Errorf("decision = %+v, want unknown", r.Decision)
		}
	}
	if results[0].Decision.Label != results[1].Decision.Label {
		t.Error("identical embeddings should share an unknown label")
	}
	if rec.Len() != 1 {
		t.Errorf("recorded %d entries, want 1", rec.Len())
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	rec := &testutil.Recorder{}
	p := NewProcessor(testutil.NewColorEngine(), testutil.Logger())
	out, results, err := p.ProcessFrame(context.Background(), newSession(nil, rec), testutil.Solid(64, 48, gray))
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || len(results) != 0 || rec.Len() != 0 {
		t.Errorf("out=%v results=%d recorded=%d", out != nil, len(results), rec.Len())
	}
}

func TestProcessFrame_DetectErrorAbortsFrame(t *testing.T) {
	eng := testutil.NewColorEngine()
	eng.Err = errors.New("boom")
	p := NewProcessor(eng, testutil.Logger())
	_, _, err := p.ProcessFrame(context.Background(), newSession(nil, &testutil.Recorder{}), testutil.Solid(8, 8, gray))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestProcessFrame_RecordFailureRetried(t *testing.T) {
	eng := testutil.NewColorEngine()
	eng.Set(gray, testutil.Face(image.Rect(0, 0, 5, 5), 0.1))
	rec := &testutil.Recorder{Err: errors.New("disk full")}
	p := NewProcessor(eng, testutil.Logger())
	s := newSession(NewCache(models.EmbeddingEntry{Embedding: models.Embedding{0.1}, Label: "a"}), rec)
	frame := testutil.Solid(40, 40, gray)

	_, results, err := p.ProcessFrame(context.Background(), s, frame)
	if err == nil {
		t.Fatal("expected record error")
	}
	if len(results) != 1 || results[0].Recorded {
		t.Fatalf("results = %+v", results)
	}
	if s.Ledger.Has("a") {
		t.Fatal("failed label should be released")
	}

	rec.Err = nil
	if _, _, err := p.ProcessFrame(context.Background(), s, frame); err != nil {
		t.Fatal(err)
	}
	if rec.Count("a") != 1 {
		t.Errorf("recorded %d, want 1", rec.Count("a"))
	}
}

func TestProcessFrame_CustomScale(t *testing.T) {
	eng := testutil.NewColorEngine()
	eng.Set(gray, testutil.Face(image.Rect(1, 2, 3, 4), 0.1))
	p := NewProcessor(eng, testutil.Logger(), WithScale(0.5))
	if p.Inverse() != 2 {
		t.Fatalf("inverse = %d, want 2", p.Inverse())
	}
	_, results, err := p.ProcessFrame(context.Background(), newSession(nil, &testutil.Recorder{}), testutil.Solid(20, 20, gray))
	if err != nil {
		t.Fatal(err)
	}
	if want := image.Rect(2, 4, 6, 8); results[0].Box.Rect() != want {
		t.Errorf("box = %v, want %v", results[0].Box.Rect(), want)
	}
}

// cancellingRecorder cancels the run after its first successful record.
type cancellingRecorder struct {
	testutil.Recorder
	cancel context.CancelFunc
}

func (r *cancellingRecorder) Record(ctx context.Context, label string, ts time.Time) error {
	err := r.Recorder.Record(ctx, label, ts)
	r.cancel()
	return err
}

func TestProcessFrame_NoRecordsAfterCancel(t *testing.T) {
	eng := testutil.NewColorEngine()
	bond := models.Embedding{0.1, 0.2, 0.3, 0.4, 0.5}
	q := models.Embedding{0.9, 0.1, 0.9, 0.1, 0.9}
	eng.Set(gray,
		testutil.Face(image.Rect(0, 0, 10, 10), bond...),
		testutil.Face(image.Rect(20, 20, 30, 30), q...),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &cancellingRecorder{cancel: cancel}
	p := NewProcessor(eng, testutil.Logger())
	s := newSession(NewCache(
		models.EmbeddingEntry{Embedding: bond, Label: "007 - Bond"},
		models.EmbeddingEntry{Embedding: q, Label: "Q - Quartermaster"},
	), rec)

	_, results, err := p.ProcessFrame(ctx, s, testutil.Solid(80, 80, gray))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(results) != 2 || !results[0].Recorded || results[1].Recorded {
		t.Fatalf("results = %+v", results)
	}
	if n := rec.Count("Q - Quartermaster"); n != 0 {
		t.Errorf("recorded after cancel %d times", n)
	}
	// The label stays eligible for the next session's ledger.
	if !s.Ledger.Mark("Q - Quartermaster") {
		t.Error("cancelled label left marked in the ledger")
	}
}
