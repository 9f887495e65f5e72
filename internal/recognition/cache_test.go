package recognition

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/starford/rollcall/internal/models"
	"github.com/starford/rollcall/internal/testutil"
)

type mapImages map[string][]byte

func (m mapImages) Read(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	gray  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

func TestBuildCache_SkipsUnusableRecords(t *testing.T) {
	eng := testutil.NewColorEngine()
	eng.Set(red, testutil.Face(image.Rect(0, 0, 4, 4), 0.1, 0.1))
	eng.Set(green,
		testutil.Face(image.Rect(0, 0, 4, 4), 0.2, 0.2),
		testutil.Face(image.Rect(4, 4, 8, 8), 0.9, 0.9),
	)
	// blue: no face

	images := mapImages{
		"dataset/ann_001.jpg": testutil.PNG(t, 8, 8, red),
		"dataset/bob_002.jpg": testutil.PNG(t, 8, 8, green),
		"dataset/cat_003.jpg": testutil.PNG(t, 8, 8, blue),
		"dataset/dan_004.jpg": []byte("not an image"),
	}
	records := []models.PersonRecord{
		{ID: "001", DisplayName: "Ann", ImagePath: "dataset/ann_001.jpg"},
		{ID: "002", DisplayName: "Bob", ImagePath: "dataset/bob_002.jpg"},
		{ID: "003", DisplayName: "Cat", ImagePath: "dataset/cat_003.jpg"},
		{ID: "004", DisplayName: "Dan", ImagePath: "dataset/dan_004.jpg"},
		{ID: "005", DisplayName: "Eve", ImagePath: "dataset/missing.jpg"},
	}

	c, err := BuildCache(context.Background(), records, images, eng, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}

	labels := c.Labels()
	if len(labels) != 2 || labels[0] != "001 - Ann" || labels[1] != "002 - Bob" {
		t.Fatalf("labels = %v", labels)
	}
	// Only the first face of a multi-face image is used.
	if got := c.Entries()[1].Embedding[0]; got != 0.2 {
		t.Errorf("bob embedding[0] = %v, want 0.2", got)
	}
}

func TestBuildCache_DetectionErrorSkips(t *testing.T) {
	eng := testutil.NewColorEngine()
	eng.Err = errors.New("engine down")
	images := mapImages{"a.png": testutil.PNG(t, 4, 4, red)}

	c, err := BuildCache(context.Background(),
		[]models.PersonRecord{{ID: "1", DisplayName: "A", ImagePath: "a.png"}},
		images, eng, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0", c.Len())
	}
}

func TestBuildCache_EmptyRegistry(t *testing.T) {
	c, err := BuildCache(context.Background(), nil, mapImages{}, testutil.NewColorEngine(), testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0", c.Len())
	}
}

func TestBuildCache_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildCache(ctx,
		[]models.PersonRecord{{ID: "1", DisplayName: "A", ImagePath: "a.png"}},
		mapImages{}, testutil.NewColorEngine(), testutil.Logger())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
