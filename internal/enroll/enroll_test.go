package enroll

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/rollcall/internal/apperr"
	"github.com/starford/rollcall/internal/capture"
	"github.com/starford/rollcall/internal/models"
	"github.com/starford/rollcall/internal/registry"
	"github.com/starford/rollcall/internal/storage"
	"github.com/starford/rollcall/internal/testutil"
)

type fakeReloader struct {
	calls atomic.Int32
	err   error
}

func (f *fakeReloader) Reload(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type env struct {
	root     string
	mgr      *Manager
	reg      *registry.CSV
	camera   *testutil.Camera
	surface  *testutil.Surface
	reloader *fakeReloader
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		root:     root,
		reg:      registry.NewCSV(filepath.Join(root, "Dataset2.csv"), registry.PolicyAllow),
		camera:   testutil.NewCamera(testutil.Solid(64, 48, color.RGBA{R: 10, G: 20, B: 30, A: 255})),
		surface:  &testutil.Surface{},
		reloader: &fakeReloader{},
	}
	e.mgr = NewManager(Deps{
		Registry: e.reg,
		Images:   store,
		Source:   e.camera,
		Surfaces: e.surface.Factory(),
		Reloader: e.reloader,
		Logger:   testutil.Logger(),
	}, Config{ReadTimeout: 200 * time.Millisecond})
	return e
}

func wait(t *testing.T, s *Session) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

func TestBegin_ValidationHasNoSideEffects(t *testing.T) {
	cases := []struct{ id, name string }{
		{"", "Bond"},
		{"007", "   "},
		{"007", "../etc"},
		{`0\7`, "Bond"},
		{"007", "Bond\nMallory,2020-01-01 09:00:00\nQ"},
		{"00\r7", "Bond"},
		{"007", "Bo\x00nd"},
	}
	for _, tc := range cases {
		e := newEnv(t)
		_, err := e.mgr.Begin(context.Background(), tc.id, tc.name)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Begin(%q, %q) err = %v, want ErrValidation", tc.id, tc.name, err)
		}
		if e.camera.Opens.Load() != 0 {
			t.Errorf("Begin(%q, %q) opened the camera", tc.id, tc.name)
		}
		if _, err := os.Stat(e.reg.Path()); !os.IsNotExist(err) {
			t.Errorf("Begin(%q, %q) touched the registry", tc.id, tc.name)
		}
	}
}

func TestCapture_WritesImageAndRecord(t *testing.T) {
	e := newEnv(t)
	s, err := e.mgr.Begin(context.Background(), " 007 ", "Bond")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	s.Capture()
	res := wait(t, s)

	if res.Cancelled || res.Record == nil {
		t.Fatalf("result = %+v", res)
	}
	want := models.PersonRecord{ID: "007", DisplayName: "Bond", ImagePath: "dataset/bond_007.jpg"}
	if *res.Record != want {
		t.Errorf("record = %+v, want %+v", *res.Record, want)
	}
	if _, err := os.Stat(filepath.Join(e.root, "dataset", "bond_007.jpg")); err != nil {
		t.Errorf("image not written: %v", err)
	}
	recs, _ := e.reg.Load()
	if len(recs) != 1 || recs[0] != want {
		t.Errorf("registry = %+v", recs)
	}
	if e.reloader.calls.Load() != 1 {
		t.Errorf("reload calls = %d, want 1", e.reloader.calls.Load())
	}
	if e.camera.Closes.Load() != 1 || !e.surface.Closed.Load() {
		t.Error("device or surface not released")
	}
	if _, err := e.mgr.Current(); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Errorf("Current err = %v, want ErrNoActiveSession", err)
	}
}

func TestCapture_SpaceKey(t *testing.T) {
	e := newEnv(t)
	s, err := e.mgr.Begin(context.Background(), "1", "Ann")
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		return e.surface.Shown.Load() > 0
	}, "preview never showed a frame")
	e.surface.Press(capture.KeyCapture)

	if res := wait(t, s); res.Record == nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestCancel_WritesNothing(t *testing.T) {
	e := newEnv(t)
	s, err := e.mgr.Begin(context.Background(), "007", "Bond")
	if err != nil {
		t.Fatal(err)
	}
	s.Cancel()
	res := wait(t, s)

	if !res.Cancelled || res.Record != nil {
		t.Errorf("result = %+v, want cancelled", res)
	}
	if _, err := os.Stat(filepath.Join(e.root, "dataset")); !os.IsNotExist(err) {
		t.Error("cancel wrote an image")
	}
	if _, err := os.Stat(e.reg.Path()); !os.IsNotExist(err) {
		t.Error("cancel touched the registry")
	}
	if e.reloader.calls.Load() != 0 {
		t.Error("cancel triggered a reload")
	}
}

func TestCancel_EscKey(t *testing.T) {
	e := newEnv(t)
	s, err := e.mgr.Begin(context.Background(), "007", "Bond")
	if err != nil {
		t.Fatal(err)
	}
	e.surface.Press(capture.KeyCancel)
	if res := wait(t, s); !res.Cancelled {
		t.Errorf("result = %+v, want cancelled", res)
	}
}

func TestBegin_Busy(t *testing.T) {
	e := newEnv(t)
	s, err := e.mgr.Begin(context.Background(), "1", "Ann")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.Begin(context.Background(), "2", "Bob"); !errors.Is(err, apperr.ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	cur, err := e.mgr.Current()
	if err != nil || cur != s {
		t.Errorf("Current = %v, %v", cur, err)
	}

	s.Cancel()
	wait(t, s)
	s2, err := e.mgr.Begin(context.Background(), "2", "Bob")
	if err != nil {
		t.Fatalf("Begin after cancel: %v", err)
	}
	s2.Cancel()
	wait(t, s2)
}

func TestBegin_DeviceOpenFailure(t *testing.T) {
	e := newEnv(t)
	e.camera.FailOpen = true
	if _, err := e.mgr.Begin(context.Background(), "1", "Ann"); !errors.Is(err, apperr.ErrDeviceOpen) {
		t.Errorf("err = %v, want ErrDeviceOpen", err)
	}
	if _, err := e.mgr.Current(); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Error("failed Begin left a session behind")
	}
}

func TestCapture_ReloadFailureNotSurfaced(t *testing.T) {
	e := newEnv(t)
	e.reloader.err = errors.New("engine down")
	s, err := e.mgr.Begin(context.Background(), "1", "Ann")
	if err != nil {
		t.Fatal(err)
	}
	s.Capture()
	if res := wait(t, s); res.Record == nil {
		t.Fatalf("result = %+v", res)
	}
	if recs, _ := e.reg.Load(); len(recs) != 1 {
		t.Errorf("registry rows = %d, want 1", len(recs))
	}
}

func TestEnrollImage(t *testing.T) {
	e := newEnv(t)
	data := testutil.PNG(t, 8, 8, color.RGBA{G: 255, A: 255})

	rec, err := e.mgr.EnrollImage(context.Background(), "42", "Ford Prefect", "portrait.PNG", data)
	if err != nil {
		t.Fatalf("EnrollImage: %v", err)
	}
	if rec.ImagePath != "dataset/ford prefect_42.png" {
		t.Errorf("image path = %q", rec.ImagePath)
	}
	if got, _ := os.ReadFile(filepath.Join(e.root, "dataset", "ford prefect_42.png")); len(got) != len(data) {
		t.Error("image content not stored")
	}
	if e.reloader.calls.Load() != 1 {
		t.Errorf("reload calls = %d", e.reloader.calls.Load())
	}
}

func TestEnrollImage_Rejects(t *testing.T) {
	e := newEnv(t)
	png := testutil.PNG(t, 8, 8, color.RGBA{A: 255})
	cases := []struct {
		name, filename string
		data           []byte
	}{
		{"", "a.png", png},
		{"Ann", "a.gif", png},
		{"Ann", "a.jpg", []byte("not an image")},
		{"Ann\nMallory,2020-01-01 09:00:00", "a.png", png},
		{"Ann\tLee", "a.png", png},
	}
	for _, tc := range cases {
		_, err := e.mgr.EnrollImage(context.Background(), "1", tc.name, tc.filename, tc.data)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("EnrollImage(%q, %q) err = %v, want ErrValidation", tc.name, tc.filename, err)
		}
	}
	if _, err := os.Stat(e.reg.Path()); !os.IsNotExist(err) {
		t.Error("rejected upload touched the registry")
	}
}

func TestEnrollImage_DuplicateRejected(t *testing.T) {
	e := newEnv(t)
	e.mgr.deps.Registry = registry.NewCSV(e.reg.Path(), registry.PolicyReject)
	png := testutil.PNG(t, 8, 8, color.RGBA{A: 255})

	if _, err := e.mgr.EnrollImage(context.Background(), "1", "Ann", "a.png", png); err != nil {
		t.Fatal(err)
	}
	other := testutil.PNG(t, 8, 8, color.RGBA{R: 255, A: 255})
	if _, err := e.mgr.EnrollImage(context.Background(), "1", "Ann", "a.png", other); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}

	// The enrolled person's photo survives the rejected upload.
	data, err := os.ReadFile(filepath.Join(e.root, "dataset", "ann_1.png"))
	if err != nil {
		t.Fatalf("original image gone: %v", err)
	}
	if !bytes.Equal(data, png) {
		t.Error("original image was replaced by the rejected upload")
	}

	// A rejected upload under a new name leaves no stray image behind.
	if _, err := e.mgr.EnrollImage(context.Background(), "1", "Annie", "a.png", other); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
	if _, err := os.Stat(filepath.Join(e.root, "dataset", "annie_1.png")); !os.IsNotExist(err) {
		t.Errorf("stray image left behind: %v", err)
	}
}

func TestEnrollImage_OverwriteRemovesReplacedImage(t *testing.T) {
	e := newEnv(t)
	e.mgr.deps.Registry = registry.NewCSV(e.reg.Path(), registry.PolicyOverwrite)
	png := testutil.PNG(t, 8, 8, color.RGBA{A: 255})

	if _, err := e.mgr.EnrollImage(context.Background(), "1", "Ann", "a.png", png); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.EnrollImage(context.Background(), "2", "Bob", "b.png", png); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.EnrollImage(context.Background(), "1", "Anna", "a.jpg", testutil.JPEG(t, 8, 8, color.RGBA{A: 255})); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(e.root, "dataset", "ann_1.png")); !os.IsNotExist(err) {
		t.Errorf("replaced image still present: %v", err)
	}
	for _, name := range []string{"anna_1.jpg", "bob_2.png"} {
		if _, err := os.Stat(filepath.Join(e.root, "dataset", name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	recs, err := e.reg.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[1].ImagePath != "dataset/anna_1.jpg" {
		t.Errorf("registry = %+v", recs)
	}
}

func TestEnrollImage_AllowKeepsEarlierImages(t *testing.T) {
	e := newEnv(t)
	png := testutil.PNG(t, 8, 8, color.RGBA{A: 255})

	if _, err := e.mgr.EnrollImage(context.Background(), "1", "Ann", "a.png", png); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.EnrollImage(context.Background(), "1", "Anna", "a.png", png); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"ann_1.png", "anna_1.png"} {
		if _, err := os.Stat(filepath.Join(e.root, "dataset", name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
}
