package frame

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camlink-agent/internal/model"
)

var testJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9}

func writeFrame(t *testing.T, dir, name string, data []byte, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestDirSource_PicksNewestJPEG(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Minute).Truncate(time.Second)
	writeFrame(t, dir, "old.jpg", []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}, base)
	writeFrame(t, dir, "new.jpeg", testJPEG, base.Add(10*time.Second))
	writeFrame(t, dir, "newer.txt", []byte("not a frame"), base.Add(20*time.Second))

	s := NewDirSource(dir)
	f, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire err=%v", err)
	}
	if string(f.Data) != string(testJPEG) {
		t.Fatalf("got %x want newest jpeg", f.Data)
	}
	if f.Format != model.FormatJPEG {
		t.Fatalf("format=%q", f.Format)
	}
	if !f.CapturedAt.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("captured at %v", f.CapturedAt)
	}
	if s.Outstanding() != 1 {
		t.Fatalf("outstanding=%d want 1", s.Outstanding())
	}
	s.Release(f)
	if s.Outstanding() != 0 {
		t.Fatalf("outstanding=%d after release", s.Outstanding())
	}
}

func TestDirSource_EmptyDir(t *testing.T) {
	s := NewDirSource(t.TempDir())
	_, err := s.Acquire(context.Background())
	if !errors.Is(err, ErrNoFrame) {
		t.Fatalf("err=%v want ErrNoFrame", err)
	}
	if s.Outstanding() != 0 {
		t.Fatalf("outstanding=%d", s.Outstanding())
	}
}

func TestDirSource_UnknownFormat(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "broken.jpg", []byte("plain text body"), time.Now())
	s := NewDirSource(dir)
	f, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire err=%v", err)
	}
	defer s.Release(f)
	if f.Format != model.FormatUnknown {
		t.Fatalf("format=%q want unknown", f.Format)
	}
}

func TestSnapshotSource_Acquire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(testJPEG)
	}))
	defer srv.Close()

	s := NewSnapshotSource(srv.URL, time.Second)
	fixed := time.Unix(1700000000, 0)
	s.now = func() time.Time { return fixed }

	f, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire err=%v", err)
	}
	if f.Format != model.FormatJPEG || f.Len() != len(testJPEG) || !f.CapturedAt.Equal(fixed) {
		t.Fatalf("frame=%+v", f)
	}
	s.Release(f)
	if s.Outstanding() != 0 {
		t.Fatalf("outstanding=%d", s.Outstanding())
	}
}

func TestSnapshotSource_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSnapshotSource(srv.URL, time.Second)
	if _, err := s.Acquire(context.Background()); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("err=%v want ErrNoFrame", err)
	}
}
