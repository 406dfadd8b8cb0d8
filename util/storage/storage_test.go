package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalSaveAndDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store := NewLocal(dir, "static/uploads/")
	ctx := context.Background()

	ref, err := store.Save(ctx, "Pothole.JPG", strings.NewReader("jpeg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(ref, "/static/uploads/") || !strings.HasSuffix(ref, ".jpg") {
		t.Fatalf("Save ref = %q", ref)
	}

	onDisk := filepath.Join(dir, filepath.Base(ref))
	data, err := os.ReadFile(onDisk)
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("stored file = %q, %v", data, err)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(onDisk); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	// already gone
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, errors.New("connection reset")
	}
	r.sent = true
	return copy(p, "partial"), nil
}

func TestLocalSaveRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	store := NewLocal(dir, "/static/uploads")

	if _, err := store.Save(context.Background(), "road.jpg", &failingReader{}); err == nil {
		t.Fatal("Save succeeded with a failing reader")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("upload dir holds %d files after a failed save, want 0", len(entries))
	}
}

func TestLocalDeleteRejectsForeignRefs(t *testing.T) {
	store := NewLocal(t.TempDir(), "/static/uploads")
	for _, ref := range []string{"", "/etc/passwd", "/static/uploads/../secret", "https://example.com/a.jpg"} {
		if err := store.Delete(context.Background(), ref); err == nil {
			t.Errorf("Delete(%q) succeeded, want error", ref)
		}
	}
}

func TestPublicIDFromURL(t *testing.T) {
	testCases := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"versioned", "https://res.cloudinary.com/demo/image/upload/v1712345/potholes/abc.jpg", "potholes/abc", false},
		{"unversioned", "https://res.cloudinary.com/demo/image/upload/potholes/abc.png", "potholes/abc", false},
		{"folder named like a version", "https://res.cloudinary.com/demo/image/upload/v1/v2/abc.png", "v2/abc", false},
		{"not cloudinary", "/static/uploads/abc.jpg", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PublicIDFromURL(tc.ref)
			if (err != nil) != tc.wantErr {
				t.Fatalf("PublicIDFromURL(%q) err = %v", tc.ref, err)
			}
			if got != tc.want {
				t.Errorf("PublicIDFromURL(%q) = %q; want %q", tc.ref, got, tc.want)
			}
		})
	}
}
