package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amillerrr/movie-catalog/pkg/models"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"trailer.mp4", "trailer"},
		{"My Movie (2024).MOV", "my-movie-2024"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\clip.avi`, "clip"},
		{".mp4", "video"},
		{"", "video"},
		{"___.mkv", "video"},
		{"årsgång.mp4", "rsg-ng"},
		{strings.Repeat("a", 100) + ".mp4", strings.Repeat("a", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := BaseName(tt.filename, "video"); got != tt.want {
				t.Errorf("BaseName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestSafeExt(t *testing.T) {
	tests := map[string]string{
		"a.MP4":         ".mp4",
		"a.tar.gz":      ".gz",
		"noext":         "",
		"a.":            "",
		"a.ex e":        "",
		"a.verylongext": "",
	}
	for in, want := range tests {
		if got := safeExt(in); got != want {
			t.Errorf("safeExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWorkspace_PersistAndRelease(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	ws, err := NewWorkspace(root, quietLogger())
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}
	if !strings.HasPrefix(ws.Dir(), root) {
		t.Errorf("Dir() = %q, want under %q", ws.Dir(), root)
	}

	p, err := ws.Persist(context.Background(), "Clip.MKV", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if filepath.Dir(p) != filepath.Join(ws.Dir(), "src") || filepath.Base(p) != "clip.mkv" {
		t.Errorf("Persist() path = %q", p)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}

	// Persisting twice into one workspace is refused
	if _, err := ws.Persist(context.Background(), "Clip.MKV", strings.NewReader("again")); err == nil {
		t.Error("second Persist() should fail")
	}

	ws.Release()
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Errorf("workspace still exists after Release(): %v", err)
	}
}

func TestWorkspace_PersistName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"My Movie (2024).MP4", "my-movie-2024.mp4"},
		{"../../etc/passwd", "passwd"},
		{"hls", "hls"},
		{"", "source"},
		{".mov", "source.mov"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			ws, err := NewWorkspace(t.TempDir(), quietLogger())
			if err != nil {
				t.Fatalf("NewWorkspace() error = %v", err)
			}
			defer ws.Release()

			p, err := ws.Persist(context.Background(), tt.filename, strings.NewReader("payload"))
			if err != nil {
				t.Fatalf("Persist() error = %v", err)
			}
			if filepath.Base(p) != tt.want {
				t.Errorf("Persist(%q) name = %q, want %q", tt.filename, filepath.Base(p), tt.want)
			}
			if !strings.HasPrefix(p, ws.Dir()+string(filepath.Separator)) {
				t.Errorf("Persist(%q) = %q, outside workspace", tt.filename, p)
			}
			if err := os.MkdirAll(ws.OutputDir(), 0755); err != nil {
				t.Errorf("output dir blocked by source file: %v", err)
			}
		})
	}
}

func TestWorkspace_EmptyUpload(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatalf("NewWorkspace() error = %v", err)
	}
	defer ws.Release()

	if _, err := ws.Persist(context.Background(), "a.mp4", strings.NewReader("")); !errors.Is(err, models.ErrEmptyUpload) {
		t.Errorf("Persist() error = %v, want ErrEmptyUpload", err)
	}
}

func TestWorkspace_DistinctDirs(t *testing.T) {
	root := t.TempDir()
	a, _ := NewWorkspace(root, quietLogger())
	b, _ := NewWorkspace(root, quietLogger())
	defer a.Release()
	defer b.Release()
	if a.Dir() == b.Dir() {
		t.Errorf("workspaces share a directory: %s", a.Dir())
	}
}
