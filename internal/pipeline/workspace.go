package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/movie-catalog/pkg/models"
)

// Workspace is a temporary directory owned by exactly one upload. Nothing
// outside that upload reads or writes it.
type Workspace struct {
	dir string
	log *slog.Logger
}

// NewWorkspace creates a fresh directory under root (the system temp dir when
// root is empty).
func NewWorkspace(root string, log *slog.Logger) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create temp root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{dir: dir, log: log}, nil
}

// Dir is the workspace root.
func (w *Workspace) Dir() string { return w.dir }

// OutputDir is where segmenter output is written.
func (w *Workspace) OutputDir() string { return filepath.Join(w.dir, "hls") }

// Persist writes body to a file named after the uploaded filename and
// returns its path. An empty body is ErrEmptyUpload.
func (w *Workspace) Persist(ctx context.Context, filename string, body io.Reader) (string, error) {
	ctx, span := tracer.Start(ctx, "persist-source")
	defer span.End()

	srcDir := filepath.Join(w.dir, "src")
	if err := os.MkdirAll(srcDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create source dir: %w", err)
	}
	path := filepath.Join(srcDir, BaseName(filename, "source")+safeExt(filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create source file: %w", err)
	}

	written, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write source file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close source file: %w", err)
	}
	if written == 0 {
		return "", models.ErrEmptyUpload
	}

	span.SetAttributes(attribute.Int64("upload.size_bytes", written))
	w.log.DebugContext(ctx, "Persisted upload",
		"filename", filename,
		"sizeBytes", written,
	)
	return path, nil
}

// Release removes the workspace and everything in it.
func (w *Workspace) Release() {
	if err := os.RemoveAll(w.dir); err != nil {
		w.log.Warn("Failed to remove workspace", "path", w.dir, "error", err)
	}
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// BaseName derives a storage-safe base name from an uploaded filename. The
// result is never empty; fallback is used when nothing usable remains.
func BaseName(filename, fallback string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = unsafeChars.ReplaceAllString(strings.ToLower(name), "-")
	name = strings.Trim(name, "-_")
	if len(name) > 64 {
		name = strings.Trim(name[:64], "-_")
	}
	if name == "" || name == "." {
		return fallback
	}
	return name
}

// safeExt returns the lowercased extension of filename when it is short and
// alphanumeric.
func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
