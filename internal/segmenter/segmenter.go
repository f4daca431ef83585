package segmenter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/movie-catalog/internal/metrics"
	"github.com/amillerrr/movie-catalog/pkg/models"
)

var tracer = otel.Tracer("catalog-segmenter")

// stderrTail bounds how much engine output is kept for the failure log.
const stderrTail = 20

// SegmentSet is the manifest plus its ordered segments.
type SegmentSet struct {
	ManifestPath string
	SegmentPaths []string
}

// Files returns the manifest followed by the segments.
func (s *SegmentSet) Files() []string {
	files := make([]string, 0, len(s.SegmentPaths)+1)
	files = append(files, s.ManifestPath)
	return append(files, s.SegmentPaths...)
}

// Config holds configuration for the engine invocation.
type Config struct {
	// EnginePath is the ffmpeg binary name or path.
	EnginePath string
	Policy     EncodingPolicy
	Logger     *slog.Logger
}

// FFmpeg segments sources with an external ffmpeg binary.
type FFmpeg struct {
	config Config
}

// New creates an FFmpeg segmenter.
func New(cfg Config) *FFmpeg {
	if cfg.EnginePath == "" {
		cfg.EnginePath = "ffmpeg"
	}
	if cfg.Policy == (EncodingPolicy{}) {
		cfg.Policy = DefaultPolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FFmpeg{config: cfg}
}

// EnginePath resolves the engine binary, or fails with ErrEngineNotAvailable.
func (f *FFmpeg) EnginePath() (string, error) {
	path, err := exec.LookPath(f.config.EnginePath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrEngineNotAvailable, f.config.EnginePath, err)
	}
	return path, nil
}

// Segment converts sourcePath into an HLS VOD set in outputDir named after
// baseName. The source is never removed. On failure nothing in outputDir is
// usable.
func (f *FFmpeg) Segment(ctx context.Context, sourcePath, outputDir, baseName string, segmentSeconds int) (*SegmentSet, error) {
	ctx, span := tracer.Start(ctx, "segment")
	defer span.End()

	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	span.SetAttributes(
		attribute.String("segment.base", baseName),
		attribute.Int("segment.seconds", segmentSeconds),
	)

	// Engine presence is checked before anything else is touched
	enginePath, err := f.EnginePath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("%w: source: %v", models.ErrTranscodeFailed, err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", models.ErrTranscodeFailed, err)
	}

	start := time.Now()

	args := f.config.Policy.Args(sourcePath, outputDir, baseName, segmentSeconds)
	if err := f.run(ctx, enginePath, args); err != nil {
		return nil, err
	}

	set, err := collect(outputDir, baseName)
	if err != nil {
		return nil, err
	}

	metrics.TranscodeDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("segment.count", len(set.SegmentPaths)))

	f.config.Logger.InfoContext(ctx, "Segmenting complete",
		"baseName", baseName,
		"segments", len(set.SegmentPaths),
		"duration", time.Since(start).String(),
	)

	return set, nil
}

// run executes the engine, logging its stderr as it streams.
func (f *FFmpeg) run(ctx context.Context, enginePath string, args []string) error {
	ctx, span := tracer.Start(ctx, "ffmpeg-execute")
	defer span.End()

	cmd := exec.CommandContext(ctx, enginePath, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", models.ErrTranscodeFailed, err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", models.ErrTranscodeFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", models.ErrTranscodeFailed, err)
	}

	var (
		wg   sync.WaitGroup
		tail []string
	)
	wg.Add(2)

	// Monitor stderr for progress and errors
	go func() {
		defer wg.Done()
		tail = f.monitorOutput(ctx, stderrPipe)
	}()

	// Drain stdout
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		f.config.Logger.ErrorContext(ctx, "FFmpeg failed",
			"error", cmdErr,
			"stderr", strings.Join(tail, "\n"),
		)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: context canceled", models.ErrTranscodeFailed)
		}
		return fmt.Errorf("%w: %v", models.ErrTranscodeFailed, cmdErr)
	}

	return nil
}

// monitorOutput logs engine output and returns the last lines seen.
func (f *FFmpeg) monitorOutput(ctx context.Context, r io.Reader) []string {
	var tail []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(tail) == stderrTail {
			tail = tail[1:]
		}
		tail = append(tail, line)

		if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
			f.config.Logger.DebugContext(ctx, "FFmpeg progress", "output", line)
		} else if strings.Contains(line, "error") || strings.Contains(line, "Error") {
			f.config.Logger.WarnContext(ctx, "FFmpeg warning", "output", line)
		}
	}
	if err := scanner.Err(); err != nil {
		f.config.Logger.WarnContext(ctx, "FFmpeg output scanner error", "error", err)
	}
	return tail
}

// collect finds the manifest and segments written for baseName and checks
// they are present, non-empty, and agree with each other.
func collect(outputDir, baseName string) (*SegmentSet, error) {
	manifest := filepath.Join(outputDir, ManifestName(baseName))
	if err := nonEmpty(manifest); err != nil {
		return nil, err
	}

	segments, err := filepath.Glob(filepath.Join(outputDir, globEscape(baseName)+"_*"+SegmentExt))
	if err != nil {
		return nil, fmt.Errorf("%w: list segments: %v", models.ErrTranscodeFailed, err)
	}
	// Zero padding makes lexical order equal to index order
	sort.Strings(segments)

	present := make(map[string]bool, len(segments))
	for _, seg := range segments {
		if err := nonEmpty(seg); err != nil {
			return nil, err
		}
		present[filepath.Base(seg)] = true
	}

	pl, err := ReadMediaPlaylist(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", models.ErrTranscodeFailed, err)
	}
	for _, s := range pl.Segments {
		if !present[filepath.Base(s.URI)] {
			return nil, fmt.Errorf("%w: manifest references missing segment %s", models.ErrTranscodeFailed, s.URI)
		}
	}

	return &SegmentSet{ManifestPath: manifest, SegmentPaths: segments}, nil
}

func nonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: missing output %s: %v", models.ErrTranscodeFailed, filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: empty output %s", models.ErrTranscodeFailed, filepath.Base(path))
	}
	return nil
}

// globEscape quotes glob metacharacters in a literal name.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
