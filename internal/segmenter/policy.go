package segmenter

import (
	"path/filepath"
	"strconv"
)

// File extensions of a segment set.
const (
	ManifestExt = ".m3u8"
	SegmentExt  = ".ts"
)

// DefaultSegmentSeconds is the segment duration used when none is given.
const DefaultSegmentSeconds = 6

// EncodingPolicy is the single-rendition VOD encoding applied to every upload.
type EncodingPolicy struct {
	VideoCodec    string
	AudioCodec    string
	AudioChannels int
	Preset        string
	PlaylistType  string
}

// DefaultPolicy is h264/aac with a stereo downmix and a finished playlist.
var DefaultPolicy = EncodingPolicy{
	VideoCodec:    "h264",
	AudioCodec:    "aac",
	AudioChannels: 2,
	Preset:        "veryfast",
	PlaylistType:  "vod",
}

// ManifestName returns the manifest filename for a base name.
func ManifestName(baseName string) string {
	return baseName + ManifestExt
}

// SegmentPattern returns the engine's segment filename template for a base name.
func SegmentPattern(baseName string) string {
	return baseName + "_%03d" + SegmentExt
}

// Args constructs the engine arguments for one source and output directory.
func (p EncodingPolicy) Args(sourcePath, outputDir, baseName string, segmentSeconds int) []string {
	return []string{
		"-y",
		"-i", sourcePath,
		"-c:v", p.VideoCodec,
		"-c:a", p.AudioCodec,
		"-ac", strconv.Itoa(p.AudioChannels),
		"-preset", p.Preset,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", p.PlaylistType,
		"-hls_segment_filename", filepath.Join(outputDir, SegmentPattern(baseName)),
		filepath.Join(outputDir, ManifestName(baseName)),
	}
}
