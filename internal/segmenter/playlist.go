package segmenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MediaPlaylist is the subset of an HLS media playlist the pipeline reads.
type MediaPlaylist struct {
	TargetDuration int
	PlaylistType   string
	Ended          bool
	Segments       []PlaylistSegment
}

// PlaylistSegment is one #EXTINF entry.
type PlaylistSegment struct {
	Duration float64
	URI      string
}

// ReadMediaPlaylist parses the manifest at path.
func ReadMediaPlaylist(path string) (*MediaPlaylist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMediaPlaylist(f)
}

// ParseMediaPlaylist parses an HLS media playlist.
func ParseMediaPlaylist(r io.Reader) (*MediaPlaylist, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "#EXTM3U" {
		return nil, fmt.Errorf("playlist missing #EXTM3U header")
	}

	pl := &MediaPlaylist{}
	pending := -1.0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("bad target duration %q: %w", line, err)
			}
			pl.TargetDuration = v
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			pl.PlaylistType = strings.TrimPrefix(line, "#EXT-X-PLAYLIST-TYPE:")
		case line == "#EXT-X-ENDLIST":
			pl.Ended = true
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(value, ','); i >= 0 {
				value = value[:i]
			}
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("bad segment duration %q: %w", line, err)
			}
			pending = d
		case strings.HasPrefix(line, "#"):
			// other tags are not needed
		default:
			if pending < 0 {
				return nil, fmt.Errorf("segment %q has no #EXTINF", line)
			}
			pl.Segments = append(pl.Segments, PlaylistSegment{Duration: pending, URI: line})
			pending = -1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return pl, nil
}

// IsVOD reports whether the playlist is a finished on-demand sequence.
func (p *MediaPlaylist) IsVOD() bool {
	return strings.EqualFold(p.PlaylistType, "VOD") && p.Ended
}
