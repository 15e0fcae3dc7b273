package hls

import (
	"strconv"
	"strings"
)

// Segment is one media chunk entry of a parsed playlist. Num is the HLS
// media sequence number of the entry.
type Segment struct {
	Num             int
	Uri             string
	DurationSeconds float64
}

// Playlist is the parsed form of an HLS playlist. IsMaster marks a
// multi-bitrate playlist, which carries no media segments.
type Playlist struct {
	IsMaster  bool
	IsEndlist bool
	MapUri    string
	Segments  []Segment
}

// Parse reads an HLS playlist text. Segment numbers start at the declared
// media sequence (0 when absent) and increase by one per entry.
func Parse(text string) *Playlist {
	pl := &Playlist{}
	mediaSeq := 0
	duration := 0.0
	pending := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			pl.IsMaster = true
		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			pl.IsEndlist = true
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")); err == nil {
				mediaSeq = n
			}
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			pl.MapUri = attrValue(strings.TrimPrefix(line, "#EXT-X-MAP:"), "URI")
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(value, ","); idx >= 0 {
				value = value[:idx]
			}
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				duration = d
			}
			pending = true
		case strings.HasPrefix(line, "#"):
			// other tags are irrelevant here
		default:
			if !pending {
				// variant URIs of a master playlist, or stray lines
				continue
			}
			pl.Segments = append(pl.Segments, Segment{
				Num:             mediaSeq + len(pl.Segments),
				Uri:             line,
				DurationSeconds: duration,
			})
			duration = 0
			pending = false
		}
	}
	return pl
}

func attrValue(attrs, name string) string {
	for _, part := range strings.Split(attrs, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) != name {
			continue
		}
		return strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	return ""
}
