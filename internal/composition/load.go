package composition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"timeline-inspector/internal/timerange"
)

var (
	// ErrInvalidDuration is returned for a missing, negative or unbounded composition duration.
	ErrInvalidDuration = errors.New("composition duration must be finite and non-negative")

	// ErrUnknownMediaType is returned for a track that is neither video nor audio.
	ErrUnknownMediaType = errors.New("unknown media type")
)

// fileTime is a rational timestamp as written in composition files.
type fileTime struct {
	Value    int64 `json:"value" yaml:"value"`
	Scale    int64 `json:"scale" yaml:"scale"`
	Infinite bool  `json:"infinite,omitempty" yaml:"infinite,omitempty"`
}

func (t fileTime) time() timerange.Time {
	if t.Infinite {
		return timerange.Infinity
	}
	return timerange.New(t.Value, t.Scale)
}

type fileRange struct {
	Start    fileTime `json:"start" yaml:"start"`
	Duration fileTime `json:"duration" yaml:"duration"`
}

func (r fileRange) timeRange() timerange.Range {
	return timerange.NewRange(r.Start.time(), r.Duration.time())
}

type fileSegment struct {
	Source      string    `json:"source" yaml:"source"`
	SourceRange fileRange `json:"source_range" yaml:"source_range"`
	TargetRange fileRange `json:"target_range" yaml:"target_range"`
}

type fileRamp struct {
	StartVolume float64   `json:"start_volume" yaml:"start_volume"`
	EndVolume   float64   `json:"end_volume" yaml:"end_volume"`
	Range       fileRange `json:"range" yaml:"range"`
}

type fileTrack struct {
	ID          int32         `json:"id" yaml:"id"`
	MediaType   string        `json:"media_type" yaml:"media_type"`
	Segments    []fileSegment `json:"segments" yaml:"segments"`
	VolumeRamps []fileRamp    `json:"volume_ramps" yaml:"volume_ramps"`
}

type fileInstruction struct {
	Label string    `json:"label" yaml:"label"`
	Range fileRange `json:"range" yaml:"range"`
}

type fileComposition struct {
	Duration     fileTime          `json:"duration" yaml:"duration"`
	NaturalSize  Size              `json:"natural_size" yaml:"natural_size"`
	RenderSize   Size              `json:"render_size" yaml:"render_size"`
	VideoEffect  string            `json:"video_effect" yaml:"video_effect"`
	Instructions []fileInstruction `json:"instructions" yaml:"instructions"`
	Tracks       []fileTrack       `json:"tracks" yaml:"tracks"`
}

// LoadFile reads a composition description from path. Files ending in
// .yaml or .yml are parsed as YAML, everything else as JSON. Relative
// segment sources resolve against the file's directory.
func LoadFile(path string) (*Composition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read composition: %w", err)
	}

	var fc fileComposition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse composition %s: %w", path, err)
	}
	return fc.build(filepath.Dir(path))
}

func (fc fileComposition) build(baseDir string) (*Composition, error) {
	duration := fc.Duration.time()
	if duration.IsInfinite() || duration.Before(timerange.Zero) {
		return nil, ErrInvalidDuration
	}

	c := &Composition{
		Duration:    duration,
		NaturalSize: fc.NaturalSize,
		RenderSize:  fc.RenderSize,
		VideoEffect: fc.VideoEffect,
		Tracks:      make([]Track, 0, len(fc.Tracks)),
	}
	for _, fi := range fc.Instructions {
		c.Instructions = append(c.Instructions, Instruction{Label: fi.Label, Range: fi.Range.timeRange()})
	}

	for _, ft := range fc.Tracks {
		mt := MediaType(strings.ToLower(ft.MediaType))
		if mt != MediaVideo && mt != MediaAudio {
			return nil, fmt.Errorf("track %d: %w %q", ft.ID, ErrUnknownMediaType, ft.MediaType)
		}
		track := Track{ID: TrackID(ft.ID), MediaType: mt}
		for _, fs := range ft.Segments {
			src := fs.Source
			if src != "" && !filepath.IsAbs(src) && !strings.Contains(src, "://") {
				src = filepath.Join(baseDir, src)
			}
			track.Segments = append(track.Segments, Segment{
				Source: src,
				Mapping: TimeMapping{
					Source: fs.SourceRange.timeRange(),
					Target: fs.TargetRange.timeRange(),
				},
			})
		}
		if mt == MediaAudio {
			for _, fr := range ft.VolumeRamps {
				track.Volume = append(track.Volume, VolumeRamp{
					StartVolume: fr.StartVolume,
					EndVolume:   fr.EndVolume,
					Range:       fr.Range.timeRange(),
				})
			}
		}
		c.Tracks = append(c.Tracks, track)
	}
	return c, nil
}
