// Package partition turns detected speech regions into bounded work units
// suitable for independent transcription.
package partition

import (
	"math"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
	"github.com/hungshinlee/whisper-for-subs/internal/vad"
)

// Bounds limits the duration of a work unit in seconds.
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds returns the unit size window used for whisper inference.
func DefaultBounds() Bounds {
	return Bounds{Min: 15, Max: 45}
}

// minRegionDuration drops spurious blips below this many seconds before
// unit assembly.
const minRegionDuration = 0.5

// maxMergeGap is the longest silence a unit may absorb between two
// neighbouring speech regions, in seconds.
const maxMergeGap = 1.0

// Unit is an independently transcribable span of the session audio.
// Samples is a view into the session buffer covering [Start, End).
type Unit struct {
	ID      int
	Start   float64
	End     float64
	Samples []float32
}

// Duration returns the unit length in seconds.
func (u Unit) Duration() float64 {
	return u.End - u.Start
}

// Split assembles speech regions into work units within bounds. Regions
// shorter than half a second are dropped; consecutive regions separated by
// under a second of silence are concatenated while the combined span stays
// within Max; a single region longer than Max is divided into equal chunks.
// The result is deterministic for identical inputs and units are numbered
// in ascending time order.
func Split(buf *audio.Buffer, regions []vad.Region, bounds Bounds) []Unit {
	if bounds.Max <= 0 {
		bounds = DefaultBounds()
	}

	var spans []vad.Region
	for _, r := range regions {
		if r.Duration() < minRegionDuration {
			continue
		}
		if n := len(spans); n > 0 {
			prev := &spans[n-1]
			gap := r.Start - prev.End
			if gap < maxMergeGap && r.End-prev.Start <= bounds.Max {
				prev.End = r.End
				continue
			}
		}
		spans = append(spans, r)
	}

	var units []Unit
	for _, span := range spans {
		for _, piece := range splitOversize(span, bounds.Max) {
			units = append(units, Unit{
				ID:      len(units),
				Start:   piece.Start,
				End:     piece.End,
				Samples: buf.Slice(piece.Start, piece.End),
			})
		}
	}
	return units
}

// splitOversize divides a region longer than max into equal chunks. Merged
// spans never exceed max, so only a single long VAD region lands here.
func splitOversize(r vad.Region, max float64) []vad.Region {
	dur := r.Duration()
	if dur <= max {
		return []vad.Region{r}
	}

	n := int(math.Ceil(dur / max))
	chunk := dur / float64(n)
	pieces := make([]vad.Region, 0, n)
	for i := 0; i < n; i++ {
		start := r.Start + float64(i)*chunk
		end := start + chunk
		if i == n-1 {
			end = r.End
		}
		pieces = append(pieces, vad.Region{Start: start, End: end})
	}
	return pieces
}
