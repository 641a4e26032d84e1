package subtitle

import "strings"

// MergeOptions controls how adjacent segments are combined into longer
// subtitle lines.
type MergeOptions struct {
	MaxChars    int     // maximum combined text length
	MaxGap      float64 // maximum silence between segments in seconds
	MaxDuration float64 // maximum combined segment duration in seconds
}

// DefaultMergeOptions returns merge parameters tuned for readable subtitles.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		MaxChars:    80,
		MaxGap:      1.0,
		MaxDuration: 10.0,
	}
}

// Merge combines consecutive segments when the combined text stays under
// MaxChars, the gap between them is shorter than MaxGap, and the combined
// span does not exceed MaxDuration. Ordering is preserved.
func Merge(segments []Segment, opts MergeOptions) []Segment {
	if len(segments) == 0 {
		return nil
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMergeOptions().MaxChars
	}
	if opts.MaxGap <= 0 {
		opts.MaxGap = DefaultMergeOptions().MaxGap
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMergeOptions().MaxDuration
	}

	merged := make([]Segment, 0, len(segments))
	current := Segment{
		Start: segments[0].Start,
		End:   segments[0].End,
		Text:  strings.TrimSpace(segments[0].Text),
	}

	for _, seg := range segments[1:] {
		text := strings.TrimSpace(seg.Text)
		gap := seg.Start - current.End
		combined := current.Text
		if combined != "" && text != "" {
			combined += " "
		}
		combined += text

		if len([]rune(combined)) <= opts.MaxChars &&
			gap < opts.MaxGap &&
			seg.End-current.Start <= opts.MaxDuration {
			current.Text = combined
			current.End = seg.End
			continue
		}

		merged = append(merged, current)
		current = Segment{Start: seg.Start, End: seg.End, Text: text}
	}

	return append(merged, current)
}
