// Package zhconv converts Simplified Chinese transcription output to
// Traditional Chinese. Conversion is best effort: any failure leaves the
// original text in place.
package zhconv

import (
	"fmt"
	"strings"

	"github.com/liuzl/gocc"

	"github.com/hungshinlee/whisper-for-subs/internal/subtitle"
)

// Converter wraps an OpenCC s2tw conversion table.
type Converter struct {
	cc *gocc.OpenCC
}

// New loads the Simplified-to-Taiwan-Traditional conversion dictionaries.
func New() (*Converter, error) {
	cc, err := gocc.New("s2tw")
	if err != nil {
		return nil, fmt.Errorf("failed to load s2tw dictionaries: %w", err)
	}
	return &Converter{cc: cc}, nil
}

// Convert converts one line of text.
func (c *Converter) Convert(text string) (string, error) {
	return c.cc.Convert(text)
}

// ConvertSegments converts segment texts in place on a copy of the input.
// A line that fails to convert keeps its original text; the number of such
// failures is returned as a warning count.
func (c *Converter) ConvertSegments(segments []subtitle.Segment) ([]subtitle.Segment, int) {
	out := make([]subtitle.Segment, len(segments))
	copy(out, segments)

	warnings := 0
	for i := range out {
		converted, err := c.cc.Convert(out[i].Text)
		if err != nil {
			warnings++
			continue
		}
		out[i].Text = converted
	}
	return out, warnings
}

// IsChinese reports whether a language code selects Chinese output.
func IsChinese(code string) bool {
	code = strings.ToLower(code)
	return code == "zh" || strings.HasPrefix(code, "zh-") || strings.HasPrefix(code, "zh_")
}
