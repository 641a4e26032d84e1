package subtitle

import (
	"math"
	"strings"
	"testing"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{59.999, "00:00:59,999"},
		{61.25, "00:01:01,250"},
		{3661.001, "01:01:01,001"},
		{-5, "00:00:00,000"},
	}

	for _, tt := range tests {
		if got := FormatTimestamp(tt.seconds); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("01:02:03,450")
	if err != nil {
		t.Fatalf("ParseTimestamp failed: %v", err)
	}
	want := 3723.45
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("ParseTimestamp = %v, want %v", got, want)
	}

	if _, err := ParseTimestamp("garbage"); err == nil {
		t.Error("expected error for invalid timestamp")
	}
}

func TestRender(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 2.5, Text: "Hello world"},
		{Start: 3, End: 5, Text: "Second line"},
	}

	got := Render(segments)
	want := "1\n00:00:00,000 --> 00:00:02,500\nHello world\n" +
		"\n" +
		"2\n00:00:03,000 --> 00:00:05,000\nSecond line\n"
	if got != want {
		t.Errorf("Render mismatch:\ngot:\n%q\nwant:\n%q", got, want)
	}

	if !strings.HasSuffix(got, "\n") {
		t.Error("rendered SRT must end with a newline")
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := Render(nil); got != "" {
		t.Errorf("Render(nil) = %q, want empty", got)
	}
}

func TestRoundTrip(t *testing.T) {
	// Millisecond-exact values so Render/Parse is lossless
	original := []Segment{
		{Start: 0.5, End: 2.25, Text: "First"},
		{Start: 3.001, End: 4.999, Text: "Second"},
		{Start: 10, End: 12.5, Text: "Multi\nline text"},
	}

	parsed, err := Parse(Render(original))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(parsed) != len(original) {
		t.Fatalf("got %d segments, want %d", len(parsed), len(original))
	}
	for i := range original {
		if math.Abs(parsed[i].Start-original[i].Start) > 1e-9 ||
			math.Abs(parsed[i].End-original[i].End) > 1e-9 {
			t.Errorf("segment %d times = (%v, %v), want (%v, %v)",
				i, parsed[i].Start, parsed[i].End, original[i].Start, original[i].End)
		}
		if parsed[i].Text != original[i].Text {
			t.Errorf("segment %d text = %q, want %q", i, parsed[i].Text, original[i].Text)
		}
	}
}

func TestParseSkipsMalformedBlocks(t *testing.T) {
	content := "1\n00:00:00,000 --> 00:00:01,000\nGood\n\nnot a record\n\n2\n00:00:02,000 --> 00:00:03,000\nAlso good\n"
	parsed, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("got %d segments, want 2", len(parsed))
	}
	if parsed[0].Text != "Good" || parsed[1].Text != "Also good" {
		t.Errorf("unexpected texts: %q, %q", parsed[0].Text, parsed[1].Text)
	}
}
