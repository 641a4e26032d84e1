package engine

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestKeyString(t *testing.T) {
	k := Key{Model: "large-v3-turbo", Precision: "int8"}
	if got := k.String(); got != "large-v3-turbo/int8" {
		t.Errorf("Key.String = %q", got)
	}
}

func TestModelCandidatesPreferPrecision(t *testing.T) {
	int8First := modelCandidates("turbo", "encoder", "int8")
	if int8First[0] != "turbo-encoder.int8.onnx" {
		t.Errorf("int8 precision should try int8 files first, got %q", int8First[0])
	}

	floatFirst := modelCandidates("turbo", "encoder", "float16")
	if floatFirst[0] != "turbo-encoder.onnx" {
		t.Errorf("float precision should try plain files first, got %q", floatFirst[0])
	}
}

func TestFindModelFile(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, "encoder.onnx")
	if err := os.WriteFile(want, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got := findModelFile(dir, []string{"encoder.int8.onnx", "encoder.onnx"})
	if got != want {
		t.Errorf("findModelFile = %q, want %q", got, want)
	}

	if got := findModelFile(dir, []string{"missing.onnx"}); got != "" {
		t.Errorf("findModelFile for missing candidates = %q, want empty", got)
	}
}

func TestBuildSegmentsWithoutTimestamps(t *testing.T) {
	segments := buildSegments("hello world", nil, nil, 12.5)
	if len(segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(segments))
	}
	if segments[0].Start != 0 || segments[0].End != 12.5 {
		t.Errorf("span = (%v, %v), want (0, 12.5)", segments[0].Start, segments[0].End)
	}
	if segments[0].Text != "hello world" {
		t.Errorf("text = %q", segments[0].Text)
	}
}

func TestBuildSegmentsSplitsOnGap(t *testing.T) {
	tokens := []string{"one", " two", "three", " four"}
	timestamps := []float32{0, 0.3, 2.0, 2.2} // 1.7s gap after " two"

	segments := buildSegments("one two three four", tokens, timestamps, 3.0)
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	if segments[0].Text != "one two" {
		t.Errorf("first text = %q", segments[0].Text)
	}
	if segments[1].Text != "three four" {
		t.Errorf("second text = %q", segments[1].Text)
	}
	if math.Abs(segments[1].Start-2.0) > 1e-6 {
		t.Errorf("second start = %v, want 2.0", segments[1].Start)
	}
	if segments[len(segments)-1].End != 3.0 {
		t.Errorf("last end = %v, want 3.0", segments[len(segments)-1].End)
	}
}

func TestNewWhisperMissingModel(t *testing.T) {
	_, err := NewWhisper(WhisperConfig{
		ModelDir: t.TempDir(),
		Key:      Key{Model: "large-v3-turbo", Precision: "int8"},
	})
	if err == nil {
		t.Fatal("expected error for empty model dir")
	}
}
