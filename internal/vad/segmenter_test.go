package vad

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
)

func TestNewMissingModel(t *testing.T) {
	_, err := New(DefaultConfig("/nonexistent/silero_vad.onnx"))
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if !errors.Is(err, ErrInit) {
		t.Errorf("expected ErrInit, got %v", err)
	}
}

func TestRegionDuration(t *testing.T) {
	r := Region{Start: 1.5, End: 4.0}
	if r.Duration() != 2.5 {
		t.Errorf("Duration = %v, want 2.5", r.Duration())
	}
}

// TestDetectSpeech runs the real model when VAD_MODEL points at
// silero_vad.onnx. Synthetic tone between silences should come back as
// ordered, non-overlapping regions.
func TestDetectSpeech(t *testing.T) {
	modelPath := os.Getenv("VAD_MODEL")
	if modelPath == "" {
		t.Skip("VAD_MODEL not set")
	}
	if _, err := os.Stat(modelPath); err != nil {
		t.Skipf("VAD model not found: %s", modelPath)
	}

	seg, err := New(DefaultConfig(modelPath))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// 2s silence, 3s tone, 2s silence
	samples := make([]float32, audio.SampleRate*7)
	for i := audio.SampleRate * 2; i < audio.SampleRate*5; i++ {
		samples[i] = float32(math.Sin(2*math.Pi*200*float64(i)/audio.SampleRate)) * 0.8
	}

	regions, err := seg.Detect(samples)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	var prev float64
	for i, r := range regions {
		if r.End <= r.Start {
			t.Errorf("region %d has non-positive duration: %+v", i, r)
		}
		if r.Start < prev {
			t.Errorf("region %d overlaps previous: %+v", i, r)
		}
		prev = r.End
	}
}
