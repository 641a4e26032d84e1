package audio

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestBufferDuration(t *testing.T) {
	b := &Buffer{Samples: make([]float32, SampleRate*3)}
	if got := b.Duration(); got != 3.0 {
		t.Errorf("Duration = %v, want 3.0", got)
	}
}

func TestBufferSlice(t *testing.T) {
	b := &Buffer{Samples: make([]float32, SampleRate*10)}

	tests := []struct {
		name       string
		start, end float64
		wantLen    int
	}{
		{"middle", 1, 3, SampleRate * 2},
		{"clamped end", 9, 15, SampleRate},
		{"clamped start", -1, 1, SampleRate},
		{"empty range", 5, 5, 0},
		{"inverted", 6, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(b.Slice(tt.start, tt.end)); got != tt.wantLen {
				t.Errorf("Slice(%v, %v) length = %d, want %d", tt.start, tt.end, got, tt.wantLen)
			}
		})
	}
}

func TestIsSupportedFormat(t *testing.T) {
	if !IsSupportedFormat("talk.mp3") || !IsSupportedFormat("TALK.WAV") {
		t.Error("expected mp3/wav to be supported")
	}
	if IsSupportedFormat("notes.txt") {
		t.Error("expected txt to be unsupported")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]float32, SampleRate/10)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / SampleRate))
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := WriteWAV(path, samples); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		// 16-bit quantization tolerance
		if math.Abs(float64(got[i]-samples[i])) > 1.0/32000 {
			t.Fatalf("sample %d = %v, want %v", i, got[i], samples[i])
		}
	}
}

func TestBytesToFloat32(t *testing.T) {
	// int16 max, min, zero in little-endian
	data := []byte{0xFF, 0x7F, 0x00, 0x80, 0x00, 0x00}
	samples := bytesToFloat32(data)
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	if samples[0] < 0.99 || samples[1] > -0.99 || samples[2] != 0 {
		t.Errorf("unexpected samples: %v", samples)
	}
}

func TestLoadNativeWAVPassthrough(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	samples := make([]float32, SampleRate)
	for i := range samples {
		samples[i] = float32(math.Sin(2*math.Pi*220*float64(i)/SampleRate)) * 0.5
	}
	path := filepath.Join(t.TempDir(), "native.wav")
	if err := WriteWAV(path, samples); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	buf, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(buf.Samples) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(buf.Samples), len(samples))
	}
	for i := range samples {
		if math.Abs(float64(buf.Samples[i]-samples[i])) > 1.0/16000 {
			t.Fatalf("sample %d drifted: got %v, want %v", i, buf.Samples[i], samples[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("expected DecodeError, got %T", err)
	}
}
