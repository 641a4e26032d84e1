// Package vad detects speech regions in decoded audio using the silero
// voice activity model.
package vad

import (
	"errors"
	"fmt"
	"os"
	"time"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
)

// ErrInit is returned when the detector cannot be constructed.
var ErrInit = errors.New("vad: failed to initialize detector")

// Region is a detected speech span in absolute seconds.
type Region struct {
	Start float64
	End   float64
}

// Duration returns the region length in seconds.
func (r Region) Duration() float64 {
	return r.End - r.Start
}

// Segmenter detects speech regions in mono 16 kHz samples. Regions are
// returned sorted by start time and do not overlap.
type Segmenter interface {
	Detect(samples []float32) ([]Region, error)
}

// Config holds detection parameters for the silero model.
type Config struct {
	ModelPath  string
	Threshold  float32       // speech probability threshold, 0-1
	MinSilence time.Duration // silence shorter than this does not split a region
	MinSpeech  time.Duration // speech shorter than this is discarded
}

// DefaultConfig returns detection parameters tuned for subtitle work.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:  modelPath,
		Threshold:  0.5,
		MinSilence: 500 * time.Millisecond,
		MinSpeech:  250 * time.Millisecond,
	}
}

// Silero runs the silero VAD model through sherpa-onnx. A fresh detector
// is built per Detect call so concurrent sessions never share onnx state.
type Silero struct {
	cfg Config
}

// New validates the model path and returns a Silero segmenter.
func New(cfg Config) (*Silero, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model not found at %s", ErrInit, cfg.ModelPath)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = 0.5
	}
	return &Silero{cfg: cfg}, nil
}

const windowSize = 512 // samples per silero inference window

// Detect feeds the samples through the model and returns speech regions.
func (s *Silero) Detect(samples []float32) ([]Region, error) {
	modelConfig := sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              s.cfg.ModelPath,
			Threshold:          s.cfg.Threshold,
			MinSilenceDuration: float32(s.cfg.MinSilence.Seconds()),
			MinSpeechDuration:  float32(s.cfg.MinSpeech.Seconds()),
			WindowSize:         windowSize,
		},
		SampleRate: audio.SampleRate,
		NumThreads: 1,
		Debug:      0,
	}

	detector := sherpa.NewVoiceActivityDetector(&modelConfig, 60) // 60 second buffer
	if detector == nil {
		return nil, ErrInit
	}
	defer sherpa.DeleteVoiceActivityDetector(detector)

	var regions []Region
	drain := func() {
		for !detector.IsEmpty() {
			segment := detector.Front()
			detector.Pop()
			start := float64(segment.Start) / float64(audio.SampleRate)
			end := start + float64(len(segment.Samples))/float64(audio.SampleRate)
			regions = append(regions, Region{Start: start, End: end})
		}
	}

	for offset := 0; offset < len(samples); offset += windowSize {
		end := offset + windowSize
		if end > len(samples) {
			end = len(samples)
		}
		detector.AcceptWaveform(samples[offset:end])
		drain()
	}
	detector.Flush()
	drain()

	return regions, nil
}
