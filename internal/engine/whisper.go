package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
)

// WhisperConfig holds construction parameters for a whisper engine.
type WhisperConfig struct {
	ModelDir   string // directory holding encoder/decoder/tokens files
	Key        Key
	Provider   string // onnx execution provider: "cpu" or "cuda"
	DeviceID   int
	NumThreads int
}

// Whisper runs whisper models through sherpa-onnx. The recognizer stays
// resident between calls; it is rebuilt only when a request changes the
// decoding language or task.
type Whisper struct {
	cfg        WhisperConfig
	recognizer *sherpa.OfflineRecognizer
	language   string
	task       string
}

// NewWhisper loads the model once and returns a resident engine.
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 4
	}
	if cfg.Provider == "" {
		cfg.Provider = "cpu"
	}

	w := &Whisper{cfg: cfg, task: "transcribe"}
	if err := w.build(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Whisper) build() error {
	precision := w.cfg.Key.Precision
	encoderCandidates := modelCandidates(w.cfg.Key.Model, "encoder", precision)
	decoderCandidates := modelCandidates(w.cfg.Key.Model, "decoder", precision)
	tokensCandidates := []string{
		w.cfg.Key.Model + "-tokens.txt",
		"tokens.txt",
	}

	encoderPath := findModelFile(w.cfg.ModelDir, encoderCandidates)
	decoderPath := findModelFile(w.cfg.ModelDir, decoderCandidates)
	tokensPath := findModelFile(w.cfg.ModelDir, tokensCandidates)

	if encoderPath == "" {
		return fmt.Errorf("encoder model not found in %s", w.cfg.ModelDir)
	}
	if decoderPath == "" {
		return fmt.Errorf("decoder model not found in %s", w.cfg.ModelDir)
	}
	if tokensPath == "" {
		return fmt.Errorf("tokens file not found in %s", w.cfg.ModelDir)
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: audio.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Whisper: sherpa.OfflineWhisperModelConfig{
				Encoder:  encoderPath,
				Decoder:  decoderPath,
				Language: w.language,
				Task:     w.task,
			},
			Tokens:     tokensPath,
			NumThreads: w.cfg.NumThreads,
			Provider:   w.cfg.Provider,
			Debug:      0,
		},
	}

	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return fmt.Errorf("failed to create whisper recognizer for %s", w.cfg.Key)
	}
	w.recognizer = recognizer
	return nil
}

// ensure rebuilds the recognizer when the request needs a different
// decoding language or task than the resident one.
func (w *Whisper) ensure(p Params) error {
	task := p.Task
	if task == "" {
		task = "transcribe"
	}
	if w.recognizer != nil && p.Language == w.language && task == w.task {
		return nil
	}

	if w.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(w.recognizer)
		w.recognizer = nil
	}
	w.language = p.Language
	w.task = task
	return w.build()
}

// Transcribe decodes one WAV file and returns timestamped segments.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string, p Params) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := w.ensure(p); err != nil {
		return nil, err
	}

	samples, err := audio.ReadWAV(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	stream := sherpa.NewOfflineStream(w.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(audio.SampleRate, samples)
	w.recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil || strings.TrimSpace(result.Text) == "" {
		return nil, nil
	}

	total := float64(len(samples)) / float64(audio.SampleRate)
	return buildSegments(result.Text, result.Tokens, result.Timestamps, total), nil
}

// Close releases the resident recognizer.
func (w *Whisper) Close() error {
	if w.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(w.recognizer)
		w.recognizer = nil
	}
	return nil
}

// buildSegments groups decoder tokens into segments. Token gaps above
// segmentGap or spans above segmentMax start a new segment. Without
// usable timestamps the whole text becomes one segment.
func buildSegments(text string, tokens []string, timestamps []float32, total float64) []Segment {
	const (
		segmentGap = 0.8
		segmentMax = 8.0
	)

	if len(timestamps) == 0 || len(timestamps) != len(tokens) {
		return []Segment{{Start: 0, End: total, Text: strings.TrimSpace(text)}}
	}

	var segments []Segment
	var b strings.Builder
	segStart := float64(timestamps[0])
	prev := segStart

	flush := func(end float64) {
		t := strings.TrimSpace(b.String())
		if t != "" {
			segments = append(segments, Segment{Start: segStart, End: end, Text: t})
		}
		b.Reset()
	}

	for i, tok := range tokens {
		ts := float64(timestamps[i])
		if ts-prev > segmentGap || ts-segStart > segmentMax {
			flush(prev)
			segStart = ts
		}
		b.WriteString(tok)
		prev = ts
	}
	flush(total)

	if len(segments) == 0 {
		return []Segment{{Start: 0, End: total, Text: strings.TrimSpace(text)}}
	}
	return segments
}

// modelCandidates lists acceptable file names for a model component,
// preferring the requested precision.
func modelCandidates(model, component, precision string) []string {
	var names []string
	add := func(suffix string) {
		names = append(names,
			fmt.Sprintf("%s-%s%s.onnx", model, component, suffix),
			fmt.Sprintf("%s%s.onnx", component, suffix),
		)
	}
	if precision == "int8" {
		add(".int8")
		add("")
	} else {
		add("")
		add(".int8")
	}
	return names
}

// findModelFile returns the first candidate that exists in dir.
func findModelFile(dir string, candidates []string) string {
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
