// Package engine abstracts the speech recognition model behind a small
// facade so the scheduler and tests never touch onnx directly.
package engine

import (
	"context"
	"fmt"
)

// Segment is a timestamped piece of recognized text. Times are seconds
// relative to the start of the transcribed file.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Key identifies a loaded model variant. Engines with equal keys are
// interchangeable and may be shared across sessions.
type Key struct {
	Model     string // e.g. "large-v3-turbo"
	Precision string // "int8", "float16" or "float32"
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Model, k.Precision)
}

// Params are per-request decoding options.
type Params struct {
	Language      string // ISO code, empty for auto-detect
	Task          string // "transcribe" or "translate"
	InitialPrompt string
}

// Engine transcribes one audio file at a time. Implementations are not
// safe for concurrent Transcribe calls; each worker owns its own instance.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, p Params) ([]Segment, error)
	Close() error
}

// Factory builds an engine bound to a compute device. Called once per
// worker at pool start.
type Factory func(deviceID int) (Engine, error)
