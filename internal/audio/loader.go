// Package audio decodes arbitrary media into the canonical processing
// format: mono float32 PCM at 16 kHz. Decoding and resampling are delegated
// to ffmpeg; ffprobe provides container metadata.
package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SampleRate is the canonical processing sample rate in Hz.
const SampleRate = 16000

// ErrEmptyAudio is returned when a source decodes to zero samples.
var ErrEmptyAudio = errors.New("audio: source contains no audio data")

// DecodeError wraps a decoder failure with the offending path.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: failed to decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SupportedFormats lists the container extensions accepted for upload.
var SupportedFormats = []string{".mp3", ".m4a", ".aac", ".ogg", ".flac", ".wav", ".webm", ".opus", ".mp4", ".mkv"}

// IsSupportedFormat checks if the file extension is a supported media format.
func IsSupportedFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range SupportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// Buffer holds decoded mono samples at SampleRate.
type Buffer struct {
	Samples []float32
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	return float64(len(b.Samples)) / float64(SampleRate)
}

// Slice returns the samples covering [start, end) seconds, clamped to the
// buffer. The returned slice shares storage with the buffer.
func (b *Buffer) Slice(start, end float64) []float32 {
	lo := int(start * float64(SampleRate))
	hi := int(end * float64(SampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(b.Samples) {
		hi = len(b.Samples)
	}
	if lo >= hi {
		return nil
	}
	return b.Samples[lo:hi]
}

// Load decodes a media file into a mono 16 kHz buffer. Multi-channel
// sources are downmixed and other sample rates resampled by ffmpeg. A
// source that is already 16 kHz mono PCM passes through byte-identical.
func Load(ctx context.Context, path string) (*Buffer, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("ffmpeg not found: %w", err)}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	data, readErr := io.ReadAll(bufio.NewReader(stdout))
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, &DecodeError{Path: path, Err: readErr}
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			waitErr = fmt.Errorf("%w: %s", waitErr, msg)
		}
		return nil, &DecodeError{Path: path, Err: waitErr}
	}

	samples := bytesToFloat32(data)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyAudio, path)
	}
	return &Buffer{Samples: samples}, nil
}

// Transcode converts a media file to 16 kHz mono WAV at outputPath.
func Transcode(ctx context.Context, inputPath, outputPath string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &DecodeError{Path: inputPath, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))}
	}
	return nil
}

// Duration returns the media duration in seconds via ffprobe.
func Duration(path string) (float64, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("ffprobe not found: %w", err)
	}

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to probe %s: %w", path, err)
	}

	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &duration); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return duration, nil
}

// bytesToFloat32 converts 16-bit little-endian PCM bytes to float32 samples.
func bytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := 0; i < len(samples); i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
