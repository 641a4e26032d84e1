// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the server and CLI need to run.
type Config struct {
	// Model selection
	ModelDir  string // WHISPER_MODEL_DIR
	ModelName string // WHISPER_MODEL
	Precision string // WHISPER_PRECISION: int8, float16, float32

	// Compute
	Provider   string // ONNX_PROVIDER: cpu or cuda
	Devices    []int  // DEVICE_LIST, comma separated ids
	NumThreads int    // NUM_THREADS per engine

	// Voice activity detection
	VADModelPath string // VAD_MODEL

	// Service behaviour
	MaxSessions int           // MAX_SESSIONS concurrent transcriptions
	Preload     bool          // PRELOAD_MODEL warms the default engine at start
	DataDir     string        // DATA_DIR root for sessions/downloads/outputs
	SweepAge    time.Duration // CLEANUP_MAX_AGE_HOURS

	// HTTP
	Port string // PORT
}

// Load reads configuration from the environment, applying defaults and
// validating the values that have a closed domain.
func Load() (*Config, error) {
	cfg := &Config{
		ModelDir:     getEnv("WHISPER_MODEL_DIR", "models/whisper"),
		ModelName:    getEnv("WHISPER_MODEL", "large-v3-turbo"),
		Precision:    getEnv("WHISPER_PRECISION", "int8"),
		Provider:     getEnv("ONNX_PROVIDER", "cpu"),
		VADModelPath: getEnv("VAD_MODEL", "models/silero_vad.onnx"),
		DataDir:      getEnv("DATA_DIR", "data"),
		Port:         getEnv("PORT", "8080"),
	}

	switch cfg.Precision {
	case "int8", "float16", "float32":
	default:
		return nil, fmt.Errorf("invalid WHISPER_PRECISION %q: expected int8, float16 or float32", cfg.Precision)
	}
	switch cfg.Provider {
	case "cpu", "cuda":
	default:
		return nil, fmt.Errorf("invalid ONNX_PROVIDER %q: expected cpu or cuda", cfg.Provider)
	}

	devices, err := ParseDeviceList(getEnv("DEVICE_LIST", "0"))
	if err != nil {
		return nil, err
	}
	cfg.Devices = devices

	cfg.NumThreads, err = getEnvInt("NUM_THREADS", 4)
	if err != nil {
		return nil, err
	}
	cfg.MaxSessions, err = getEnvInt("MAX_SESSIONS", 2)
	if err != nil {
		return nil, err
	}
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("MAX_SESSIONS must be at least 1, got %d", cfg.MaxSessions)
	}

	sweepHours, err := getEnvInt("CLEANUP_MAX_AGE_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.SweepAge = time.Duration(sweepHours) * time.Hour

	cfg.Preload = getEnv("PRELOAD_MODEL", "false") == "true"

	return cfg, nil
}

// ParseDeviceList parses a comma separated device id list like "0,1,2".
func ParseDeviceList(s string) ([]int, error) {
	var devices []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid device id %q in DEVICE_LIST", part)
		}
		devices = append(devices, id)
	}
	if len(devices) == 0 {
		devices = []int{0}
	}
	return devices, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
