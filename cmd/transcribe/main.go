package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/config"
	"github.com/hungshinlee/whisper-for-subs/internal/engine"
	"github.com/hungshinlee/whisper-for-subs/internal/fetch"
	"github.com/hungshinlee/whisper-for-subs/internal/pool"
	"github.com/hungshinlee/whisper-for-subs/internal/session"
	"github.com/hungshinlee/whisper-for-subs/internal/transcriber"
)

func main() {
	var (
		inputFile  = flag.String("i", "", "Input audio file")
		sourceURL  = flag.String("url", "", "YouTube URL to transcribe")
		outputFile = flag.String("o", "", "Output SRT file (default: stdout)")
		modelDir   = flag.String("model-dir", "", "Model directory (default: $WHISPER_MODEL_DIR)")
		model      = flag.String("model", "", "Model name (default: $WHISPER_MODEL)")
		precision  = flag.String("precision", "", "Model precision: int8, float16, float32")
		language   = flag.String("lang", "", "Language code (default: auto-detect)")
		task       = flag.String("task", "transcribe", "Task: transcribe or translate")
		prompt     = flag.String("prompt", "", "Initial prompt for the decoder")
		useVAD     = flag.Bool("vad", true, "Detect speech before transcribing")
		threshold  = flag.Float64("threshold", 0, "Speech detection threshold (0 keeps the default)")
		minSilence = flag.Duration("min-silence", 0, "Minimum silence to split on (0 keeps the default)")
		merge      = flag.Bool("merge", true, "Merge short segments into subtitle lines")
		maxChars   = flag.Int("max-chars", 0, "Merged line length cap, 40-120 (0 keeps the default)")
		parallel   = flag.Bool("parallel", false, "Run units on all configured devices")
		devices    = flag.String("devices", "", "Comma-separated device IDs (default: $DEVICE_LIST)")
		convert    = flag.Bool("convert", false, "Convert Chinese output to Traditional script")
		verbose    = flag.Bool("v", false, "Verbose output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i audio.mp3\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i audio.wav -o subtitles.srt -lang zh -convert\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -url https://www.youtube.com/watch?v=ID -o subtitles.srt\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i lecture.m4a -parallel -devices 0,1 -v\n", os.Args[0])
	}

	flag.Parse()
	_ = godotenv.Load()

	if *inputFile == "" && *sourceURL == "" {
		fmt.Fprintf(os.Stderr, "Error: -i or -url is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *inputFile != "" && *sourceURL != "" {
		fmt.Fprintf(os.Stderr, "Error: -i and -url are mutually exclusive\n")
		os.Exit(1)
	}
	if *inputFile != "" {
		if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error: Input file not found: %s\n", *inputFile)
			os.Exit(1)
		}
	}
	if *task != "transcribe" && *task != "translate" {
		fmt.Fprintf(os.Stderr, "Error: Invalid task '%s'. Must be: transcribe or translate\n", *task)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *modelDir != "" {
		cfg.ModelDir = *modelDir
	}
	if *devices != "" {
		cfg.Devices, err = config.ParseDeviceList(*devices)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid device list: %v\n", err)
			os.Exit(1)
		}
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.InfoLevel)
	}
	log := logrus.NewEntry(logger)

	sessions, err := session.NewManager(cfg.DataDir, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to prepare data directories: %v\n", err)
		os.Exit(1)
	}

	gate := transcriber.NewGate(1, transcriber.Factories{
		Single: func(key engine.Key) (engine.Engine, error) {
			return engine.NewWhisper(engine.WhisperConfig{
				ModelDir:   filepath.Join(cfg.ModelDir, key.Model),
				Key:        key,
				Provider:   cfg.Provider,
				DeviceID:   cfg.Devices[0],
				NumThreads: cfg.NumThreads,
			})
		},
		Workers: func(ctx context.Context, key engine.Key) (*pool.Pool, error) {
			factory := func(device int) (engine.Engine, error) {
				return engine.NewWhisper(engine.WhisperConfig{
					ModelDir:   filepath.Join(cfg.ModelDir, key.Model),
					Key:        key,
					Provider:   cfg.Provider,
					DeviceID:   device,
					NumThreads: cfg.NumThreads,
				})
			}
			p := pool.New(cfg.Devices, factory, log)
			if err := p.Start(ctx); err != nil {
				return nil, err
			}
			return p, nil
		},
	}, log)
	defer gate.Close()

	svc := transcriber.New(cfg, gate, sessions, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := transcriber.Request{
		Source:        *inputFile,
		Model:         *model,
		Precision:     *precision,
		Language:      *language,
		Task:          *task,
		InitialPrompt: *prompt,
		UseVAD:        *useVAD,
		VADThreshold:  float32(*threshold),
		MinSilence:    *minSilence,
		Parallel:      *parallel,
		MergeSegments: *merge,
		MaxChars:      *maxChars,
		ConvertScript: *convert,
	}
	if *sourceURL != "" {
		if !fetch.IsYouTubeURL(*sourceURL) {
			fmt.Fprintf(os.Stderr, "Error: Unsupported source URL: %s\n", *sourceURL)
			os.Exit(1)
		}
		req.Source = *sourceURL
	}

	var progress transcriber.Progress
	if *verbose {
		progress = func(percent int, step string) {
			if step != "" {
				fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", percent, step)
			}
		}
	}

	result, err := svc.Transcribe(ctx, req, progress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Transcription failed: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Transcribed %.1fs of audio in %s (%.1fx realtime)\n",
			result.AudioDuration, result.Elapsed.Round(time.Millisecond), result.Speed)
		if result.Warnings > 0 {
			fmt.Fprintf(os.Stderr, "Finished with %d warning(s)\n", result.Warnings)
		}
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(result.SRT), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to write output file: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Output written to: %s\n", *outputFile)
		}
	} else {
		fmt.Print(result.SRT)
	}
}
