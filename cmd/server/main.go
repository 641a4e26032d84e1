package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/config"
	"github.com/hungshinlee/whisper-for-subs/internal/engine"
	"github.com/hungshinlee/whisper-for-subs/internal/handlers"
	"github.com/hungshinlee/whisper-for-subs/internal/pool"
	"github.com/hungshinlee/whisper-for-subs/internal/session"
	"github.com/hungshinlee/whisper-for-subs/internal/storage"
	"github.com/hungshinlee/whisper-for-subs/internal/transcriber"
	"github.com/hungshinlee/whisper-for-subs/internal/version"
	"github.com/hungshinlee/whisper-for-subs/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logger)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db, err := storage.Open(filepath.Join(cfg.DataDir, "jobs.db"))
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()
	jobRepo := storage.NewJobRepository(db)

	sessions, err := session.NewManager(cfg.DataDir, log)
	if err != nil {
		log.WithError(err).Fatal("failed to prepare data directories")
	}
	sessions.SetMaxAge(cfg.SweepAge)

	gate := transcriber.NewGate(cfg.MaxSessions, engineFactories(cfg, log), log)
	defer gate.Close()

	svc := transcriber.New(cfg, gate, sessions, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Preload {
		mode := transcriber.ModeSingle
		if len(cfg.Devices) > 1 {
			mode = transcriber.ModeParallel
		}
		key := engine.Key{Model: cfg.ModelName, Precision: cfg.Precision}
		log.WithField("model", key.String()).Info("preloading engine")
		if err := gate.Warm(ctx, mode, key); err != nil {
			log.WithError(err).Fatal("failed to preload engine")
		}
	}

	runner := worker.NewRunner(jobRepo, jobRunFunc(svc), log)
	runner.SetRetention(cfg.SweepAge)
	runner.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	transcribeHandler := handlers.NewTranscribeHandler(jobRepo, sessions.DownloadsDir())
	jobHandler := handlers.NewJobHandler(jobRepo)

	e.POST("/api/transcribe", transcribeHandler.Submit)
	e.GET("/api/jobs", jobHandler.List)
	e.GET("/api/jobs/:id", jobHandler.Get)
	e.GET("/api/jobs/:id/srt", jobHandler.DownloadSRT)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	go func() {
		log.WithFields(logrus.Fields{
			"version": version.Version,
			"port":    cfg.Port,
			"devices": cfg.Devices,
		}).Info("server starting")
		if err := e.Start(fmt.Sprintf(":%s", cfg.Port)); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	runner.Stop()
}

// engineFactories binds the configured model directory and devices to the
// engine constructors used by the admission gate.
func engineFactories(cfg *config.Config, log *logrus.Entry) transcriber.Factories {
	whisperConfig := func(key engine.Key, device int) engine.WhisperConfig {
		return engine.WhisperConfig{
			ModelDir:   filepath.Join(cfg.ModelDir, key.Model),
			Key:        key,
			Provider:   cfg.Provider,
			DeviceID:   device,
			NumThreads: cfg.NumThreads,
		}
	}

	return transcriber.Factories{
		Single: func(key engine.Key) (engine.Engine, error) {
			return engine.NewWhisper(whisperConfig(key, cfg.Devices[0]))
		},
		Workers: func(ctx context.Context, key engine.Key) (*pool.Pool, error) {
			factory := func(device int) (engine.Engine, error) {
				return engine.NewWhisper(whisperConfig(key, device))
			}
			p := pool.New(cfg.Devices, factory, log)
			if err := p.Start(ctx); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

// jobRunFunc translates a stored job row into a transcription request.
func jobRunFunc(svc *transcriber.Service) worker.RunFunc {
	return func(ctx context.Context, job *storage.Job, progress func(int, string)) (*transcriber.Result, error) {
		req := transcriber.Request{
			Source:        job.Source,
			Model:         job.Model,
			Precision:     job.Precision,
			Task:          job.Task,
			Parallel:      job.Parallel,
			UseVAD:        job.UseVAD,
			MergeSegments: job.MergeSegments,
			MaxChars:      job.MaxChars,
			ConvertScript: job.ConvertScript,
		}
		if job.InputPath != nil {
			req.Source = *job.InputPath
		}
		if job.Language != nil {
			req.Language = *job.Language
		}
		if job.Title != nil {
			req.Title = *job.Title
		}
		return svc.Transcribe(ctx, req, progress)
	}
}
