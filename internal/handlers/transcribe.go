// Package handlers exposes the transcription job API over echo.
package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
	"github.com/hungshinlee/whisper-for-subs/internal/fetch"
	"github.com/hungshinlee/whisper-for-subs/internal/storage"
)

// TranscribeHandler accepts transcription requests and queues them.
type TranscribeHandler struct {
	jobs       *storage.JobRepository
	uploadsDir string // shared cache, swept together with downloads
}

// NewTranscribeHandler creates a new TranscribeHandler.
func NewTranscribeHandler(jobs *storage.JobRepository, uploadsDir string) *TranscribeHandler {
	return &TranscribeHandler{jobs: jobs, uploadsDir: uploadsDir}
}

// Submit queues a transcription job from an uploaded file or a YouTube URL.
// POST /api/transcribe
func (h *TranscribeHandler) Submit(c echo.Context) error {
	ctx := c.Request().Context()

	job := &storage.Job{
		Model:         c.FormValue("model"),
		Precision:     c.FormValue("precision"),
		Task:          c.FormValue("task"),
		Parallel:      formBool(c, "parallel", false),
		UseVAD:        formBool(c, "use_vad", true),
		MergeSegments: formBool(c, "merge_segments", true),
		ConvertScript: formBool(c, "convert_script", false),
	}
	if lang := c.FormValue("language"); lang != "" {
		job.Language = storage.Ptr(lang)
	}
	if title := c.FormValue("title"); title != "" {
		job.Title = storage.Ptr(title)
	}

	switch job.Precision {
	case "", "int8", "float16", "float32":
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid precision"})
	}
	switch job.Task {
	case "", "transcribe", "translate":
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid task"})
	}
	if v := c.FormValue("max_chars"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 40 || n > 120 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "max_chars must be between 40 and 120"})
		}
		job.MaxChars = n
	}

	sourceURL := c.FormValue("url")
	file, fileErr := c.FormFile("file")

	switch {
	case sourceURL != "" && fileErr == nil:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provide either url or file, not both"})
	case sourceURL != "":
		if !fetch.IsYouTubeURL(sourceURL) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported source URL"})
		}
		job.Source = sourceURL
	case fileErr == nil:
		if !audio.IsSupportedFormat(file.Filename) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported audio format"})
		}
		path, err := h.saveUpload(file)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		job.Source = file.Filename
		job.InputPath = storage.Ptr(path)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url or file is required"})
	}

	if err := h.jobs.Create(ctx, job); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *TranscribeHandler) saveUpload(file *multipart.FileHeader) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	destPath := filepath.Join(h.uploadsDir, uuid.New().String()+"_"+filepath.Base(file.Filename))
	dest, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		os.Remove(destPath)
		return "", err
	}
	return destPath, nil
}

func formBool(c echo.Context, name string, fallback bool) bool {
	switch c.FormValue(name) {
	case "true", "1", "on":
		return true
	case "false", "0", "off":
		return false
	default:
		return fallback
	}
}
