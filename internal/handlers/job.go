package handlers

import (
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hungshinlee/whisper-for-subs/internal/storage"
)

// JobHandler serves job status and finished artifacts.
type JobHandler struct {
	repo *storage.JobRepository
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(repo *storage.JobRepository) *JobHandler {
	return &JobHandler{repo: repo}
}

// List returns recent jobs.
// GET /api/jobs
func (h *JobHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	jobs, err := h.repo.ListRecent(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, jobs)
}

// Get returns one job's status and progress.
// GET /api/jobs/:id
func (h *JobHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

// DownloadSRT serves the finished subtitle file.
// GET /api/jobs/:id/srt
func (h *JobHandler) DownloadSRT(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	if job.Status != storage.JobStatusCompleted || job.SRTPath == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "job has no subtitle artifact yet"})
	}
	if _, err := os.Stat(*job.SRTPath); err != nil {
		return c.JSON(http.StatusGone, map[string]string{"error": "subtitle artifact has been swept"})
	}

	name := job.ID + ".srt"
	if job.Title != nil && *job.Title != "" {
		name = *job.Title + ".srt"
	}
	return c.Attachment(*job.SRTPath, name)
}
