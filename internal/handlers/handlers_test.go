package handlers

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hungshinlee/whisper-for-subs/internal/storage"
)

func newRepo(t *testing.T) *storage.JobRepository {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewJobRepository(db)
}

func postForm(t *testing.T, h func(echo.Context) error, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestSubmitURL(t *testing.T) {
	repo := newRepo(t)
	h := NewTranscribeHandler(repo, t.TempDir())

	rec := postForm(t, h.Submit, url.Values{
		"url":      {"https://www.youtube.com/watch?v=abc123"},
		"language": {"zh"},
		"parallel": {"true"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	assert.Equal(t, storage.JobStatusQueued, resp["status"])

	job, err := repo.GetByID(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.Parallel)
	require.NotNil(t, job.Language)
	assert.Equal(t, "zh", *job.Language)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	h := NewTranscribeHandler(newRepo(t), t.TempDir())

	tests := []struct {
		name   string
		values url.Values
	}{
		{"no source", url.Values{}},
		{"bad precision", url.Values{"url": {"https://youtu.be/x"}, "precision": {"fp8"}}},
		{"bad task", url.Values{"url": {"https://youtu.be/x"}, "task": {"summarize"}}},
		{"max_chars above range", url.Values{"url": {"https://youtu.be/x"}, "max_chars": {"121"}}},
		{"max_chars below range", url.Values{"url": {"https://youtu.be/x"}, "max_chars": {"39"}}},
		{"non-youtube url", url.Values{"url": {"https://vimeo.com/1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postForm(t, h.Submit, tt.values)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitUpload(t *testing.T) {
	repo := newRepo(t)
	uploads := t.TempDir()
	h := NewTranscribeHandler(repo, uploads)

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "meeting.mp3")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake mp3 payload"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader(body.String()))
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	require.NoError(t, h.Submit(e.NewContext(req, rec)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	job, err := repo.GetByID(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.NotNil(t, job.InputPath)
	assert.Equal(t, uploads, filepath.Dir(*job.InputPath))
	assert.FileExists(t, *job.InputPath)
	assert.Equal(t, "meeting.mp3", job.Source)
}

func TestGetJob(t *testing.T) {
	repo := newRepo(t)
	h := NewJobHandler(repo)
	e := echo.New()

	job := &storage.Job{Source: "x.mp3", Model: "m", Precision: "int8"}
	require.NoError(t, repo.Create(context.Background(), job))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/jobs/:id")
	c.SetParamNames("id")
	c.SetParamValues(job.ID)

	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got storage.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, storage.JobStatusQueued, got.Status)
}

func TestGetJobNotFound(t *testing.T) {
	h := NewJobHandler(newRepo(t))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	require.NoError(t, h.Get(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadSRT(t *testing.T) {
	repo := newRepo(t)
	h := NewJobHandler(repo)
	e := echo.New()

	job := &storage.Job{Source: "x.mp3", Model: "m", Precision: "int8"}
	require.NoError(t, repo.Create(context.Background(), job))

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(job.ID)
		require.NoError(t, h.DownloadSRT(c))
		return rec
	}

	// not finished yet
	assert.Equal(t, http.StatusConflict, get().Code)

	srtPath := filepath.Join(t.TempDir(), "out.srt")
	require.NoError(t, os.WriteFile(srtPath, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), 0644))
	require.NoError(t, repo.Complete(context.Background(), job.ID, srtPath, 0, 1, 1))

	rec := get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "00:00:00,000 --> 00:00:01,000")

	// artifact swept
	require.NoError(t, os.Remove(srtPath))
	assert.Equal(t, http.StatusGone, get().Code)
}
