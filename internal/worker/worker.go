// Package worker polls the job queue and runs transcriptions in the
// background, persisting progress along the way.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/storage"
	"github.com/hungshinlee/whisper-for-subs/internal/transcriber"
)

// RunFunc executes one job and returns the finished result.
type RunFunc func(ctx context.Context, job *storage.Job, progress func(percent int, step string)) (*transcriber.Result, error)

// cleanupEvery is how often the runner prunes old completed job rows.
const cleanupEvery = time.Hour

// Runner drains the queued jobs one at a time. Concurrency across sessions
// comes from running multiple HTTP-facing processes or future multiple
// runners; admission control in the transcriber bounds actual parallelism.
type Runner struct {
	jobs      *storage.JobRepository
	run       RunFunc
	interval  time.Duration
	retention time.Duration
	log       *logrus.Entry

	lastCleanup time.Time

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewRunner creates a Runner polling every second. Completed job rows are
// pruned on the same cadence as the artifact sweep, 24 hours by default.
func NewRunner(jobs *storage.JobRepository, run RunFunc, log *logrus.Entry) *Runner {
	return &Runner{
		jobs:      jobs,
		run:       run,
		interval:  time.Second,
		retention: 24 * time.Hour,
		log:       log,
		stop:      make(chan struct{}),
	}
}

// SetInterval changes the polling interval, mainly for tests.
func (r *Runner) SetInterval(interval time.Duration) {
	r.interval = interval
}

// SetRetention changes how long completed job rows are kept. Zero disables
// pruning.
func (r *Runner) SetRetention(retention time.Duration) {
	r.retention = retention
}

// Start begins processing jobs until Stop or context cancellation.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
	r.log.Info("job runner started")
}

// Stop waits for the in-flight job to finish and shuts the runner down.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
	r.log.Info("job runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.processNext(ctx)
			r.maybeCleanup(ctx)
		}
	}
}

// maybeCleanup prunes completed job rows older than the retention window.
// Their SRT artifacts are removed by the session sweep on the same age, so
// the rows would otherwise point at files that no longer exist.
func (r *Runner) maybeCleanup(ctx context.Context) {
	if r.retention <= 0 || time.Since(r.lastCleanup) < cleanupEvery {
		return
	}
	r.lastCleanup = time.Now()

	removed, err := r.jobs.CleanupCompleted(ctx, r.retention)
	if err != nil {
		r.log.WithError(err).Warn("failed to prune completed jobs")
		return
	}
	if removed > 0 {
		r.log.WithField("removed", removed).Info("pruned completed jobs")
	}
}

func (r *Runner) processNext(ctx context.Context) {
	job, err := r.jobs.GetNextQueued(ctx)
	if err != nil {
		r.log.WithError(err).Error("failed to poll job queue")
		return
	}
	if job == nil {
		return
	}

	log := r.log.WithField("job_id", job.ID)
	if err := r.jobs.Start(ctx, job.ID); err != nil {
		log.WithError(err).Error("failed to mark job running")
		return
	}
	log.WithField("source", job.Source).Info("processing job")

	progress := func(percent int, step string) {
		if err := r.jobs.UpdateProgress(ctx, job.ID, percent, step); err != nil {
			log.WithError(err).Warn("failed to persist progress")
		}
	}

	result, err := r.run(ctx, job, progress)
	if err != nil {
		log.WithError(err).Error("job failed")
		if ferr := r.jobs.Fail(ctx, job.ID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("failed to mark job failed")
		}
		return
	}

	if result.Title != "" {
		if terr := r.jobs.SetTitle(ctx, job.ID, result.Title); terr != nil {
			log.WithError(terr).Warn("failed to store job title")
		}
	}
	if err := r.jobs.Complete(ctx, job.ID, result.SRTPath, result.Warnings,
		result.AudioDuration, result.Elapsed.Seconds()); err != nil {
		log.WithError(err).Error("failed to mark job completed")
		return
	}
	log.WithFields(logrus.Fields{
		"segments": len(result.Segments),
		"warnings": result.Warnings,
		"elapsed":  result.Elapsed.Round(time.Millisecond),
	}).Info("job completed")
}
