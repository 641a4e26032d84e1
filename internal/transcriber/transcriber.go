package transcriber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
	"github.com/hungshinlee/whisper-for-subs/internal/config"
	"github.com/hungshinlee/whisper-for-subs/internal/engine"
	"github.com/hungshinlee/whisper-for-subs/internal/fetch"
	"github.com/hungshinlee/whisper-for-subs/internal/partition"
	"github.com/hungshinlee/whisper-for-subs/internal/pool"
	"github.com/hungshinlee/whisper-for-subs/internal/session"
	"github.com/hungshinlee/whisper-for-subs/internal/subtitle"
	"github.com/hungshinlee/whisper-for-subs/internal/vad"
	"github.com/hungshinlee/whisper-for-subs/internal/zhconv"
)

// Request describes one transcription job.
type Request struct {
	Source string // local file path or YouTube URL
	Title  string // output name; derived from the source when empty

	Model         string // defaults to the configured model
	Precision     string
	Language      string // ISO code, empty for auto-detect
	Task          string // "transcribe" or "translate"
	InitialPrompt string

	UseVAD       bool
	VADThreshold float32       // 0 keeps the default
	MinSilence   time.Duration // 0 keeps the default

	Parallel      bool
	MergeSegments bool
	MaxChars      int // merged line length cap, default 80
	ConvertScript bool
}

// Result is a finished transcription.
type Result struct {
	Segments []subtitle.Segment
	SRT      string
	SRTPath  string
	Title    string

	AudioDuration float64
	Elapsed       time.Duration
	Speed         float64 // audio seconds per wall second

	Units    int
	Skipped  int
	Failed   int
	Warnings int
}

// Progress reports completion percent and the current step.
type Progress func(percent int, step string)

// Service wires the session manager, admission gate and audio pipeline
// into one entry point used by both the HTTP job runner and the CLI.
type Service struct {
	cfg        *config.Config
	gate       *Gate
	sessions   *session.Manager
	downloader *fetch.Downloader
	converter  *zhconv.Converter // nil when dictionaries are unavailable
	log        *logrus.Entry

	// newSegmenter builds a detector per request so threshold overrides
	// apply; swapped out in tests.
	newSegmenter func(cfg vad.Config) (vad.Segmenter, error)
}

// New builds a Service. The Chinese converter is optional: a load failure
// is logged and conversion degrades to a per-request warning.
func New(cfg *config.Config, gate *Gate, sessions *session.Manager, log *logrus.Entry) *Service {
	converter, err := zhconv.New()
	if err != nil {
		log.WithError(err).Warn("chinese conversion unavailable")
		converter = nil
	}
	return &Service{
		cfg:        cfg,
		gate:       gate,
		sessions:   sessions,
		downloader: fetch.NewDownloader(log),
		converter:  converter,
		log:        log,
		newSegmenter: func(vcfg vad.Config) (vad.Segmenter, error) {
			return vad.New(vcfg)
		},
	}
}

// Transcribe runs one session end to end: resolve the source, detect
// speech, partition it into units, run them on the admitted engine and
// write the SRT artifact. The session workspace is removed on every exit
// path.
func (s *Service) Transcribe(ctx context.Context, req Request, onProgress Progress) (*Result, error) {
	report := func(percent int, step string) {
		if onProgress != nil {
			onProgress(percent, step)
		}
	}
	started := time.Now()

	s.applyDefaults(&req)
	report(2, "preparing")

	sess, err := s.sessions.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.Close()
	log := s.log.WithField("session_id", sess.ID)

	sourcePath, title, err := s.resolveSource(ctx, req, sess, report)
	if err != nil {
		return nil, err
	}
	if req.Title != "" {
		title = req.Title
	}

	mode := ModeSingle
	if req.Parallel {
		mode = ModeParallel
	}
	key := engine.Key{Model: req.Model, Precision: req.Precision}

	report(8, "waiting for engine")
	handle, err := s.gate.Acquire(ctx, mode, key)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	report(15, "loading audio")
	buf, err := audio.Load(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	regions, err := s.detectRegions(req, buf, report)
	if err != nil {
		return nil, err
	}

	units := partition.Split(buf, regions, partition.DefaultBounds())
	log.WithFields(logrus.Fields{
		"duration": buf.Duration(),
		"regions":  len(regions),
		"units":    len(units),
		"mode":     mode,
	}).Info("partitioned audio")

	params := engine.Params{
		Language:      req.Language,
		Task:          req.Task,
		InitialPrompt: req.InitialPrompt,
	}

	report(30, "transcribing")
	var rawSegments []engine.Segment
	var stats pool.Stats
	if mode == ModeParallel {
		rawSegments, stats, err = handle.Workers.Transcribe(ctx, units, params, sess.Workdir)
	} else {
		rawSegments, stats, err = s.runSequential(ctx, handle.Single, units, params, sess.Workdir, log, report)
	}
	if err != nil {
		return nil, err
	}

	segments := make([]subtitle.Segment, len(rawSegments))
	for i, seg := range rawSegments {
		segments[i] = subtitle.Segment{Start: seg.Start, End: seg.End, Text: seg.Text}
	}

	warnings := stats.Warnings
	report(92, "post-processing")
	if req.MergeSegments {
		segments = subtitle.Merge(segments, subtitle.MergeOptions{MaxChars: req.MaxChars})
	}
	if req.ConvertScript && zhconv.IsChinese(req.Language) {
		if s.converter == nil {
			warnings++
			log.Warn("script conversion requested but dictionaries are unavailable")
		} else {
			var convWarnings int
			segments, convWarnings = s.converter.ConvertSegments(segments)
			warnings += convWarnings
		}
	}

	report(96, "writing subtitles")
	srt := subtitle.Render(segments)
	srtPath := filepath.Join(s.sessions.OutputsDir(),
		fmt.Sprintf("%s_%s.srt", fetch.SanitizeTitle(title), time.Now().Format("20060102_150405")))
	if err := os.WriteFile(srtPath, []byte(srt), 0644); err != nil {
		return nil, fmt.Errorf("failed to write subtitle file: %w", err)
	}

	elapsed := time.Since(started)
	result := &Result{
		Segments:      segments,
		SRT:           srt,
		SRTPath:       srtPath,
		Title:         title,
		AudioDuration: buf.Duration(),
		Elapsed:       elapsed,
		Units:         len(units),
		Skipped:       stats.Skipped,
		Failed:        stats.Failed,
		Warnings:      warnings,
	}
	if elapsed > 0 {
		result.Speed = buf.Duration() / elapsed.Seconds()
	}

	log.WithFields(logrus.Fields{
		"audio_seconds": result.AudioDuration,
		"elapsed":       elapsed.Round(time.Millisecond),
		"speed":         fmt.Sprintf("%.1fx", result.Speed),
		"segments":      len(segments),
		"warnings":      warnings,
	}).Info("transcription finished")
	report(100, "")

	return result, nil
}

func (s *Service) applyDefaults(req *Request) {
	if req.Model == "" {
		req.Model = s.cfg.ModelName
	}
	if req.Precision == "" {
		req.Precision = s.cfg.Precision
	}
	if req.Task == "" {
		req.Task = "transcribe"
	}
	if req.MaxChars <= 0 {
		req.MaxChars = subtitle.DefaultMergeOptions().MaxChars
	}
	// the line length cap is only meaningful within [40, 120]
	if req.MaxChars < minMaxChars {
		req.MaxChars = minMaxChars
	}
	if req.MaxChars > maxMaxChars {
		req.MaxChars = maxMaxChars
	}
}

// Bounds for the merged subtitle line length cap.
const (
	minMaxChars = 40
	maxMaxChars = 120
)

// resolveSource turns the request source into a local audio path. Remote
// sources land in the shared download cache; local files are copied into
// the session workspace so the original is never touched.
func (s *Service) resolveSource(ctx context.Context, req Request, sess *session.Session, report Progress) (string, string, error) {
	if fetch.IsRemoteURL(req.Source) {
		if !fetch.IsYouTubeURL(req.Source) {
			return "", "", fmt.Errorf("%w: unsupported source URL %s", fetch.ErrFetch, req.Source)
		}
		report(4, "downloading")
		media, err := s.downloader.FetchAudio(ctx, req.Source, s.sessions.DownloadsDir())
		if err != nil {
			return "", "", err
		}
		return media.Path, media.Title, nil
	}

	if !audio.IsSupportedFormat(req.Source) {
		return "", "", fmt.Errorf("unsupported audio format: %s", filepath.Base(req.Source))
	}
	imported, err := sess.ImportFile(req.Source)
	if err != nil {
		return "", "", err
	}
	base := filepath.Base(req.Source)
	title := base[:len(base)-len(filepath.Ext(base))]
	return imported, title, nil
}

// detectRegions runs VAD when requested, otherwise treats the whole buffer
// as one speech region.
func (s *Service) detectRegions(req Request, buf *audio.Buffer, report Progress) ([]vad.Region, error) {
	if !req.UseVAD {
		return []vad.Region{{Start: 0, End: buf.Duration()}}, nil
	}

	report(22, "detecting speech")
	vcfg := vad.DefaultConfig(s.cfg.VADModelPath)
	if req.VADThreshold > 0 {
		vcfg.Threshold = req.VADThreshold
	}
	if req.MinSilence > 0 {
		vcfg.MinSilence = req.MinSilence
	}

	segmenter, err := s.newSegmenter(vcfg)
	if err != nil {
		return nil, err
	}
	return segmenter.Detect(buf.Samples)
}

// runSequential is the single-engine path: units run in ascending order on
// one engine under the same per-unit contract as the pool, including the
// single retry for a failed unit.
func (s *Service) runSequential(ctx context.Context, eng engine.Engine, units []partition.Unit, params engine.Params, workdir string, log *logrus.Entry, report Progress) ([]engine.Segment, pool.Stats, error) {
	stats := pool.Stats{Units: len(units)}
	var segments []engine.Segment

	// A timed-out unit leaves its call in flight inside the engine; the
	// next call must wait for it to drain.
	waitDrained := func(res pool.UnitResult) error {
		if res.Drained == nil {
			return nil
		}
		select {
		case <-res.Drained:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		res := pool.RunUnit(ctx, eng, unit, params, workdir, 0, log)
		if res.Err != nil {
			if err := waitDrained(res); err != nil {
				return nil, stats, err
			}
			stats.Retries++
			log.WithField("unit_id", unit.ID).WithError(res.Err).Warn("unit failed, retrying")
			res = pool.RunUnit(ctx, eng, unit, params, workdir, 0, log)
			if err := waitDrained(res); err != nil {
				return nil, stats, err
			}
		}

		switch {
		case res.Err != nil:
			stats.Failed++
			stats.Warnings++
			log.WithField("unit_id", unit.ID).WithError(res.Err).
				Warn("unit failed after retry, emitting empty result")
		case res.Status == pool.UnitSkipped:
			stats.Skipped++
		default:
			segments = append(segments, res.Segments...)
		}

		if len(units) > 0 {
			report(30+60*(i+1)/len(units), "transcribing")
		}
	}
	return segments, stats, nil
}
