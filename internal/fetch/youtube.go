// Package fetch resolves remote media sources into local 16 kHz mono WAV
// files ready for transcription.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"
	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
)

// ErrFetch wraps download failures.
var ErrFetch = errors.New("fetch: download failed")

// IsRemoteURL reports whether the source names a remote resource rather
// than a local file.
func IsRemoteURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsYouTubeURL reports whether the URL points at a YouTube video.
func IsYouTubeURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}

// Media describes a fetched source.
type Media struct {
	Path     string // local 16 kHz mono WAV
	Title    string
	ID       string
	Duration float64 // seconds, 0 when probing failed
}

// Downloader fetches YouTube audio into a cache directory.
type Downloader struct {
	client ytdl.Client
	log    *logrus.Entry
}

// NewDownloader returns a Downloader.
func NewDownloader(log *logrus.Entry) *Downloader {
	return &Downloader{client: ytdl.Client{}, log: log}
}

// FetchAudio downloads the best audio-only stream of a YouTube video into
// destDir and converts it to the canonical WAV format. A video already
// present in destDir is reused without downloading.
func (d *Downloader) FetchAudio(ctx context.Context, videoURL, destDir string) (*Media, error) {
	video, err := d.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	wavPath := filepath.Join(destDir, video.ID+".wav")
	if _, err := os.Stat(wavPath); err == nil {
		d.log.WithField("video_id", video.ID).Info("reusing cached download")
		return d.media(wavPath, video), nil
	}

	format, err := selectAudioFormat(video)
	if err != nil {
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"video_id": video.ID,
		"mime":     format.MimeType,
		"bitrate":  format.Bitrate,
	}).Info("downloading audio stream")

	stream, _, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer stream.Close()

	rawPath := filepath.Join(destDir, video.ID+extensionFor(format.MimeType))
	file, err := os.Create(rawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create download file: %w", err)
	}
	if _, err := io.Copy(file, stream); err != nil {
		file.Close()
		os.Remove(rawPath)
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	file.Close()
	defer os.Remove(rawPath)

	if err := audio.Transcode(ctx, rawPath, wavPath); err != nil {
		os.Remove(wavPath)
		return nil, fmt.Errorf("failed to convert download: %w", err)
	}

	media := d.media(wavPath, video)
	d.log.WithFields(logrus.Fields{
		"video_id": video.ID,
		"duration": media.Duration,
	}).Info("download converted")
	return media, nil
}

func (d *Downloader) media(wavPath string, video *ytdl.Video) *Media {
	m := &Media{Path: wavPath, Title: video.Title, ID: video.ID}
	dur, err := audio.Duration(wavPath)
	if err != nil {
		d.log.WithError(err).Debug("failed to probe media duration")
		return m
	}
	m.Duration = dur
	return m
}

// selectAudioFormat picks the highest-bitrate audio-only format, preferring
// the default audio track when the video carries several languages.
func selectAudioFormat(video *ytdl.Video) (*ytdl.Format, error) {
	var candidates []*ytdl.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if f.AudioTrack != nil && !f.AudioTrack.AudioIsDefault {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no audio-only formats available", ErrFetch)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Bitrate > candidates[j].Bitrate
	})
	return candidates[0], nil
}

func extensionFor(mimeType string) string {
	if strings.Contains(mimeType, "mp4") {
		return ".m4a"
	}
	if strings.Contains(mimeType, "webm") {
		return ".webm"
	}
	return ".audio"
}

// SanitizeTitle turns a video title into a safe file name component.
func SanitizeTitle(title string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	clean := strings.TrimSpace(replacer.Replace(title))
	if clean == "" {
		return "untitled"
	}
	const maxLen = 80
	runes := []rune(clean)
	if len(runes) > maxLen {
		clean = string(runes[:maxLen])
	}
	return clean
}
