// Package session manages per-request working directories under the data
// root and sweeps stale artifacts left behind by crashed runs.
package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAge is how long session, download and output artifacts may
// linger before the sweep removes them.
const DefaultMaxAge = 24 * time.Hour

// Manager creates isolated session workspaces under <root>/sessions and
// owns the shared <root>/downloads and <root>/outputs directories.
type Manager struct {
	root   string
	maxAge time.Duration
	log    *logrus.Entry
}

// NewManager prepares the data root directory tree.
func NewManager(root string, log *logrus.Entry) (*Manager, error) {
	for _, dir := range []string{
		filepath.Join(root, "sessions"),
		filepath.Join(root, "downloads"),
		filepath.Join(root, "outputs"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Manager{root: root, maxAge: DefaultMaxAge, log: log}, nil
}

// SetMaxAge overrides the sweep age, mainly for tests.
func (m *Manager) SetMaxAge(age time.Duration) {
	m.maxAge = age
}

// DownloadsDir is the shared media cache for fetched sources.
func (m *Manager) DownloadsDir() string {
	return filepath.Join(m.root, "downloads")
}

// OutputsDir holds finished subtitle artifacts.
func (m *Manager) OutputsDir() string {
	return filepath.Join(m.root, "outputs")
}

// Begin sweeps stale artifacts and creates a fresh session workspace.
func (m *Manager) Begin() (*Session, error) {
	m.Sweep()

	id := uuid.New().String()
	workdir := filepath.Join(m.root, "sessions", id)
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session workspace: %w", err)
	}

	log := m.log.WithField("session_id", id)
	log.Info("session started")
	return &Session{
		ID:        id,
		Workdir:   workdir,
		StartedAt: time.Now(),
		log:       log,
	}, nil
}

// Sweep removes session workspaces, downloads and outputs older than the
// configured age. Sweep failures are logged and absorbed.
func (m *Manager) Sweep() {
	cutoff := time.Now().Add(-m.maxAge)

	sweepDir := func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			m.log.WithError(err).WithField("dir", dir).Warn("sweep skipped directory")
			return
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				m.log.WithError(err).WithField("path", path).Warn("sweep failed to remove artifact")
				continue
			}
			m.log.WithField("path", path).Debug("swept stale artifact")
		}
	}

	sweepDir(filepath.Join(m.root, "sessions"))
	sweepDir(m.DownloadsDir())
	sweepDir(m.OutputsDir())
}

// Session is one isolated transcription workspace. All scratch files
// produced during the run live under Workdir and disappear on Close.
type Session struct {
	ID        string
	Workdir   string
	StartedAt time.Time

	log  *logrus.Entry
	once sync.Once
}

// Path returns the location for a scratch file inside the workspace.
func (s *Session) Path(name string) string {
	return filepath.Join(s.Workdir, name)
}

// ImportFile copies an input file into the workspace under a collision-free
// name and returns the new path. The source is left untouched.
func (s *Session) ImportFile(srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open input: %w", err)
	}
	defer src.Close()

	destPath := s.Path(uuid.New().String() + "_" + filepath.Base(srcPath))
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create workspace copy: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to copy input: %w", err)
	}
	return destPath, nil
}

// Close removes the workspace. It runs on every exit path, success or
// failure, and cleanup errors are logged rather than returned.
func (s *Session) Close() {
	s.once.Do(func() {
		if err := os.RemoveAll(s.Workdir); err != nil {
			s.log.WithError(err).Warn("failed to remove session workspace")
			return
		}
		s.log.WithField("elapsed", time.Since(s.StartedAt).Round(time.Millisecond)).
			Info("session closed")
	})
}
