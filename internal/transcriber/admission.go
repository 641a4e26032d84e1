// Package transcriber orchestrates a full transcription session and
// bounds how many sessions may run at once.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/engine"
	"github.com/hungshinlee/whisper-for-subs/internal/pool"
)

// ErrAdmissionTimeout is returned when a caller stops waiting for a
// session slot.
var ErrAdmissionTimeout = errors.New("transcriber: cancelled while waiting for a session slot")

// Mode selects the execution strategy for a session.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeParallel Mode = "parallel"
)

// engineKey identifies a cached engine: same mode, model and precision
// means the loaded model can be reused as-is.
type engineKey struct {
	mode Mode
	key  engine.Key
}

type engineEntry struct {
	once    sync.Once
	single  engine.Engine
	workers *pool.Pool
	err     error
}

// Factories builds engines on first use of a model variant.
type Factories struct {
	// Single builds one engine on the primary device.
	Single func(key engine.Key) (engine.Engine, error)
	// Workers builds and starts a worker pool across all devices.
	Workers func(ctx context.Context, key engine.Key) (*pool.Pool, error)
}

// Gate admits at most maxSessions concurrent transcriptions and caches
// loaded engines across sessions. Waiters are served in arrival order.
type Gate struct {
	slots     chan struct{}
	factories Factories
	log       *logrus.Entry

	mu      sync.Mutex
	engines map[engineKey]*engineEntry
}

// NewGate returns a Gate with the given concurrency bound.
func NewGate(maxSessions int, factories Factories, log *logrus.Entry) *Gate {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Gate{
		slots:     make(chan struct{}, maxSessions),
		factories: factories,
		log:       log,
		engines:   make(map[engineKey]*engineEntry),
	}
}

// Handle is an admitted session's claim on a slot and an engine. Exactly
// one of Single or Workers is set, depending on the mode.
type Handle struct {
	Mode    Mode
	Single  engine.Engine
	Workers *pool.Pool

	gate *Gate
	once sync.Once
}

// Release frees the session slot. Safe to call more than once. The engine
// stays cached for the next session.
func (h *Handle) Release() {
	h.once.Do(func() { <-h.gate.slots })
}

// Acquire blocks until a session slot is free, then returns a handle bound
// to the cached engine for the requested variant, loading it on first use.
// Cancellation while waiting returns ErrAdmissionTimeout.
func (g *Gate) Acquire(ctx context.Context, mode Mode, key engine.Key) (*Handle, error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrAdmissionTimeout, ctx.Err())
	}

	k := engineKey{mode: mode, key: key}
	g.mu.Lock()
	entry, ok := g.engines[k]
	if !ok {
		entry = &engineEntry{}
		g.engines[k] = entry
	}
	g.mu.Unlock()

	entry.once.Do(func() {
		g.log.WithFields(logrus.Fields{"mode": mode, "model": key.String()}).
			Info("loading engine")
		switch mode {
		case ModeParallel:
			entry.workers, entry.err = g.factories.Workers(ctx, key)
		default:
			var eng engine.Engine
			eng, entry.err = g.factories.Single(key)
			if entry.err == nil {
				// admitted sessions may share the cached single engine
				entry.single = &lockedEngine{inner: eng}
			}
		}
	})

	if entry.err != nil {
		// drop the failed entry so a later session can retry the load
		g.mu.Lock()
		if g.engines[k] == entry {
			delete(g.engines, k)
		}
		g.mu.Unlock()
		<-g.slots
		return nil, entry.err
	}

	return &Handle{
		Mode:    mode,
		Single:  entry.single,
		Workers: entry.workers,
		gate:    g,
	}, nil
}

// Warm loads an engine variant ahead of the first request.
func (g *Gate) Warm(ctx context.Context, mode Mode, key engine.Key) error {
	h, err := g.Acquire(ctx, mode, key)
	if err != nil {
		return err
	}
	h.Release()
	return nil
}

// Close releases every cached engine.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, entry := range g.engines {
		if entry.single != nil {
			entry.single.Close()
		}
		if entry.workers != nil {
			entry.workers.Close()
		}
		delete(g.engines, k)
	}
}

// lockedEngine serializes Transcribe calls so a cached single engine can
// be shared by concurrently admitted sessions.
type lockedEngine struct {
	mu    sync.Mutex
	inner engine.Engine
}

func (l *lockedEngine) Transcribe(ctx context.Context, audioPath string, p engine.Params) ([]engine.Segment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Transcribe(ctx, audioPath, p)
}

func (l *lockedEngine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Close()
}
