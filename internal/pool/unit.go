// Package pool runs transcription work units on persistent workers, one
// per compute device, and merges their output in time order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/audio"
	"github.com/hungshinlee/whisper-for-subs/internal/engine"
	"github.com/hungshinlee/whisper-for-subs/internal/partition"
)

var (
	// ErrWorkerSpawn is returned when a worker cannot load its model.
	ErrWorkerSpawn = errors.New("pool: worker failed to load model")
	// ErrDeviceExhausted marks an engine failure classified as device
	// memory exhaustion.
	ErrDeviceExhausted = errors.New("pool: device memory exhausted")
	// ErrUnitTimeout marks a unit that ran past its processing budget.
	ErrUnitTimeout = errors.New("pool: unit exceeded processing budget")
)

// UnitStatus describes the outcome of one work unit.
type UnitStatus string

const (
	UnitOK      UnitStatus = "ok"
	UnitSkipped UnitStatus = "skipped"
	UnitFailed  UnitStatus = "failed"
)

// UnitResult is the outcome of running one unit on one worker. Segment
// times are absolute, already rebased by the unit start offset.
type UnitResult struct {
	UnitID   int
	WorkerID int
	Status   UnitStatus
	Segments []engine.Segment
	Err      error
	Fatal    bool
	Elapsed  time.Duration

	// Drained is non-nil when the unit ran past its budget with the
	// engine call still in flight. It is closed once that call returns
	// and the scratch file is gone. The engine must not take another
	// call, and must not be closed, before then.
	Drained <-chan struct{}
}

// minUnitDuration is the shortest unit worth sending to the model, in
// seconds. Anything below it produces a skipped result.
const minUnitDuration = 0.1

// unitBudget is the wall-clock allowance for one unit: eight times its
// duration, floored at 30 seconds for very short units. A variable so
// tests can shrink the allowance.
var unitBudget = func(duration float64) time.Duration {
	budget := time.Duration(8 * duration * float64(time.Second))
	if budget < 30*time.Second {
		budget = 30 * time.Second
	}
	return budget
}

// RunUnit executes the per-unit contract against an engine: write the unit
// samples to a scratch WAV in workdir, transcribe within the budget, rebase
// segment times by the unit start, and clean up the scratch file. Both the
// parallel workers and the single-engine path go through here.
func RunUnit(ctx context.Context, eng engine.Engine, unit partition.Unit, params engine.Params, workdir string, workerID int, log *logrus.Entry) (res UnitResult) {
	res = UnitResult{UnitID: unit.ID, WorkerID: workerID}
	started := time.Now()
	defer func() { res.Elapsed = time.Since(started) }()

	if unit.Duration() < minUnitDuration {
		log.WithField("unit_id", unit.ID).Debug("unit below minimum duration, skipping")
		res.Status = UnitSkipped
		return res
	}

	wavPath := filepath.Join(workdir, fmt.Sprintf("unit_%04d_w%d.wav", unit.ID, workerID))
	if err := audio.WriteWAV(wavPath, unit.Samples); err != nil {
		res.Status = UnitFailed
		res.Err = fmt.Errorf("failed to write unit audio: %w", err)
		return res
	}

	budget := unitBudget(unit.Duration())
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		segments []engine.Segment
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		segments, err := eng.Transcribe(tctx, wavPath, params)
		ch <- outcome{segments, err}
	}()

	select {
	case <-tctx.Done():
		res.Status = UnitFailed
		if err := ctx.Err(); err != nil {
			res.Err = err
		} else {
			res.Err = fmt.Errorf("%w: unit %d ran past %s", ErrUnitTimeout, unit.ID, budget)
		}
		// The abandoned call may still be reading the scratch file and
		// holds the engine; hand both to a drain watcher.
		drained := make(chan struct{})
		res.Drained = drained
		go func() {
			<-ch
			os.Remove(wavPath)
			close(drained)
		}()
		return res
	case out := <-ch:
		os.Remove(wavPath)
		if out.err != nil {
			res.Status = UnitFailed
			res.Err = classifyEngineError(out.err)
			return res
		}
		for i := range out.segments {
			out.segments[i].Start += unit.Start
			out.segments[i].End += unit.Start
		}
		res.Status = UnitOK
		res.Segments = out.segments
		return res
	}
}

// classifyEngineError tags allocation failures so the pool can recycle the
// worker instead of burning the unit retry.
func classifyEngineError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"out of memory", "cuda error", "cudamalloc", "failed to allocate", "oom"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrDeviceExhausted, err)
		}
	}
	return err
}

// IsDeviceExhaustion reports whether an error was classified as device
// memory exhaustion.
func IsDeviceExhaustion(err error) bool {
	return errors.Is(err, ErrDeviceExhausted)
}
