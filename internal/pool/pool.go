package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hungshinlee/whisper-for-subs/internal/engine"
	"github.com/hungshinlee/whisper-for-subs/internal/partition"
)

// Stats summarizes one pool run.
type Stats struct {
	Units    int
	Skipped  int
	Failed   int
	Retries  int
	Warnings int
	Elapsed  time.Duration
}

// job is one unit of work queued to the workers.
type job struct {
	unit        partition.Unit
	params      engine.Params
	workdir     string
	attempt     int
	avoidWorker int // worker id that already failed this unit, -1 for none
	budget      *respawnBudget
	results     chan<- UnitResult
}

// respawnBudget is one run's allowance of a single engine respawn per
// device after memory exhaustion. Each Transcribe call owns its own
// budget, so concurrent runs on a shared pool cannot refresh each other.
type respawnBudget struct {
	mu    sync.Mutex
	spent map[int]bool
}

func newRespawnBudget() *respawnBudget {
	return &respawnBudget{spent: make(map[int]bool)}
}

// take consumes the respawn allowance for a device. Returns false when it
// was already spent during this run.
func (b *respawnBudget) take(device int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spent[device] {
		return false
	}
	b.spent[device] = true
	return true
}

// Pool owns one persistent worker per compute device. Each worker loads
// its engine once at start and keeps it resident across sessions; sessions
// submit units through Transcribe and block until the merged result is
// ready.
type Pool struct {
	devices []int
	factory engine.Factory
	log     *logrus.Entry

	jobs chan *job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New builds a pool for the given device list. Call Start before
// Transcribe.
func New(devices []int, factory engine.Factory, log *logrus.Entry) *Pool {
	if len(devices) == 0 {
		devices = []int{0}
	}
	return &Pool{
		devices: devices,
		factory: factory,
		log:     log,
		jobs:    make(chan *job, 256),
		quit:    make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.devices)
}

// Start spawns one worker per device and blocks until every worker has
// loaded its model. A worker that fails to load retries once; if any
// worker still fails the pool shuts down and no work is accepted.
func (p *Pool) Start(ctx context.Context) error {
	ready := make(chan error, len(p.devices))
	for i, device := range p.devices {
		p.wg.Add(1)
		go p.runWorker(ctx, i, device, ready)
	}

	var firstErr error
	for range p.devices {
		if err := <-ready; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		p.Close()
		return firstErr
	}
	p.log.WithField("workers", len(p.devices)).Info("worker pool ready")
	return nil
}

// Close stops all workers and releases their engines.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Pool) spawnEngine(device int, log *logrus.Entry) (engine.Engine, error) {
	eng, err := p.factory(device)
	if err != nil {
		log.WithError(err).Warn("engine load failed, retrying once")
		eng, err = p.factory(device)
		if err != nil {
			return nil, fmt.Errorf("%w: device %d: %v", ErrWorkerSpawn, device, err)
		}
	}
	return eng, nil
}

func (p *Pool) runWorker(ctx context.Context, workerID, device int, ready chan<- error) {
	defer p.wg.Done()
	log := p.log.WithFields(logrus.Fields{"worker_id": workerID, "device_id": device})

	eng, err := p.spawnEngine(device, log)
	ready <- err
	if err != nil {
		return
	}
	// eng is rebound on respawn, so the defer must read it late; it is
	// nil when a respawn failed on the way out.
	defer func() {
		if eng != nil {
			eng.Close()
		}
	}()
	log.Info("worker ready")

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case j := <-p.jobs:
			if j.avoidWorker == workerID && len(p.devices) > 1 {
				// Hand the retry to a different worker when the queue
				// has room; otherwise run it here rather than stall.
				select {
				case p.jobs <- j:
					time.Sleep(10 * time.Millisecond)
					continue
				default:
				}
			}

			res := RunUnit(ctx, eng, j.unit, j.params, j.workdir, workerID, log)
			if res.Drained != nil {
				// The abandoned call still occupies the engine. Close
				// it once the call returns and continue on a fresh one.
				log.WithError(res.Err).WithField("unit_id", j.unit.ID).
					Warn("unit ran past its budget, replacing suspect engine")
				old, drained := eng, res.Drained
				go func() {
					<-drained
					old.Close()
				}()
				eng, err = p.spawnEngine(device, log)
				if err != nil {
					res.Fatal = true
					res.Err = fmt.Errorf("failed to respawn worker: %w", err)
					j.results <- res
					return
				}
				log.Info("worker respawned")
				j.results <- res
				continue
			}
			if IsDeviceExhaustion(res.Err) {
				log.WithError(res.Err).WithField("unit_id", j.unit.ID).
					Warn("device exhaustion, recycling worker")
				eng.Close()
				if !j.budget.take(device) {
					res.Fatal = true
					res.Err = fmt.Errorf("%w: device %d exhausted twice, reduce parallelism or use a smaller model", ErrDeviceExhausted, device)
					j.results <- res
					return
				}
				eng, err = p.spawnEngine(device, log)
				if err != nil {
					res.Fatal = true
					res.Err = fmt.Errorf("failed to respawn worker: %w", err)
					j.results <- res
					return
				}
				log.Info("worker respawned")
			}
			j.results <- res
		}
	}
}

// Transcribe runs all units through the workers and returns the segments
// merged in unit order. Units are dispatched in ascending id order; a
// failed unit is requeued once toward a different worker, and a unit that
// fails both attempts contributes nothing but a warning. A fatal worker
// error aborts the whole run.
func (p *Pool) Transcribe(ctx context.Context, units []partition.Unit, params engine.Params, workdir string) ([]engine.Segment, Stats, error) {
	started := time.Now()
	stats := Stats{Units: len(units)}
	if len(units) == 0 {
		return nil, stats, nil
	}

	budget := newRespawnBudget()
	results := make(chan UnitResult, len(units)+len(p.devices))

	enqueueCtx, cancelEnqueue := context.WithCancel(ctx)
	defer cancelEnqueue()
	go func() {
		for _, u := range units {
			j := &job{unit: u, params: params, workdir: workdir, avoidWorker: -1, budget: budget, results: results}
			select {
			case p.jobs <- j:
			case <-enqueueCtx.Done():
				return
			case <-p.quit:
				return
			}
		}
	}()

	byUnit := make(map[int]partition.Unit, len(units))
	for _, u := range units {
		byUnit[u.ID] = u
	}
	attempts := make(map[int]int)
	done := make(map[int]UnitResult, len(units))

	for len(done) < len(units) {
		select {
		case <-ctx.Done():
			return nil, stats, ctx.Err()
		case res := <-results:
			if res.Fatal {
				stats.Elapsed = time.Since(started)
				return nil, stats, res.Err
			}
			if res.Err != nil {
				retriable := attempts[res.UnitID] < 1 || IsDeviceExhaustion(res.Err)
				if retriable && attempts[res.UnitID] < len(p.devices)+1 {
					attempts[res.UnitID]++
					stats.Retries++
					p.log.WithFields(logrus.Fields{
						"unit_id":   res.UnitID,
						"worker_id": res.WorkerID,
						"attempt":   attempts[res.UnitID],
					}).WithError(res.Err).Warn("unit failed, requeueing")

					j := &job{
						unit:        byUnit[res.UnitID],
						params:      params,
						workdir:     workdir,
						attempt:     attempts[res.UnitID],
						avoidWorker: res.WorkerID,
						budget:      budget,
						results:     results,
					}
					go func() {
						select {
						case p.jobs <- j:
						case <-ctx.Done():
						case <-p.quit:
						}
					}()
					continue
				}

				// Both attempts failed: the unit yields no text
				stats.Warnings++
				stats.Failed++
				p.log.WithField("unit_id", res.UnitID).WithError(res.Err).
					Warn("unit failed after retry, emitting empty result")
				res.Segments = nil
			}
			if res.Status == UnitSkipped {
				stats.Skipped++
			}
			done[res.UnitID] = res
		}
	}

	stats.Elapsed = time.Since(started)
	return p.merge(units, done), stats, nil
}

// merge concatenates unit results in ascending unit id order and checks
// cross-unit time monotonicity. Inversions are logged, never repaired.
func (p *Pool) merge(units []partition.Unit, done map[int]UnitResult) []engine.Segment {
	var merged []engine.Segment
	prevEnd := -1.0
	for _, u := range units {
		res, ok := done[u.ID]
		if !ok {
			continue
		}
		for _, seg := range res.Segments {
			if prevEnd >= 0 && seg.Start < prevEnd {
				p.log.WithFields(logrus.Fields{
					"unit_id":  u.ID,
					"start":    seg.Start,
					"prev_end": prevEnd,
				}).Warn("timestamp inversion across unit boundary")
			}
			merged = append(merged, seg)
			prevEnd = seg.End
		}
	}
	return merged
}
