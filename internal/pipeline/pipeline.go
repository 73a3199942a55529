package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"panokit/internal/config"
	"panokit/internal/logging"
	"panokit/internal/storage"
)

// JobType enumerates supported processing categories.
type JobType string

const (
	JobStitch     JobType = "stitch"
	JobFindPoints JobType = "findpoints"
	JobOptimalROI JobType = "optimal-roi"
	JobInfo       JobType = "info"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("pipeline stopped")
)

// Job is one request against a project file.
type Job struct {
	ID        string
	Type      JobType
	InputPath string
	Output    string
	Options   map[string]any
}

// Result is what a worker reports for a Job. Elapsed covers Process only.
type Result struct {
	Job     Job
	Error   error
	Meta    map[string]any
	Elapsed time.Duration
}

// Processor runs a single job.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline runs jobs on a fixed set of workers and fans results out to
// subscribers. Runs are recorded in the store when one is configured.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	store     *storage.Store
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once

	mu      sync.Mutex
	stopped bool
	subs    map[int]chan Result
	nextSub int
}

// New starts a pipeline running the built-in panorama jobs.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	return NewWithProcessor(ctx, concurrency, logger, store, newRouter(logger, store, cfg))
}

// NewWithProcessor starts concurrency workers around proc. The queue holds
// two jobs per worker.
func NewWithProcessor(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		store:     store,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		subs:      make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit queues job without blocking.
func (p *Pipeline) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}

	p.recordQueued(job)
	select {
	case p.jobs <- job:
		return nil
	default:
		if p.store != nil {
			_ = p.store.RecordRunResult(job.ID, "rejected", nil, ErrQueueFull.Error())
		}
		return ErrQueueFull
	}
}

// Pending reports how many jobs wait for a worker.
func (p *Pipeline) Pending() int {
	return len(p.jobs)
}

// Stop cancels running jobs, waits for the workers and closes every
// subscription.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) recordQueued(job Job) {
	if p.store == nil {
		return
	}
	opts, _ := json.Marshal(job.Options)
	err := p.store.RecordRunQueued(storage.RunRecord{
		ID:          job.ID,
		JobType:     string(job.Type),
		Status:      "queued",
		ProjectPath: job.InputPath,
		OutputPath:  job.Output,
		OptionsJSON: string(opts),
	})
	if err != nil {
		p.log.Warn("record queued job", "job", job.ID, "error", err)
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.broadcast(p.run(ctx, id, job))
		}
	}
}

func (p *Pipeline) run(ctx context.Context, worker int, job Job) (res Result) {
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)
	if p.store != nil {
		_ = p.store.RecordRunStart(job.ID)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Job: job, Error: fmt.Errorf("job %s panicked: %v", job.ID, r)}
		}
		res.Elapsed = time.Since(start)
		p.finish(worker, res)
	}()
	res = p.processor.Process(ctx, job)
	res.Job = job
	return res
}

func (p *Pipeline) finish(worker int, res Result) {
	job := res.Job
	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, res.Elapsed, res.Error, map[string]any{
			"project": job.InputPath,
			"worker":  worker,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, res.Elapsed, res.Meta)
	}
	if p.store == nil {
		return
	}
	errMsg := ""
	if res.Error != nil {
		errMsg = res.Error.Error()
	}
	if err := p.store.RecordRunResult(job.ID, status, res.Meta, errMsg); err != nil {
		p.log.Warn("record job result", "job", job.ID, "error", err)
	}
}

// Subscribe returns a channel receiving every later result and a function
// that cancels the subscription. Slow subscribers miss results rather than
// stall the workers.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan Result, 8)
	if p.stopped {
		close(ch)
		return ch, func() {}
	}
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
	}
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("subscriber lagging, result dropped", "subscriber", id, "job", res.Job.ID)
		}
	}
}
