package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"panostitch/internal/config"
	"panostitch/internal/logging"
	"panostitch/internal/storage"
)

// JobType enumerates supported processing categories.
type JobType string

const (
	JobStitch JobType = "stitch"
	JobScan   JobType = "scan"
)

var (
	// ErrQueueFull is returned by Submit when no worker can take the job.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("pipeline stopped")
)

// Job represents a single processing request.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	InputPath string         `json:"input"`
	Output    string         `json:"output"`
	Options   map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
	running   int
	stopped   bool
}

// New creates a new Pipeline with the given concurrency, routing jobs
// through the stitcher configured by cfg.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, cfg *config.Config) *Pipeline {
	return NewWithProcessor(ctx, concurrency, logger, store, newRouter(logger, store, cfg))
}

// NewWithProcessor is New with a caller-supplied Processor.
func NewWithProcessor(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		log:    logger,
		jobs:   make(chan Job, concurrency*2),
		cancel: cancel,
		store:  store,
		subs:   make(map[int]chan Result),
	}

	p.startOnce.Do(func() {
		p.processor = proc
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		_ = p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(optsJSON),
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, "rejected", nil, ErrQueueFull.Error())
		}
		return ErrQueueFull
	}
}

// Run submits job and blocks until its result is published or ctx ends.
func (p *Pipeline) Run(ctx context.Context, job Job) (Result, error) {
	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(job); err != nil {
		return Result{Job: job}, err
	}
	for {
		select {
		case <-ctx.Done():
			return Result{Job: job}, ctx.Err()
		case res, ok := <-results:
			if !ok {
				return Result{Job: job}, ErrStopped
			}
			if res.Job.ID == job.ID {
				return res, nil
			}
		}
	}
}

// Running reports how many jobs are being processed right now.
func (p *Pipeline) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
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
			p.process(ctx, job)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, job Job) {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)

	p.mu.Lock()
	p.running++
	p.mu.Unlock()

	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}
	res := p.processor.Process(ctx, job)
	duration := time.Since(start)

	if res.Error != nil {
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":   job.InputPath,
			"output":  job.Output,
			"options": job.Options,
		})
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, "failed", res.Meta, errString(res.Error))
		}
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, "completed", res.Meta, "")
		}
	}

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	p.broadcast(res)
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
