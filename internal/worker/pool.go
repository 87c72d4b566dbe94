// Package worker runs image transformations on a fixed number of goroutines.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
	"github.com/ironsheep/image-lifecycle/internal/imaging"
	"github.com/ironsheep/image-lifecycle/internal/logging"
)

// DefaultSize is the number of concurrent transformations.
const DefaultSize = 4

// Job is one transformation request.
type Job struct {
	TaskID  int
	Kind    string
	Input   string
	Output  string
	Options imaging.Options
}

// Result describes a finished job.
type Result struct {
	TaskID  int
	Size    int64         // bytes written to Job.Output
	Elapsed time.Duration // time spent on a worker, excluding the queue wait
}

// Runner performs a transformation and returns the artifact size.
// *imaging.Transformer satisfies it.
type Runner interface {
	Run(kind, input, output string, opts imaging.Options) (int64, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(kind, input, output string, opts imaging.Options) (int64, error)

// Run calls f.
func (f RunnerFunc) Run(kind, input, output string, opts imaging.Options) (int64, error) {
	return f(kind, input, output, opts)
}

// Gauge is the subset of prometheus.Gauge the pool reports busy workers to.
type Gauge interface {
	Inc()
	Dec()
}

type request struct {
	job   Job
	reply chan outcome
}

type outcome struct {
	res Result
	err error
}

// Pool is a fixed-size set of workers fed from an unbuffered channel.
//
// Submit blocks until a worker accepts the job and then until the job
// finishes, so each caller sees its own result while up to Size jobs from
// different callers run in parallel.
type Pool struct {
	size   int
	runner Runner
	logger *logging.Logger
	busy   Gauge

	jobs      chan request
	quit      chan struct{}
	group     errgroup.Group
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a pool. A size of zero or less uses DefaultSize.
func New(size int, runner Runner, logger *logging.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		size:   size,
		runner: runner,
		logger: logger,
		jobs:   make(chan request),
		quit:   make(chan struct{}),
	}
}

// SetBusyGauge attaches a gauge tracking workers currently running a job.
func (p *Pool) SetBusyGauge(g Gauge) { p.busy = g }

// Size returns the worker count.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. It is idempotent.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.size; i++ {
			id := i
			p.group.Go(func() error {
				p.work(id)
				return nil
			})
		}
		p.logger.Debug("worker pool started", zap.Int("workers", p.size))
	})
}

// Stop lets in-flight jobs finish, then stops every worker. Later submits
// fail with ErrPoolClosed.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	_ = p.group.Wait()
	p.logger.Debug("worker pool stopped")
}

// Submit hands job to a free worker and waits for its result.
//
// ctx bounds only the wait for a free worker; a job that has been accepted
// always runs to completion so no partial output is abandoned.
func (p *Pool) Submit(ctx context.Context, job Job) (Result, error) {
	req := request{job: job, reply: make(chan outcome, 1)}

	select {
	case <-p.quit:
		return Result{}, apperrors.New(apperrors.CategoryIO, "worker.submit", apperrors.ErrPoolClosed)
	default:
	}

	select {
	case p.jobs <- req:
	case <-p.quit:
		return Result{}, apperrors.New(apperrors.CategoryIO, "worker.submit", apperrors.ErrPoolClosed)
	case <-ctx.Done():
		return Result{}, apperrors.Wrap(apperrors.CategoryIO, "worker.submit", ctx.Err())
	}

	out := <-req.reply
	return out.res, out.err
}

func (p *Pool) work(id int) {
	log := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-p.quit:
			return
		case req := <-p.jobs:
			req.reply <- p.run(log, req.job)
		}
	}
}

func (p *Pool) run(log *zap.Logger, job Job) outcome {
	if p.busy != nil {
		p.busy.Inc()
		defer p.busy.Dec()
	}

	start := time.Now()
	size, err := p.runner.Run(job.Kind, job.Input, job.Output, job.Options)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("transformation failed",
			zap.Int("task", job.TaskID),
			zap.String("kind", job.Kind),
			zap.Error(err))
		return outcome{res: Result{TaskID: job.TaskID, Elapsed: elapsed}, err: err}
	}

	log.Debug("transformation finished",
		zap.Int("task", job.TaskID),
		zap.String("kind", job.Kind),
		zap.Int64("bytes", size),
		zap.Duration("elapsed", elapsed))
	return outcome{res: Result{TaskID: job.TaskID, Size: size, Elapsed: elapsed}}
}
