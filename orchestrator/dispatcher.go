package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/izavyalov-dev/delta-qa/analysis"
	"github.com/izavyalov-dev/delta-qa/internal/observability"
	"github.com/izavyalov-dev/delta-qa/state"
)

var (
	// ErrQueueFull is returned when no worker slot or buffer space is free.
	ErrQueueFull = errors.New("orchestrator: analysis queue full")
	// ErrDispatcherClosed is returned after Shutdown.
	ErrDispatcherClosed = errors.New("orchestrator: dispatcher closed")
	// ErrTaskAbandoned completes a queued task handle that no local worker
	// settled in time, usually because another replica ran the job.
	ErrTaskAbandoned = errors.New("orchestrator: queued task settled elsewhere")
)

// Dispatcher hands accepted jobs to background execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (*Task, error)
}

// Task is a handle on one dispatched job.
type Task struct {
	job    Job
	done   chan struct{}
	once   sync.Once
	report analysis.AnalysisReport
	err    error
}

func newTask(job Job) *Task {
	return &Task{job: job, done: make(chan struct{})}
}

func (t *Task) Job() Job { return t.job }

// Done is closed when the job has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the job finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (analysis.AnalysisReport, error) {
	select {
	case <-t.done:
		return t.report, t.err
	case <-ctx.Done():
		return analysis.AnalysisReport{}, ctx.Err()
	}
}

func (t *Task) complete(report analysis.AnalysisReport, err error) {
	t.once.Do(func() {
		t.report = report
		t.err = err
		close(t.done)
	})
}

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded buffer.
type WorkerPool struct {
	runner   Runner
	tasks    chan *Task
	logger   *slog.Logger
	workers  int
	inflight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewWorkerPool(runner Runner, workers, queueSize int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = observability.NewLogger("dispatcher")
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		runner:  runner,
		tasks:   make(chan *Task, queueSize),
		logger:  logger,
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.work()
	}
	return pool
}

// Dispatch enqueues the job without blocking.
func (p *WorkerPool) Dispatch(ctx context.Context, job Job) (*Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrDispatcherClosed
	}
	task := newTask(job)
	p.inflight.Add(1)
	select {
	case p.tasks <- task:
		return task, nil
	case <-ctx.Done():
		p.inflight.Add(-1)
		return nil, ctx.Err()
	default:
		p.inflight.Add(-1)
		return nil, ErrQueueFull
	}
}

// IdleWorkers reports how many workers could start a job right now. Buffered
// jobs count as busy.
func (p *WorkerPool) IdleWorkers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0
	}
	idle := p.workers - int(p.inflight.Load())
	if idle < 0 {
		return 0
	}
	return idle
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When ctx
// ends first, running jobs are cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-drained
		return ctx.Err()
	}
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *WorkerPool) execute(task *Task) {
	defer p.inflight.Add(-1)
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("analysis job panicked", "event", "job_panicked", "delivery_id", task.job.DeliveryID, "panic", rec)
			task.complete(analysis.AnalysisReport{}, fmt.Errorf("analysis job panicked: %v", rec))
		}
	}()
	report := p.runner.Run(p.ctx, task.job)
	task.complete(report, nil)
}

// AnalysisQueue is the durable queue backing QueueDispatcher.
type AnalysisQueue interface {
	EnqueueAnalysis(ctx context.Context, deliveryID string, payload json.RawMessage, availableAt time.Time) (int64, error)
	ClaimAnalysis(ctx context.Context, now time.Time, visibilityTimeout time.Duration) (state.QueueItem, error)
	ExtendAnalysis(ctx context.Context, id int64, until time.Time) error
	ReleaseAnalysis(ctx context.Context, id int64) error
	AckAnalysis(ctx context.Context, id int64) error
}

// JobPool runs claimed jobs. *WorkerPool implements it.
type JobPool interface {
	Dispatcher
	IdleWorkers() int
}

const (
	defaultPollInterval = time.Second
	defaultVisibility   = 5 * time.Minute
)

// QueueDispatcherConfig configures a QueueDispatcher. Zero durations take
// defaults; Heartbeat defaults to a third of Visibility.
type QueueDispatcherConfig struct {
	Queue        AnalysisQueue
	Pool         JobPool
	Logger       *slog.Logger
	PollInterval time.Duration
	Visibility   time.Duration
	Heartbeat    time.Duration
	// PendingTTL drops local task handles whose job was settled by another
	// replica. Defaults to Visibility times MaxQueueAttempts.
	PendingTTL time.Duration
	Now        func() time.Time
}

// QueueDispatcher persists jobs in the analysis queue. A poller claims them
// and runs them on the worker pool, so jobs survive restarts.
type QueueDispatcher struct {
	queue        AnalysisQueue
	pool         JobPool
	logger       *slog.Logger
	pollInterval time.Duration
	visibility   time.Duration
	heartbeat    time.Duration
	pendingTTL   time.Duration
	now          func() time.Time

	mu      sync.Mutex
	pending map[string]pendingTask
}

type pendingTask struct {
	task     *Task
	enqueued time.Time
}

func NewQueueDispatcher(cfg QueueDispatcherConfig) *QueueDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("dispatcher.queue")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = defaultVisibility
	}
	if cfg.Heartbeat <= 0 || cfg.Heartbeat >= cfg.Visibility {
		cfg.Heartbeat = cfg.Visibility / 3
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = cfg.Visibility * state.MaxQueueAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &QueueDispatcher{
		queue:        cfg.Queue,
		pool:         cfg.Pool,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		visibility:   cfg.Visibility,
		heartbeat:    cfg.Heartbeat,
		pendingTTL:   cfg.PendingTTL,
		now:          cfg.Now,
		pending:      make(map[string]pendingTask),
	}
}

// Dispatch persists the job. The returned task completes when this process
// runs it.
func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) (*Task, error) {
	if d.queue == nil {
		return nil, errors.New("queue dispatcher requires a queue")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	now := d.now().UTC()
	task := newTask(job)
	d.mu.Lock()
	d.pending[job.DeliveryID] = pendingTask{task: task, enqueued: now}
	d.mu.Unlock()

	if _, err := d.queue.EnqueueAnalysis(ctx, job.DeliveryID, payload, now); err != nil {
		d.takePending(job.DeliveryID)
		return nil, fmt.Errorf("enqueue analysis: %w", err)
	}
	return task, nil
}

// Run polls the queue until ctx ends.
func (d *QueueDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		if err := d.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("queue poll failed", "event", "queue_poll_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll claims available jobs while the pool has idle workers.
func (d *QueueDispatcher) Poll(ctx context.Context) error {
	d.expirePending()
	for d.pool.IdleWorkers() > 0 {
		item, err := d.queue.ClaimAnalysis(ctx, d.now().UTC(), d.visibility)
		if err != nil {
			if errors.Is(err, state.ErrQueueEmpty) {
				return nil
			}
			return err
		}

		var job Job
		if err := json.Unmarshal(item.Payload, &job); err != nil {
			d.logger.Error("queue payload invalid", "event", "queue_payload_invalid", "queue_id", item.ID, "error", err)
			if err := d.queue.AckAnalysis(ctx, item.ID); err != nil {
				return err
			}
			if pending, ok := d.takePending(item.DeliveryID); ok {
				pending.complete(analysis.AnalysisReport{}, fmt.Errorf("queue payload invalid: %w", err))
			}
			continue
		}

		task, err := d.pool.Dispatch(ctx, job)
		if err != nil {
			if releaseErr := d.queue.ReleaseAnalysis(context.WithoutCancel(ctx), item.ID); releaseErr != nil {
				d.logger.Error("queue release failed", "event", "queue_release_failed", "queue_id", item.ID, "error", releaseErr)
			}
			if errors.Is(err, ErrQueueFull) {
				return nil
			}
			return err
		}
		d.logger.Debug("queue job claimed", "event", "queue_job_claimed", "queue_id", item.ID, "delivery_id", job.DeliveryID, "attempt", item.Attempts)
		go d.settle(item.ID, task)
	}
	return nil
}

// settle keeps the claim alive while the job runs, then acks it and completes
// the caller's task handle.
func (d *QueueDispatcher) settle(id int64, task *Task) {
	ticker := time.NewTicker(d.heartbeat)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case <-task.Done():
			waiting = false
		case <-ticker.C:
			until := d.now().UTC().Add(d.visibility)
			if err := d.queue.ExtendAnalysis(context.Background(), id, until); err != nil {
				d.logger.Warn("queue lock extension failed", "event", "queue_extend_failed", "queue_id", id, "error", err)
			}
		}
	}

	report, err := task.Wait(context.Background())
	if ackErr := d.queue.AckAnalysis(context.Background(), id); ackErr != nil {
		d.logger.Error("queue ack failed", "event", "queue_ack_failed", "queue_id", id, "error", ackErr)
	}
	if pending, ok := d.takePending(task.Job().DeliveryID); ok {
		pending.complete(report, err)
	}
}

func (d *QueueDispatcher) takePending(deliveryID string) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pending, ok := d.pending[deliveryID]
	delete(d.pending, deliveryID)
	return pending.task, ok
}

// expirePending completes handles for jobs this process never claimed.
func (d *QueueDispatcher) expirePending() {
	cutoff := d.now().UTC().Add(-d.pendingTTL)
	var expired []*Task
	d.mu.Lock()
	for deliveryID, pending := range d.pending {
		if pending.enqueued.Before(cutoff) {
			expired = append(expired, pending.task)
			delete(d.pending, deliveryID)
		}
	}
	d.mu.Unlock()
	for _, task := range expired {
		task.complete(analysis.AnalysisReport{}, ErrTaskAbandoned)
	}
}

// PendingCount reports task handles still waiting on a queued job.
func (d *QueueDispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

var (
	_ Dispatcher = (*WorkerPool)(nil)
	_ Dispatcher = (*QueueDispatcher)(nil)
	_ JobPool    = (*WorkerPool)(nil)
)
