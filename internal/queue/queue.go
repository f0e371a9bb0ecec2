// Package queue implements the ExecutionQueue (spec §3 QueueItem /
// TaskLifecycleEvent, §4.3, §5, §8): a FIFO drained by a single worker,
// so at most one script ever executes at a time on this node.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dagucloud/scriptd/internal/apierr"
	"github.com/dagucloud/scriptd/internal/backoff"
	"github.com/dagucloud/scriptd/internal/eventbus"
	"github.com/dagucloud/scriptd/internal/runtime"
	"github.com/dagucloud/scriptd/internal/script"
)

// Config controls retry and cancellation timing.
type Config struct {
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int
	// RetryDelay is the floor delay between attempts.
	RetryDelay time.Duration
	// Exponential enables exponential growth above RetryDelay.
	Exponential bool
	// StopGrace bounds how long a stop request waits for the runtime to
	// honor cooperative cancellation before the task is abandoned.
	StopGrace time.Duration
	// Capacity bounds the number of pending items (including scheduled
	// retries waiting to rejoin the tail).
	Capacity int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.StopGrace == 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.Capacity == 0 {
		c.Capacity = 1024
	}
	return c
}

// QueueItem is one scheduled invocation of a script (spec §3). Body is
// captured at enqueue time so a later file edit never affects an
// in-flight or retried run.
type QueueItem struct {
	TaskID         string
	ScriptIdentity string
	Body           string
	RetryCount     int
	EnqueuedAt     time.Time

	startedEmitted bool
}

type taskControl struct {
	stopCh     chan struct{} // closed to tell the runtime to stop
	stopSignal chan struct{} // closed by Stop() to wake the attempt loop
	once       sync.Once
}

func newTaskControl() *taskControl {
	return &taskControl{stopCh: make(chan struct{}), stopSignal: make(chan struct{})}
}

func (c *taskControl) requestStop() {
	c.once.Do(func() { close(c.stopSignal) })
}

// Queue is the ExecutionQueue.
type Queue struct {
	cfg         Config
	registry    *script.Registry
	runtime     runtime.Runtime
	bus         *eventbus.Bus
	log         *slog.Logger
	retryPolicy backoff.RetryPolicy

	items chan *QueueItem

	mu       sync.Mutex
	controls map[string]*taskControl

	running        int32
	completedCount int64
	errorCount     int64

	wg sync.WaitGroup
}

// New creates an ExecutionQueue.
func New(cfg Config, registry *script.Registry, rt runtime.Runtime, bus *eventbus.Bus, log *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		cfg:         cfg,
		registry:    registry,
		runtime:     rt,
		bus:         bus,
		log:         log,
		retryPolicy: backoff.NewTaskRetryPolicy(cfg.RetryDelay, cfg.MaxRetries, cfg.Exponential),
		items:       make(chan *QueueItem, cfg.Capacity),
		controls:    make(map[string]*taskControl),
	}
}

// Len reports the number of items currently waiting (including items
// awaiting their retry delay that have already rejoined the channel).
func (q *Queue) Len() int { return len(q.items) }

// TasksRunning reports 1 if the single worker currently has a task in
// flight, 0 otherwise — fed into NodeInfo.Stats for least-load dispatch.
func (q *Queue) TasksRunning() int { return int(atomic.LoadInt32(&q.running)) }

// TasksQueued reports the number of items waiting behind the current one.
func (q *Queue) TasksQueued() int { return q.Len() }

// TasksCompleted reports the lifetime count of tasks that reached a
// terminal outcome (success, exhausted-retry error, or abandoned after a
// stop) on this node.
func (q *Queue) TasksCompleted() int { return int(atomic.LoadInt64(&q.completedCount)) }

// TasksErrored reports the lifetime count of tasks that reached a
// terminal error outcome (abandoned or retries exhausted) on this node.
func (q *Queue) TasksErrored() int { return int(atomic.LoadInt64(&q.errorCount)) }

// Enqueue appends a new task for identity with the given captured body
// and returns its task id.
func (q *Queue) Enqueue(identity, body string) (string, error) {
	item := &QueueItem{
		TaskID:         uuid.NewString(),
		ScriptIdentity: identity,
		Body:           body,
		EnqueuedAt:     time.Now(),
	}

	select {
	case q.items <- item:
	default:
		return "", apierr.Unavailable("execution queue is full", nil)
	}

	q.publish(Queued, item, q.displayName(identity), 0, "")
	return item.TaskID, nil
}

func (q *Queue) displayName(identity string) string {
	if s, ok := q.registry.Get(identity); ok {
		return s.Name()
	}
	return identity
}

// Stop signals the currently running task with the given id to stop
// cooperatively. It returns true if a task with that id was active.
func (q *Queue) Stop(taskID string) bool {
	q.mu.Lock()
	ctl, ok := q.controls[taskID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	ctl.requestStop()
	return true
}

// Run drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			return nil
		case item := <-q.items:
			q.process(ctx, item)
		}
	}
}

func (q *Queue) process(ctx context.Context, item *QueueItem) {
	s, ok := q.registry.Get(item.ScriptIdentity)
	if !ok {
		q.log.Warn("dropping queue item for unknown script", "task", item.TaskID, "script", item.ScriptIdentity)
		return
	}

	if !item.startedEmitted {
		s.SetRunning(true)
		item.startedEmitted = true
		q.publish(Started, item, s.Name(), 0, "")
	}

	atomic.StoreInt32(&q.running, 1)
	start := time.Now()
	err, abandoned := q.runAttempt(ctx, item, s)
	elapsed := time.Since(start)
	atomic.StoreInt32(&q.running, 0)

	if err == nil {
		s.SetRunning(false)
		s.RecordResult(script.ResultSuccess, "")
		atomic.AddInt64(&q.completedCount, 1)
		q.publish(Completed, item, s.Name(), elapsed, "")
		return
	}

	s.RecordResult(script.ResultError, err.Error())

	if abandoned {
		s.SetRunning(false)
		atomic.AddInt64(&q.completedCount, 1)
		atomic.AddInt64(&q.errorCount, 1)
		q.publish(Error, item, s.Name(), elapsed, err.Error())
		return
	}

	if item.RetryCount < q.cfg.MaxRetries {
		delay, perr := q.retryPolicy.ComputeNextInterval(item.RetryCount, 0, err)
		if perr == nil {
			item.RetryCount++
			q.scheduleRetry(ctx, item, delay)
			return
		}
	}

	s.SetRunning(false)
	atomic.AddInt64(&q.completedCount, 1)
	atomic.AddInt64(&q.errorCount, 1)
	q.publish(Error, item, s.Name(), elapsed, err.Error())
}

// scheduleRetry appends item back to the tail of the queue after delay,
// per spec §4.3 ("a fresh QueueItem ... appended to the tail after a
// retry delay"). The task id, and therefore its lifecycle identity, is
// unchanged — only one `started` and one terminal event are ever
// emitted for it (spec §8).
func (q *Queue) scheduleRetry(ctx context.Context, item *QueueItem, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		select {
		case q.items <- item:
		case <-ctx.Done():
		}
	}()
}

// runAttempt invokes the runtime for a single attempt, honoring an
// external Stop() request by closing the runtime's stop channel and
// abandoning the task if the runtime does not return within the
// configured grace period (spec §4.3, §5).
func (q *Queue) runAttempt(ctx context.Context, item *QueueItem, s *script.Script) (err error, abandoned bool) {
	ctl := newTaskControl()
	q.mu.Lock()
	q.controls[item.TaskID] = ctl
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.controls, item.TaskID)
		q.mu.Unlock()
	}()

	result := make(chan error, 1)
	go func() {
		result <- q.runtime.Run(ctx, item.Body, ctl.stopCh)
	}()

	stopSignal := ctl.stopSignal
	var grace <-chan time.Time
	for {
		select {
		case err := <-result:
			return err, false
		case <-stopSignal:
			ctl.once.Do(func() { close(ctl.stopCh) })
			timer := time.NewTimer(q.cfg.StopGrace)
			defer timer.Stop()
			grace = timer.C
			stopSignal = nil // already handled; a nil channel never fires again
		case <-grace:
			return fmt.Errorf("task %s stopped: grace period exceeded", item.TaskID), true
		}
	}
}
