// Package cmdqueue serializes every access to the serial link through a
// single worker goroutine.
//
// Tasks run in submission order, one at a time, with a minimum spacing
// between the end of a task and the start of the next one. A task running on
// the worker receives a context marked with OnWorker; code that needs another
// serial operation from there must use Do, which runs inline instead of
// waiting on its own worker.
package cmdqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BuXianWanYin/fish-dish-iot/internal/metrics"
)

var (
	ErrClosed    = errors.New("command queue closed")
	ErrReentrant = errors.New("SubmitSync called from the queue worker")
	ErrTaskPanic = errors.New("command task panicked")
)

const DefaultSpacing = 500 * time.Millisecond

// Task is a unit of serial work. ctx is marked as running on the worker.
type Task func(ctx context.Context) (any, error)

type result struct {
	val any
	err error
}

type job struct {
	id   string
	name string
	fn   Task
	done chan result // nil per i task fire-and-forget
}

type workerKey struct{}

// OnWorker reports whether ctx belongs to a task executing on a queue worker.
func OnWorker(ctx context.Context) bool {
	_, ok := ctx.Value(workerKey{}).(*Queue)
	return ok
}

func onWorkerOf(ctx context.Context, q *Queue) bool {
	w, ok := ctx.Value(workerKey{}).(*Queue)
	return ok && w == q
}

type Queue struct {
	spacing time.Duration

	mu      sync.Mutex
	pending []*job
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	started bool
}

type Option func(*Queue)

// WithSpacing sets the minimum gap between two tasks.
func WithSpacing(d time.Duration) Option { return func(q *Queue) { q.spacing = d } }

func New(opts ...Option) *Queue {
	q := &Queue{
		spacing: DefaultSpacing,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the worker. It stops when ctx is cancelled or Close is called;
// tasks still pending at that point are dropped and sync callers get ErrClosed.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	go q.run(ctx)
}

// Close stops accepting tasks and waits for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
	started := q.started
	q.mu.Unlock()
	if started {
		<-q.stopped
	}
}

// Len is the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Submit enqueues a fire-and-forget task.
func (q *Queue) Submit(name string, fn Task) error {
	_, err := q.enqueue(name, fn, false)
	return err
}

// SubmitSync enqueues fn and blocks until the worker ran it. It must not be
// called from a task on this queue; use Do there.
func (q *Queue) SubmitSync(ctx context.Context, name string, fn Task) (any, error) {
	if onWorkerOf(ctx, q) {
		return nil, ErrReentrant
	}
	j, err := q.enqueue(name, fn, true)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-j.done:
		return r.val, r.err
	case <-q.stopped:
		// il worker potrebbe aver completato proprio ora
		select {
		case r := <-j.done:
			return r.val, r.err
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs fn inline when ctx is already on this queue's worker, otherwise it
// behaves like SubmitSync.
func (q *Queue) Do(ctx context.Context, name string, fn Task) (any, error) {
	if onWorkerOf(ctx, q) {
		return q.exec(ctx, &job{id: "inline", name: name, fn: fn})
	}
	return q.SubmitSync(ctx, name, fn)
}

func (q *Queue) enqueue(name string, fn Task, wait bool) (*job, error) {
	j := &job{id: uuid.NewString(), name: name, fn: fn}
	if wait {
		j.done = make(chan result, 1)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	q.pending = append(q.pending, j)
	metrics.QueueDepth.Set(float64(len(q.pending)))
	q.signal()
	return j, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest job, waiting for one if needed.
func (q *Queue) next(ctx context.Context) (*job, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			metrics.QueueDepth.Set(float64(len(q.pending)))
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.stopped)
	defer func() {
		q.mu.Lock()
		q.closed = true
		dropped := len(q.pending)
		q.pending = nil
		q.mu.Unlock()
		metrics.QueueDepth.Set(0)
		if dropped > 0 {
			log.Printf("queue: stopped with %d pending task(s) dropped", dropped)
		}
	}()

	wctx := context.WithValue(ctx, workerKey{}, q)
	var lastEnd time.Time
	for {
		j, ok := q.next(ctx)
		if !ok {
			return
		}
		if !lastEnd.IsZero() {
			if wait := q.spacing - time.Since(lastEnd); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					q.finish(j, nil, ErrClosed)
					return
				case <-t.C:
				}
			}
		}
		val, err := q.exec(wctx, j)
		lastEnd = time.Now()
		q.finish(j, val, err)
	}
}

func (q *Queue) finish(j *job, val any, err error) {
	if j.done != nil {
		j.done <- result{val: val, err: err}
	}
}

// exec runs one task, turning a panic into ErrTaskPanic.
func (q *Queue) exec(ctx context.Context, j *job) (val any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: ERROR task %s (%s) panicked: %v\n%s", j.name, j.id, r, debug.Stack())
			val, err = nil, fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
		metrics.QueueTaskSeconds.Observe(time.Since(start).Seconds())
		switch {
		case errors.Is(err, ErrTaskPanic):
			metrics.QueueTasks.WithLabelValues("panic").Inc()
		case err != nil:
			metrics.QueueTasks.WithLabelValues("error").Inc()
		default:
			metrics.QueueTasks.WithLabelValues("ok").Inc()
		}
	}()
	val, err = j.fn(ctx)
	if err != nil && j.done == nil {
		log.Printf("queue: task %s (%s) failed: %v", j.name, j.id, err)
	}
	return val, err
}
