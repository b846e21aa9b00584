package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	logx "carecue/pkg/logx"
)

var ErrQueueFull = errors.New("reminder queue full")

type request struct {
	name string
	run  func(ctx context.Context) error
}

// Queue runs scheduling requests one at a time on a single worker.
// Submit never blocks; a full queue drops the request.
type Queue struct {
	ch      chan request
	log     logx.Logger
	dropped atomic.Uint64
}

func NewQueue(size int, log logx.Logger) *Queue {
	if size <= 0 {
		size = 16
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{ch: make(chan request, size), log: log}
}

// Submit enqueues fn. It reports false when the queue is full.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	if fn == nil {
		return false
	}
	select {
	case q.ch <- request{name: name, run: fn}:
		return true
	default:
		n := q.dropped.Add(1)
		q.log.Warn("scheduling request dropped", logx.String("name", name), logx.Err(ErrQueueFull), logx.Int64("dropped", int64(n)))
		return false
	}
}

func (q *Queue) Len() int        { return len(q.ch) }
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Run is the worker loop. It returns when ctx is done. Request errors are
// logged and never stop the loop.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-q.ch:
			if err := q.runOne(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
				q.log.Warn("scheduling request failed", logx.String("name", r.name), logx.Err(err))
			} else {
				q.log.Debug("scheduling request done", logx.String("name", r.name))
			}
		}
	}
}

// runOne turns a panicking request into an error so one bad request cannot
// take the worker down.
func (q *Queue) runOne(ctx context.Context, r request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.run(ctx)
}
