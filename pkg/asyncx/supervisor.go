package asyncx

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Abraxas-365/rollout/pkg/logx"
	"golang.org/x/sync/semaphore"
)

// Task is a unit of work run by a Supervisor.
type Task[T any] func(ctx context.Context) (T, error)

// Completion is one finished task, delivered in completion order.
type Completion[T any] struct {
	ID       string
	Value    T
	Err      error
	Duration time.Duration
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	// Workers bounds concurrently running tasks (1 when unset).
	Workers int

	// TaskTimeout is the wall-clock budget of a task measured from the
	// moment it starts running. 0 disables.
	TaskTimeout time.Duration

	// IdleTimeout cancels every pending task when no task has completed
	// for this long while work is outstanding. 0 disables.
	IdleTimeout time.Duration
}

// SupervisorStats is a point-in-time snapshot of a Supervisor.
type SupervisorStats struct {
	Submitted int
	Completed int
	Pending   int
	Abandoned int
	Stalled   bool
}

// Supervisor runs submitted tasks on a bounded pool and streams their
// completions in the order they finish. Submit never blocks, so a consumer
// may submit follow-up work while draining Results.
//
// The stream closes when Close was called and every task finished, when
// Stop is called, when the parent context ends, or when the idle watchdog
// fires. Shutdown never waits on cancelled tasks: completions that arrive
// after a stop are discarded.
type Supervisor[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   SupervisorOptions
	sem    *semaphore.Weighted
	out    chan Completion[T]
	wake   chan struct{}

	mu           sync.Mutex
	ready        []Completion[T]
	pending      int
	submitted    int
	completed    int
	abandoned    int
	closed       bool
	stopped      bool
	stalled      bool
	lastProgress time.Time
}

// NewSupervisor starts a supervisor bound to ctx.
func NewSupervisor[T any](ctx context.Context, opts SupervisorOptions) *Supervisor[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Supervisor[T]{
		ctx:          ctx,
		cancel:       cancel,
		opts:         opts,
		sem:          semaphore.NewWeighted(int64(opts.Workers)),
		out:          make(chan Completion[T]),
		wake:         make(chan struct{}, 1),
		lastProgress: time.Now(),
	}
	go s.pump()
	return s
}

// Results is the completion-ordered stream.
func (s *Supervisor[T]) Results() <-chan Completion[T] {
	return s.out
}

// Submit schedules fn under id. It fails once the supervisor is closed or
// stopped.
func (s *Supervisor[T]) Submit(id string, fn Task[T]) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return asyncxErrors.New(ErrSupervisorStopped).WithDetail("task", id)
	}
	if s.closed {
		s.mu.Unlock()
		return asyncxErrors.New(ErrSupervisorClosed).WithDetail("task", id)
	}
	if s.pending == 0 {
		s.lastProgress = time.Now()
	}
	s.pending++
	s.submitted++
	s.mu.Unlock()

	go s.run(id, fn)
	return nil
}

// Close stops accepting tasks; Results closes once the pending ones finish.
func (s *Supervisor[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// Stop cancels all pending tasks and closes Results without waiting for them.
func (s *Supervisor[T]) Stop() {
	s.halt(false)
}

// Stats returns a snapshot of the supervisor's counters.
func (s *Supervisor[T]) Stats() SupervisorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SupervisorStats{
		Submitted: s.submitted,
		Completed: s.completed,
		Pending:   s.pending,
		Abandoned: s.abandoned,
		Stalled:   s.stalled,
	}
}

func (s *Supervisor[T]) run(id string, fn Task[T]) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.complete(Completion[T]{ID: id, Err: err})
		return
	}
	defer s.sem.Release(1)

	start := time.Now()
	value, err := s.invoke(id, fn)
	s.complete(Completion[T]{ID: id, Value: value, Err: err, Duration: time.Since(start)})
}

func (s *Supervisor[T]) invoke(id string, fn Task[T]) (T, error) {
	guarded := func(ctx context.Context) (v T, err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				err = asyncxErrors.NewWithCause(ErrTaskPanic, fmt.Errorf("%v", r)).
					WithDetail("task", id).
					WithDetail("panic", fmt.Sprint(r)).
					WithDetail("stack", stack)
				logx.WithFields(logx.Fields{
					"task":  id,
					"panic": fmt.Sprint(r),
				}).Errorf("task panicked\n%s", stack)
			}
		}()
		return fn(ctx)
	}

	if s.opts.TaskTimeout > 0 {
		return WithTimeout(s.ctx, s.opts.TaskTimeout, guarded)
	}
	return guarded(s.ctx)
}

func (s *Supervisor[T]) complete(c Completion[T]) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending--
	s.completed++
	s.lastProgress = time.Now()
	s.ready = append(s.ready, c)
	s.mu.Unlock()
	s.signal()
}

func (s *Supervisor[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// halt marks the supervisor stopped and cancels outstanding work. It
// reports whether this call performed the stop. A stalled halt re-checks
// the idle condition under the lock and backs off if a task completed
// since the watchdog looked.
func (s *Supervisor[T]) halt(stalled bool) bool {
	s.mu.Lock()
	if s.stopped || (stalled && !s.idleLocked()) {
		s.mu.Unlock()
		return false
	}
	s.stopped = true
	s.stalled = stalled
	s.abandoned = s.pending
	abandoned := s.pending
	completed := s.completed
	s.mu.Unlock()

	s.cancel()

	if stalled {
		logx.WithFields(logx.Fields{
			"idle_timeout": s.opts.IdleTimeout.String(),
			"abandoned":    abandoned,
			"completed":    completed,
		}).Warn("no task completed within the idle window, cancelling pending work")
	}
	return true
}

// idleLocked reports whether work is outstanding, nothing is waiting to be
// delivered and no task has completed within the idle window. s.mu must be
// held.
func (s *Supervisor[T]) idleLocked() bool {
	return len(s.ready) == 0 && s.pending > 0 && time.Since(s.lastProgress) >= s.opts.IdleTimeout
}

func (s *Supervisor[T]) checkEvery() time.Duration {
	d := s.opts.IdleTimeout / 4
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	if d > time.Second {
		d = time.Second
	}
	return d
}

// pump owns the output channel.
func (s *Supervisor[T]) pump() {
	defer close(s.out)
	defer s.cancel()

	var tick <-chan time.Time
	if s.opts.IdleTimeout > 0 {
		ticker := time.NewTicker(s.checkEvery())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.ready) > 0 {
			c := s.ready[0]
			s.ready[0] = Completion[T]{}
			s.ready = s.ready[1:]
			s.mu.Unlock()

			select {
			case s.out <- c:
				continue
			case <-s.ctx.Done():
				s.halt(false)
				return
			}
		}
		if s.closed && s.pending == 0 {
			s.mu.Unlock()
			return
		}
		idle := tick != nil && s.idleLocked()
		s.mu.Unlock()

		if idle {
			if s.halt(true) {
				return
			}
			continue
		}

		select {
		case <-s.wake:
		case <-tick:
		case <-s.ctx.Done():
			s.halt(false)
			return
		}
	}
}
