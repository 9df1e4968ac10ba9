package asyncx

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds in-flight work per kind ("model", "search", "browse", ...).
// Kinds are fixed at construction; acquiring an unknown kind is unbounded.
// A nil *Limiter admits everything.
type Limiter struct {
	slots    map[string]*semaphore.Weighted
	rates    map[string]*rate.Limiter
	inflight map[string]*atomic.Int64
	peak     map[string]*atomic.Int64
	observer func(kind string, inflight int64)
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithRate adds a token-bucket rate to kind on top of its concurrency slot.
func WithRate(kind string, perSecond float64, burst int) LimiterOption {
	return func(l *Limiter) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		l.rates[kind] = rate.NewLimiter(rate.Limit(perSecond), burst)
		l.track(kind)
	}
}

// WithObserver is called after every acquire and release with the new
// in-flight count for the kind.
func WithObserver(fn func(kind string, inflight int64)) LimiterOption {
	return func(l *Limiter) {
		l.observer = fn
	}
}

// NewLimiter builds a limiter from per-kind concurrency limits.
// Non-positive limits leave that kind unbounded but still counted.
func NewLimiter(limits map[string]int, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		slots:    make(map[string]*semaphore.Weighted, len(limits)),
		rates:    make(map[string]*rate.Limiter),
		inflight: make(map[string]*atomic.Int64, len(limits)),
		peak:     make(map[string]*atomic.Int64, len(limits)),
	}
	for kind, n := range limits {
		if n > 0 {
			l.slots[kind] = semaphore.NewWeighted(int64(n))
		}
		l.track(kind)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) track(kind string) {
	if _, ok := l.inflight[kind]; !ok {
		l.inflight[kind] = new(atomic.Int64)
		l.peak[kind] = new(atomic.Int64)
	}
}

// Acquire blocks until kind has a free slot (and rate token), or ctx is
// done. The returned release func must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context, kind string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}

	if r, ok := l.rates[kind]; ok {
		if err := r.Wait(ctx); err != nil {
			return nil, err
		}
	}

	sem := l.slots[kind]
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	counter := l.inflight[kind]
	if counter != nil {
		n := counter.Add(1)
		l.bumpPeak(kind, n)
		l.notify(kind, n)
	}

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		if counter != nil {
			l.notify(kind, counter.Add(-1))
		}
		if sem != nil {
			sem.Release(1)
		}
	}, nil
}

func (l *Limiter) bumpPeak(kind string, n int64) {
	p := l.peak[kind]
	for {
		cur := p.Load()
		if n <= cur || p.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (l *Limiter) notify(kind string, n int64) {
	if l.observer != nil {
		l.observer(kind, n)
	}
}

// InFlight returns the current number of holders for kind.
func (l *Limiter) InFlight(kind string) int64 {
	if l == nil {
		return 0
	}
	if c, ok := l.inflight[kind]; ok {
		return c.Load()
	}
	return 0
}

// Peak returns the highest in-flight count observed for kind.
func (l *Limiter) Peak(kind string) int64 {
	if l == nil {
		return 0
	}
	if p, ok := l.peak[kind]; ok {
		return p.Load()
	}
	return 0
}
