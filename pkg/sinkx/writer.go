package sinkx

import (
	"context"
	"sync"

	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/logx"
)

// WriterStats counts what a Writer has persisted.
type WriterStats struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
	Mirror  int `json:"mirror_failures"`
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithMirrors adds stores that receive a copy of every record. A mirror
// failure is logged and counted but never fails the write.
func WithMirrors(stores ...Store) WriterOption {
	return func(w *Writer) {
		for _, s := range stores {
			if s != nil {
				w.mirrors = append(w.mirrors, s)
			}
		}
	}
}

// WithBuffer sets how many records may queue ahead of the writer goroutine.
func WithBuffer(n int) WriterOption {
	return func(w *Writer) {
		if n >= 0 {
			w.buffer = n
		}
	}
}

// WithOnWrite registers a callback run on the writer goroutine after each
// record, with the primary store's error.
func WithOnWrite(fn func(Record, error)) WriterOption {
	return func(w *Writer) { w.onWrite = fn }
}

// Writer serializes every store access through one goroutine.
type Writer struct {
	primary Store
	mirrors []Store
	buffer  int
	onWrite func(Record, error)

	in   chan Record
	done chan struct{}

	// sendMu guards closing in against concurrent sends.
	sendMu sync.RWMutex
	closed bool

	mu       sync.Mutex
	stats    WriterStats
	firstErr error
}

// NewWriter starts the writer goroutine.
func NewWriter(primary Store, opts ...WriterOption) *Writer {
	w := &Writer{primary: primary, buffer: 64}
	for _, opt := range opts {
		opt(w)
	}
	w.in = make(chan Record, w.buffer)
	w.done = make(chan struct{})
	go w.loop()
	return w
}

// Write queues rec. It blocks while the buffer is full.
func (w *Writer) Write(ctx context.Context, rec Record) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return sinkErrors.New(ErrClosed).WithDetail("rollout_index", rec.RolloutIndex)
	}
	select {
	case w.in <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued records, closes every store and returns the first
// primary store error seen.
func (w *Writer) Close() error {
	w.sendMu.Lock()
	if w.closed {
		w.sendMu.Unlock()
		<-w.done
		return w.err()
	}
	w.closed = true
	close(w.in)
	w.sendMu.Unlock()

	<-w.done

	if err := w.primary.Close(); err != nil {
		w.record(err)
	}
	for _, m := range w.mirrors {
		if err := m.Close(); err != nil {
			logx.WithError(err).Warn("closing mirror store")
		}
	}
	return w.err()
}

// Stats returns a snapshot of the writer's counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) loop() {
	defer close(w.done)
	ctx := context.Background()

	for rec := range w.in {
		err := w.primary.Append(ctx, rec)
		w.mu.Lock()
		if err != nil {
			w.stats.Failed++
		} else {
			w.stats.Written++
		}
		w.mu.Unlock()

		if err != nil {
			w.record(err)
			logx.WithFields(logx.Fields{
				"question":      rec.Question,
				"rollout_index": rec.RolloutIndex,
				"lineage_id":    rec.LineageID,
			}).WithError(err).Error("record not persisted")
		}

		if len(w.mirrors) > 0 {
			w.mirror(ctx, rec)
		}
		if w.onWrite != nil {
			w.onWrite(rec, err)
		}
	}
}

func (w *Writer) mirror(ctx context.Context, rec Record) {
	fns := make([]func(context.Context) (struct{}, error), len(w.mirrors))
	for i, m := range w.mirrors {
		fns[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.Append(ctx, rec)
		}
	}
	for _, r := range asyncx.AllSettled(ctx, fns...) {
		if r.OK() {
			continue
		}
		w.mu.Lock()
		w.stats.Mirror++
		w.mu.Unlock()
		logx.WithFields(logx.Fields{
			"rollout_index": rec.RolloutIndex,
		}).WithError(sinkErrors.NewWithCause(ErrMirror, r.Err)).Warn("mirror write failed")
	}
}

func (w *Writer) record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.firstErr == nil {
		w.firstErr = err
	}
}

func (w *Writer) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstErr
}
