// Package rolloutx drives a sampling run end to end.
//
// The Engine feeds initial rollouts of every question to one Supervisor,
// persists each finished trajectory through the sink Writer, and once all
// rollouts of a question's round are in, asks the branch Scheduler for the
// next round. Questions advance independently, so a slow question never
// holds back the others.
package rolloutx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/branchx"
	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/logx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
)

// Question is one dataset item.
type Question struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TrajectoryRunner runs a single task. *agentx.Runner satisfies it.
type TrajectoryRunner interface {
	Run(ctx context.Context, task agentx.Task) (*agentx.Result, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds concurrently running trajectories.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.opts.Workers = n }
}

// WithTaskTimeout is the supervisor's per-task wall clock. It should exceed
// the runner's own timeout so the runner can record a timeout termination.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) { e.opts.TaskTimeout = d }
}

// WithIdleTimeout enables the idle watchdog.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.opts.IdleTimeout = d }
}

// WithResume skips slots the index already holds a finished record for and
// reuses those records as branch sources.
func WithResume(ix *sinkx.Index) Option {
	return func(e *Engine) { e.resume = ix }
}

// Engine runs every question of a dataset through the branch schedule.
type Engine struct {
	runner    TrajectoryRunner
	scheduler *branchx.Scheduler
	writer    *sinkx.Writer
	resume    *sinkx.Index
	opts      asyncx.SupervisorOptions

	mu       sync.Mutex
	sup      *asyncx.Supervisor[*agentx.Result]
	progress Progress
}

// NewEngine wires an engine. The scheduler has validated the budget, so a
// misconfigured budget never gets this far.
func NewEngine(runner TrajectoryRunner, scheduler *branchx.Scheduler, writer *sinkx.Writer, opts ...Option) (*Engine, error) {
	if runner == nil || scheduler == nil || writer == nil {
		return nil, rolloutErrors.New(ErrConfig).
			WithDetail("runner", runner != nil).
			WithDetail("scheduler", scheduler != nil).
			WithDetail("writer", writer != nil)
	}
	e := &Engine{
		runner:    runner,
		scheduler: scheduler,
		writer:    writer,
		opts:      asyncx.SupervisorOptions{Workers: 8},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// questionState tracks one question's progress through its rounds.
type questionState struct {
	q           Question
	round       int
	outstanding int
	sources     []*agentx.Result
	children    [][]*agentx.Result
}

type settled struct {
	state *questionState
	task  agentx.Task
	res   *agentx.Result
}

// run is the consumer side of one Engine.Run. Only the Run goroutine
// touches it.
type run struct {
	e        *Engine
	sup      *asyncx.Supervisor[*agentx.Result]
	inflight map[string]settled
	ready    []settled
	open     int
	firstErr error
}

// Run executes every question and blocks until all rollouts finished, the
// idle watchdog fired, or ctx ended. The returned Progress is the final
// snapshot; it counts exactly the rollouts that completed.
func (e *Engine) Run(ctx context.Context, questions []Question) (Progress, error) {
	if len(questions) == 0 {
		return e.Progress(), rolloutErrors.New(ErrNoInputs)
	}

	sup := asyncx.NewSupervisor[*agentx.Result](ctx, e.opts)
	defer sup.Stop()

	e.mu.Lock()
	e.sup = sup
	e.progress = newProgress(len(questions), len(questions)*e.scheduler.Planned())
	e.mu.Unlock()

	logx.WithFields(logx.Fields{
		"questions": len(questions),
		"planned":   len(questions) * e.scheduler.Planned(),
		"rounds":    e.scheduler.Rounds(),
		"workers":   e.opts.Workers,
	}).Info("rollout run started")

	r := &run{e: e, sup: sup, inflight: make(map[string]settled), open: len(questions)}
	n := e.scheduler.Budget().InitialRollouts
	for _, q := range questions {
		st := &questionState{
			q:        q,
			sources:  make([]*agentx.Result, n),
			children: make([][]*agentx.Result, n),
		}
		r.schedule(st, e.scheduler.Initial(q.Question, q.Answer))
	}
	r.drain()
	if r.open == 0 {
		sup.Close()
	}

	for c := range sup.Results() {
		s, ok := r.inflight[c.ID]
		if !ok {
			continue
		}
		delete(r.inflight, c.ID)
		s.res = e.settle(s.task, c)
		e.persist(s.res)
		r.deliver(s)
		r.drain()
		if r.open == 0 {
			sup.Close()
		}
	}

	stats := sup.Stats()
	e.mu.Lock()
	e.progress.Finished = true
	e.progress.Stalled = stats.Stalled
	e.mu.Unlock()
	final := e.Progress()

	logx.WithFields(logx.Fields{
		"completed": final.Completed,
		"resumed":   final.Resumed,
		"abandoned": stats.Abandoned,
		"stalled":   stats.Stalled,
		"duration":  time.Since(final.StartedAt).String(),
	}).Info("rollout run finished")

	switch {
	case stats.Stalled:
		return final, rolloutErrors.New(ErrStalled).
			WithDetail("completed", final.Completed).
			WithDetail("abandoned", stats.Abandoned)
	case ctx.Err() != nil:
		return final, ctx.Err()
	}
	return final, r.firstErr
}

// Progress returns a snapshot of the current run.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.progress.clone()
	if e.sup != nil {
		p.Supervisor = e.sup.Stats()
	}
	p.Sink = e.writer.Stats()
	return p
}

// schedule submits tasks, or settles them straight away from the resume
// index.
func (r *run) schedule(st *questionState, tasks []agentx.Task) {
	for _, task := range tasks {
		st.outstanding++
		r.e.count(func(p *Progress) { p.Scheduled++ })

		if rec, ok := r.e.resume.Get(task.Question, task.RolloutIndex); ok && rec.Done() {
			r.e.count(func(p *Progress) { p.Resumed++ })
			recordResumed()
			r.ready = append(r.ready, settled{state: st, task: task, res: rec.Result()})
			continue
		}

		s := settled{state: st, task: task}
		r.inflight[task.ID] = s
		fields := logx.Fields{"branch_round": st.round, "kind": string(task.Kind)}
		err := r.sup.Submit(task.ID, func(ctx context.Context) (*agentx.Result, error) {
			return r.e.runner.Run(logx.ContextWithFields(ctx, fields), task)
		})
		if err != nil {
			delete(r.inflight, task.ID)
			err = rolloutErrors.NewWithCause(ErrSubmit, err).WithDetail("rollout_index", task.RolloutIndex)
			s.res = agentx.ErrorResult(task, err)
			r.e.persist(s.res)
			r.ready = append(r.ready, s)
		}
	}
	pendingTasks.Set(float64(len(r.inflight)))
}

// drain delivers settled results that did not come through the supervisor.
func (r *run) drain() {
	for len(r.ready) > 0 {
		s := r.ready[0]
		r.ready = r.ready[1:]
		r.deliver(s)
	}
}

// deliver files a result under its lineage position and, when it was the
// last outstanding rollout of its round, schedules the next round.
func (r *run) deliver(s settled) {
	st := s.state
	sched := r.e.scheduler

	round, pos, ok := sched.Locate(s.task.RolloutIndex)
	if ok && pos < len(st.sources) {
		if round == 0 {
			st.sources[pos] = s.res
		} else {
			st.children[pos] = append(st.children[pos], s.res)
		}
	}
	st.outstanding--
	if st.outstanding > 0 {
		return
	}

	next := st.round + 1
	if next > sched.Rounds() {
		r.finish(st)
		return
	}
	if st.round > 0 {
		st.sources = branchx.NextSources(st.sources, st.children)
	}
	st.children = make([][]*agentx.Result, len(st.sources))
	st.round = next

	tasks, err := sched.Branch(next, st.q.Question, st.q.Answer, st.sources)
	if err != nil {
		err = rolloutErrors.NewWithCause(ErrBranch, err).WithDetail("round", next)
		logx.WithField("question", st.q.Question).WithError(err).Error("branch round not scheduled")
		if r.firstErr == nil {
			r.firstErr = err
		}
		r.finish(st)
		return
	}
	logx.WithFields(logx.Fields{
		"question": st.q.Question,
		"round":    next,
		"tasks":    len(tasks),
	}).Debug("branch round scheduled")
	r.schedule(st, tasks)
}

func (r *run) finish(st *questionState) {
	r.open--
	r.e.count(func(p *Progress) { p.QuestionsDone++ })
	questionsDone.Inc()
}

// settle turns a supervisor completion into a result.
func (e *Engine) settle(task agentx.Task, c asyncx.Completion[*agentx.Result]) *agentx.Result {
	if c.Value != nil {
		if c.Err != nil && c.Value.Error == "" {
			c.Value.Error = c.Err.Error()
		}
		return c.Value
	}

	fields := logx.Fields{
		"question":      task.Question,
		"rollout_index": task.RolloutIndex,
		"lineage":       task.LineageID,
	}
	if errors.Is(c.Err, context.DeadlineExceeded) {
		logx.WithFields(fields).Warn("rollout exceeded its task timeout")
		res := agentx.NewResult(task)
		res.Termination = agentx.TerminationTimeout
		res.Error = c.Err.Error()
		res.Duration = c.Duration
		return res
	}

	logx.WithFields(fields).WithError(c.Err).Error("rollout task failed")
	res := agentx.ErrorResult(task, c.Err)
	res.Duration = c.Duration
	return res
}

// persist hands res to the sink and counts it.
func (e *Engine) persist(res *agentx.Result) {
	if err := e.writer.Write(context.Background(), sinkx.FromResult(res)); err != nil {
		logx.WithField("rollout_index", res.RolloutIndex).WithError(err).Error("record not queued")
	}
	recordTrajectory(res)
	e.count(func(p *Progress) {
		p.Completed++
		p.Terminations[res.Termination]++
	})
}

func (e *Engine) count(fn func(p *Progress)) {
	e.mu.Lock()
	fn(&e.progress)
	e.mu.Unlock()
}
