// Package asyncx provides the concurrency primitives the rollout engine is
// built on: a completion-ordered supervised worker pool, per-kind admission
// limits, a single retry policy for every collaborator call, and a couple of
// small fan-out helpers.
//
// # Supervisor
//
// [Supervisor] runs independent tasks on a bounded pool and delivers their
// results on [Supervisor.Results] in the order they finish, not the order
// they were submitted. [Supervisor.Submit] never blocks, so the consumer
// can schedule follow-up work while it drains the stream.
//
//	sup := asyncx.NewSupervisor[*agentx.Result](ctx, asyncx.SupervisorOptions{
//	    Workers:     8,
//	    TaskTimeout: 30 * time.Minute,
//	    IdleTimeout: 10 * time.Minute,
//	})
//	sup.Submit(task.ID(), func(ctx context.Context) (*agentx.Result, error) {
//	    return runner.Run(ctx, task.Task)
//	})
//	for c := range sup.Results() {
//	    // first finished, first processed
//	}
//
// A task that panics produces a Completion carrying an ErrTaskPanic error;
// siblings keep running. When nothing completes for IdleTimeout while work
// is outstanding, the watchdog cancels every pending task and closes the
// stream. Shutdown never waits for cancelled tasks to return.
//
// # Limiter
//
// [Limiter] holds independent concurrency limits per kind of call, e.g.
// "model", "search" and "browse", with an optional token-bucket rate per
// kind. Acquire returns a release func:
//
//	release, err := limiter.Acquire(ctx, "model")
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// # Retry
//
// [RetryPolicy] is the one backoff curve for all collaborator calls:
// bounded attempts, exponential growth capped at MaxDelay, and jitter.
// [Retry] applies it and wraps the final failure in ErrRetryExhausted.
//
//	resp, err := asyncx.Retry(ctx, policy, func(ctx context.Context) (llm.Response, error) {
//	    return client.Chat(ctx, messages, opts...)
//	})
//
// # Helpers
//
// [AllSettled] fans out a fixed set of calls and always returns one [Result]
// per call. [WithTimeout] bounds a call by wall clock and releases the caller
// at the deadline even if the call ignores its context.
package asyncx
