// Package dispatch routes job invocations either to an in-process executor or
// to an external queue backed by Redis, with a transparent in-process fallback
// when the queue is unreachable.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
	"github.com/mealdesk/mealdesk-api/internal/ports"
)

// Resolver resolves a task function key to its implementation. Satisfied by
// the service job registry.
type Resolver interface {
	Resolve(key string) (ports.JobFunc, bool)
}

// InProcess executes job functions on the calling process with an optional
// wall-clock timeout.
type InProcess struct {
	resolver Resolver
	starter  ports.ExecutionStarter
	logger   *slog.Logger
}

// NewInProcess creates the in-process executor.
func NewInProcess(resolver Resolver, starter ports.ExecutionStarter, logger *slog.Logger) *InProcess {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcess{resolver: resolver, starter: starter, logger: logger.With("component", "dispatch")}
}

type jobResult struct {
	summary string
	err     error
}

// Dispatch runs the job function synchronously. A timed-out function keeps
// running on its abandoned goroutine but its result is discarded; only the
// timeout outcome is recorded.
func (d *InProcess) Dispatch(ctx context.Context, req ports.DispatchRequest) (ports.DispatchResult, error) {
	fn, ok := d.resolver.Resolve(req.JobKey)
	if !ok {
		return ports.DispatchResult{}, apperrors.NotFoundf("task function %q is not registered", req.JobKey)
	}
	if d.starter != nil {
		if err := d.starter.MarkStarted(ctx, req.ExecutionID); err != nil {
			d.logger.Warn("failed to mark execution started", "execution_id", req.ExecutionID, "error", err)
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	done := make(chan jobResult, 1)
	go func() {
		summary, err := fn(runCtx)
		done <- jobResult{summary: summary, err: err}
	}()

	select {
	case res := <-done:
		return ports.DispatchResult{
			Outcome:   ports.DispatchCompleted,
			Succeeded: res.err == nil,
			Summary:   res.summary,
			Err:       res.err,
		}, nil
	case <-runCtx.Done():
		err := runCtx.Err()
		if req.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return ports.DispatchResult{
				Outcome:   ports.DispatchCompleted,
				Succeeded: false,
				Summary:   fmt.Sprintf("timed out after %d seconds", int(req.Timeout.Seconds())),
				Err:       apperrors.New(apperrors.ErrCodeTimeout, "job execution timed out"),
			}, nil
		}
		return ports.DispatchResult{
			Outcome:   ports.DispatchCompleted,
			Succeeded: false,
			Err:       err,
		}, nil
	}
}

// queueTask is the envelope pushed onto the Redis list for external workers.
type queueTask struct {
	TaskID      string    `json:"task_id"`
	JobKey      string    `json:"job_key"`
	ExecutionID string    `json:"execution_id"`
	TriggeredBy *string   `json:"triggered_by,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Queued hands work to an external queue over a Redis list. When the queue is
// unreachable it falls back to the in-process executor so the execution still
// completes deterministically.
type Queued struct {
	client   redis.UniversalClient
	queueKey string
	fallback *InProcess
	logger   *slog.Logger
}

// NewQueued creates the queue-backed dispatcher.
func NewQueued(client redis.UniversalClient, queueKey string, fallback *InProcess, logger *slog.Logger) *Queued {
	if logger == nil {
		logger = slog.Default()
	}
	if queueKey == "" {
		queueKey = "scheduler:tasks"
	}
	return &Queued{
		client:   client,
		queueKey: queueKey,
		fallback: fallback,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch enqueues the invocation and reports a handoff. Enqueue failure
// degrades to in-process execution with a warning.
func (d *Queued) Dispatch(ctx context.Context, req ports.DispatchRequest) (ports.DispatchResult, error) {
	task := queueTask{
		TaskID:      uuid.NewString(),
		JobKey:      req.JobKey,
		ExecutionID: req.ExecutionID,
		TriggeredBy: req.TriggeredBy,
		EnqueuedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return ports.DispatchResult{}, fmt.Errorf("marshal queue task: %w", err)
	}

	if pushErr := d.client.LPush(ctx, d.queueKey, payload).Err(); pushErr != nil {
		d.logger.Warn("task queue unavailable, falling back to in-process execution",
			"job_key", req.JobKey, "execution_id", req.ExecutionID, "error", pushErr)
		return d.fallback.Dispatch(ctx, req)
	}
	return ports.DispatchResult{
		Outcome: ports.DispatchHandedOff,
		TaskID:  task.TaskID,
	}, nil
}
