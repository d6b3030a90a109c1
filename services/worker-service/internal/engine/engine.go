// Package engine handles one delivery of one event against its workflow:
// dedup through the ledger, bounded attempts, timed invocation and DLQ
// escalation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/actions"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 10 * time.Second

	errTimedOut         = "action timed out"
	errAttemptsExceeded = "max attempts exceeded"
)

// Metrics receives per-workflow counters and the invocation duration.
type Metrics interface {
	RecordAttempt(ctx context.Context, workflowID string)
	RecordSuccess(ctx context.Context, workflowID string)
	RecordFailure(ctx context.Context, workflowID string)
	RecordDLQ(ctx context.Context, workflowID string)
	RecordDuration(ctx context.Context, workflowID string, d time.Duration)
}

type Config struct {
	MaxAttempts int
	Timeout     time.Duration
	// StaleAfter is how long a pending record may sit untouched before a
	// redelivery may take it over. Zero means 3x Timeout and positive values
	// are raised to at least 2x Timeout; negative disables takeover so
	// pending records are always skipped and acknowledged.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	switch {
	case c.StaleAfter == 0:
		c.StaleAfter = 3 * c.Timeout
	case c.StaleAfter > 0 && c.StaleAfter < 2*c.Timeout:
		c.StaleAfter = 2 * c.Timeout
	}
	return c
}

type Engine struct {
	ledger  ledger.Store
	metrics Metrics
	logger  *slog.Logger
	cfg     Config
}

func New(store ledger.Store, metrics Metrics, logger *slog.Logger, cfg Config) *Engine {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Engine{
		ledger:  store,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Result describes how one delivery was handled. Record is the ledger state
// after the delivery.
type Result struct {
	Status    ledger.Status
	Record    ledger.Record
	Duplicate bool
	Invoked   bool
	// InFlight marks a duplicate skipped because another delivery holds the
	// record in pending and takeover is enabled.
	InFlight bool
}

// Redeliver reports whether the broker should try this delivery again: a
// retryable failure that has not been dead-lettered, or a record still held
// in pending that must come back until it finishes or goes stale.
func (r Result) Redeliver() bool {
	if r.InFlight {
		return true
	}
	return r.Status == ledger.StatusFailed && r.Record.Retryable && !r.Record.QueuedToDLQ
}

// Execute runs action for the event in ec at most once per claimed attempt.
// Errors returned are infrastructure faults (ledger unavailable, caller
// cancelled); action failures are reported through Result.
func (e *Engine) Execute(ctx context.Context, action actions.Action, ec actions.ExecutionContext) (Result, error) {
	workflowID := ec.Workflow.ID.String()
	log := e.logger.With(
		"event_id", ec.Event.EventID.String(),
		"workflow_id", workflowID,
		"trace_id", ec.TraceID,
		"action", action.Name(),
	)

	rec, created, err := e.ledger.CreatePending(ctx, ledger.NewRecord{
		WorkflowID:      ec.Workflow.ID,
		EventID:         ec.Event.EventID,
		TraceID:         ec.TraceID,
		Action:          action.Name(),
		PayloadSnapshot: ec.Event.PayloadCopy(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("create pending record: %w", err)
	}
	var staleAfter time.Duration
	if !created {
		if reason, skip := e.duplicateReason(rec); skip {
			log.Info("duplicate delivery skipped", "reason", reason, "status", rec.Status, "attempts", rec.Attempts)
			return Result{Status: ledger.StatusSkipped, Record: rec, Duplicate: true}, nil
		}
		if rec.Status == ledger.StatusPending {
			staleAfter = e.cfg.StaleAfter
		}
	}

	claimed, ok, err := e.ledger.IncrementAttempts(ctx, ledger.Claim{
		ID:               rec.ID,
		ExpectedAttempts: rec.Attempts,
		LastError:        rec.Error,
		StaleAfter:       staleAfter,
	})
	if err != nil {
		return Result{}, fmt.Errorf("increment attempts: %w", err)
	}
	if !ok {
		log.Info("duplicate delivery skipped", "reason", "in flight", "status", rec.Status, "attempts", rec.Attempts)
		return Result{Status: ledger.StatusSkipped, Record: rec, Duplicate: true, InFlight: true}, nil
	}
	e.metrics.RecordAttempt(ctx, workflowID)
	log = log.With("attempts", claimed.Attempts)

	if claimed.Attempts > e.cfg.MaxAttempts {
		final, err := e.ledger.MarkFinished(ctx, claimed.ID, ledger.Outcome{
			Status:      ledger.StatusFailed,
			Error:       errAttemptsExceeded,
			QueuedToDLQ: true,
		})
		if err != nil {
			return Result{}, fmt.Errorf("mark dead-lettered: %w", err)
		}
		e.metrics.RecordFailure(ctx, workflowID)
		e.metrics.RecordDLQ(ctx, workflowID)
		log.Warn("execution dead-lettered", "reason", errAttemptsExceeded)
		return Result{Status: ledger.StatusFailed, Record: final}, nil
	}

	out, elapsed, err := e.invoke(ctx, action, ec)
	if err != nil {
		return Result{}, err
	}

	queuedToDLQ := false
	if out.Status == ledger.StatusFailed && out.Retryable && claimed.Attempts >= e.cfg.MaxAttempts {
		out.Retryable = false
		queuedToDLQ = true
	}

	switch out.Status {
	case ledger.StatusSuccess:
		e.metrics.RecordSuccess(ctx, workflowID)
	case ledger.StatusFailed:
		e.metrics.RecordFailure(ctx, workflowID)
		if queuedToDLQ {
			e.metrics.RecordDLQ(ctx, workflowID)
		}
	}
	e.metrics.RecordDuration(ctx, workflowID, elapsed)

	final, err := e.ledger.MarkFinished(ctx, claimed.ID, ledger.Outcome{
		Status:      out.Status,
		Result:      out.Result,
		Error:       out.Error,
		Retryable:   out.Retryable,
		QueuedToDLQ: queuedToDLQ,
		Duration:    elapsed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("mark finished: %w", err)
	}

	attrs := []any{"status", final.Status, "retryable", final.Retryable, "duration_ms", final.ActionDurationMS}
	switch {
	case final.QueuedToDLQ:
		log.Warn("execution dead-lettered", append(attrs, "err", final.Error)...)
	case final.Status == ledger.StatusFailed:
		log.Warn("execution failed", append(attrs, "err", final.Error)...)
	default:
		log.Info("execution finished", attrs...)
	}
	return Result{Status: final.Status, Record: final, Invoked: true}, nil
}

// duplicateReason decides whether an existing record must not be attempted
// again by this delivery. Pending records are left to the ledger claim,
// which only succeeds once the record is stale.
func (e *Engine) duplicateReason(rec ledger.Record) (string, bool) {
	switch {
	case rec.QueuedToDLQ:
		return "dead-lettered", true
	case rec.Status == ledger.StatusSuccess, rec.Status == ledger.StatusSkipped:
		return "already " + string(rec.Status), true
	case rec.Status == ledger.StatusPending && e.cfg.StaleAfter < 0:
		return "in flight, takeover disabled", true
	default:
		return "", false
	}
}

type invocation struct {
	out      actions.Outcome
	err      error
	panicked any
}

// invoke races the action against the timeout. On expiry the action's
// goroutine is abandoned and its eventual result discarded.
func (e *Engine) invoke(ctx context.Context, action actions.Action, ec actions.ExecutionContext) (actions.Outcome, time.Duration, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan invocation, 1)
	start := time.Now()
	go func() {
		var inv invocation
		defer func() {
			if p := recover(); p != nil {
				inv = invocation{panicked: p}
			}
			done <- inv
		}()
		inv.out, inv.err = action.Run(runCtx, ec)
	}()

	select {
	case inv := <-done:
		elapsed := time.Since(start)
		if inv.err != nil || inv.panicked != nil {
			// An action that honours ctx may return its own error right as
			// the deadline fires; classify that as the timeout it is.
			if ctx.Err() != nil {
				return actions.Outcome{}, elapsed, fmt.Errorf("delivery cancelled during invocation: %w", ctx.Err())
			}
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return actions.Failure(errTimedOut, true), elapsed, nil
			}
		}
		switch {
		case inv.panicked != nil:
			return actions.Failure(fmt.Sprintf("action panicked: %v", inv.panicked), false), elapsed, nil
		case inv.err != nil:
			return actions.Failure(inv.err.Error(), false), elapsed, nil
		}
		return normalize(inv.out), elapsed, nil
	case <-runCtx.Done():
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			return actions.Outcome{}, elapsed, fmt.Errorf("delivery cancelled during invocation: %w", ctx.Err())
		}
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return actions.Outcome{}, elapsed, runCtx.Err()
		}
		return actions.Failure(errTimedOut, true), elapsed, nil
	}
}

func normalize(out actions.Outcome) actions.Outcome {
	switch out.Status {
	case "":
		out.Status = ledger.StatusSuccess
	case ledger.StatusSuccess, ledger.StatusFailed, ledger.StatusSkipped:
	default:
		return actions.Failure(fmt.Sprintf("action reported invalid status %q", out.Status), false)
	}
	if out.Status != ledger.StatusFailed {
		out.Retryable = false
	}
	return out
}

type nopMetrics struct{}

func (nopMetrics) RecordAttempt(context.Context, string)                 {}
func (nopMetrics) RecordSuccess(context.Context, string)                 {}
func (nopMetrics) RecordFailure(context.Context, string)                 {}
func (nopMetrics) RecordDLQ(context.Context, string)                     {}
func (nopMetrics) RecordDuration(context.Context, string, time.Duration) {}
