package actions

import (
	"context"
	"log/slog"
)

// LogAction records the event in the service log and reports its identity as
// the result.
type LogAction struct {
	logger *slog.Logger
}

func NewLogAction(logger *slog.Logger) *LogAction {
	return &LogAction{logger: logger}
}

func (a *LogAction) Name() string { return "log" }

func (a *LogAction) Run(ctx context.Context, ec ExecutionContext) (Outcome, error) {
	a.logger.InfoContext(ctx, "workflow triggered",
		"workflow_id", ec.Workflow.ID.String(),
		"event_id", ec.Event.EventID.String(),
		"event_type", ec.Event.EventType,
		"trace_id", ec.TraceID,
	)
	return Success(map[string]any{
		"workflow_id": ec.Workflow.ID.String(),
		"event_id":    ec.Event.EventID.String(),
		"trace_id":    ec.TraceID,
	}), nil
}

type NoopAction struct{}

func (NoopAction) Name() string { return "noop" }

func (NoopAction) Run(context.Context, ExecutionContext) (Outcome, error) {
	return Success(nil), nil
}
