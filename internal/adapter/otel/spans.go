package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentoffice"

// StartMeetingSpan starts a span covering one meeting.
func StartMeetingSpan(ctx context.Context, taskID, kind string, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "meeting",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("meeting.kind", kind),
			attribute.Int("meeting.round", round),
		),
	)
}

// StartLaunchSpan starts a span for an agent launch.
func StartLaunchSpan(ctx context.Context, taskID, agentID, provider string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "launch",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agentID),
			attribute.String("executor.provider", provider),
		),
	)
}

// StartMergeSpan starts a span for worktree integration.
func StartMergeSpan(ctx context.Context, taskID, branch string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "merge",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("vcs.branch", branch),
		),
	)
}
