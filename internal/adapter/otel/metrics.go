package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentoffice"

// Metrics holds the orchestrator's instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	meetingsStarted   metric.Int64Counter
	meetingsFinished  metric.Int64Counter
	meetingDuration   metric.Float64Histogram
	reviewRounds      metric.Int64Counter
	remediationPauses metric.Int64Counter
	finalizations     metric.Int64Counter
	mergeConflicts    metric.Int64Counter
	launches          metric.Int64Counter
	executionFailures metric.Int64Counter
}

// NewMetrics creates all instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.meetingsStarted, "agentoffice.meetings.started", "Meetings started"},
		{&m.meetingsFinished, "agentoffice.meetings.finished", "Meetings finished, by outcome status"},
		{&m.reviewRounds, "agentoffice.review.rounds", "Review rounds evaluated, by round mode"},
		{&m.remediationPauses, "agentoffice.review.remediation_pauses", "Review rounds paused for remediation"},
		{&m.finalizations, "agentoffice.tasks.finalized", "Tasks finalized"},
		{&m.mergeConflicts, "agentoffice.merge.conflicts", "Merges blocked by conflicts"},
		{&m.launches, "agentoffice.executions.launched", "Agent executions launched"},
		{&m.executionFailures, "agentoffice.executions.failed", "Agent executions that exited nonzero"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.meetingDuration, err = meter.Float64Histogram("agentoffice.meeting.duration_seconds",
		metric.WithDescription("Meeting duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) MeetingStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.meetingsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("meeting.kind", kind)))
}

func (m *Metrics) MeetingFinished(ctx context.Context, kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("meeting.kind", kind), attribute.String("meeting.status", status))
	m.meetingsFinished.Add(ctx, 1, attrs)
	m.meetingDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RoundEvaluated(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.reviewRounds.Add(ctx, 1, metric.WithAttributes(attribute.String("review.mode", mode)))
}

func (m *Metrics) RemediationPaused(ctx context.Context) {
	if m == nil {
		return
	}
	m.remediationPauses.Add(ctx, 1)
}

func (m *Metrics) Finalized(ctx context.Context, residualRisk bool) {
	if m == nil {
		return
	}
	m.finalizations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("review.residual_risk", residualRisk)))
}

func (m *Metrics) MergeConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.mergeConflicts.Add(ctx, 1)
}

func (m *Metrics) Launched(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.launches.Add(ctx, 1, metric.WithAttributes(attribute.String("executor.provider", provider)))
}

func (m *Metrics) ExecutionFailed(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.executionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("executor.provider", provider)))
}
