package service

import (
	"context"
	"log/slog"

	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/ws"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/report"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

// publishReport archives the consolidated report of a finalized root task
// and announces it.
func (o *Orchestrator) publishReport(ctx context.Context, root *task.Task) {
	r, err := o.buildReport(ctx, root)
	if err != nil {
		slog.Warn("build report failed", "task_id", root.ID, "error", err)
		return
	}
	if err := o.store.UpsertReport(ctx, r); err != nil {
		slog.Warn("upsert report failed", "task_id", root.ID, "error", err)
		return
	}
	o.postMessage(ctx, root.ID, nil, message.KindReport, r.Markdown())
	o.events.BroadcastEvent(ctx, ws.EventReportReady, ws.ReportReadyEvent{
		RootTaskID:   r.RootTaskID,
		Title:        r.Title,
		ResidualRisk: r.ResidualRisk,
	})
}

// buildReport walks the root's descendants breadth first.
func (o *Orchestrator) buildReport(ctx context.Context, root *task.Task) (*report.Report, error) {
	fresh, err := o.store.GetTask(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	r := &report.Report{
		RootTaskID:   fresh.ID,
		Title:        o.t("report.title", fresh.Title),
		ResidualRisk: task.LatestMemo(fresh.Description, task.MemoResidualRisk) != "",
		MergeNote:    task.LatestMemo(fresh.Description, task.MemoMerge),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	queue := []task.Task{*fresh}
	seen := map[string]bool{fresh.ID: true}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		r.Sections = append(r.Sections, report.Section{
			TaskID: t.ID,
			Title:  t.Title,
			Status: string(t.Status),
			Result: clip(t.Result, 1500),
		})
		children, err := o.store.ListTasksBySource(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if !seen[c.ID] {
				seen[c.ID] = true
				queue = append(queue, c)
			}
		}
	}
	r.Summary = o.t("report.summary", len(r.Sections), fresh.Title)
	return r, nil
}
