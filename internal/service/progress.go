package service

import (
	"context"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/ws"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
)

// startProgress reports on a running task every ProgressInterval until the
// process exits or the registry stops the ticker.
func (o *Orchestrator) startProgress(ctx context.Context, t *task.Task, a *agent.Agent, proc executor.Process) {
	interval := o.runtime.ProgressInterval
	if interval <= 0 {
		return
	}
	pctx, stop := context.WithCancel(ctx)
	o.reg.SetProgress(t.ID, stop)

	started := o.now()
	o.spawn("progress", t.ID, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-proc.Done():
				return
			case <-ticker.C:
				elapsed := o.now().Sub(started).Truncate(time.Second)
				o.events.BroadcastEvent(pctx, ws.EventTaskProgress, ws.TaskProgressEvent{
					TaskID:         t.ID,
					AgentID:        a.ID,
					ElapsedSeconds: int64(elapsed / time.Second),
					Tail:           proc.Tail(o.runtime.OutputTailBytes),
				})
				o.postMessage(pctx, t.ID, nil, message.KindNotice, o.t("notice.progress", a.Name, t.Title, elapsed))
			}
		}
	})
}
