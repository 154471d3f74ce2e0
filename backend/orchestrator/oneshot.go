package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Waridley/crumbeez/backend/detector"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/backend/summarylog"
)

// RunOnce recovers state from the logs, force-closes every open task as a
// checkpoint, and summarizes all pending tasks synchronously before
// returning. It is the offline counterpart of Run, for flushing the journal
// without leaving a daemon around.
func (o *Orchestrator) RunOnce(ctx context.Context) (written int, err error) {
	o.runCtx = ctx
	o.oneshot = true

	if err := o.recover(); err != nil {
		return 0, err
	}
	o.detector.Flush()

	keys := make([]event.CorrelationKey, 0)
	for _, status := range o.detector.Snapshot() {
		if status.PendingCount > 0 {
			keys = append(keys, status.Key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		for task := o.detector.NextPending(key); task != nil; task = o.detector.NextPending(key) {
			ok, err := o.summarizeNow(ctx, task)
			if err != nil {
				return written, err
			}
			if !ok {
				// Abandoned: its events were stashed for carry-over, and any
				// later pending task on this key would hit the same backend.
				break
			}
			written++
		}
	}
	return written, nil
}

func (o *Orchestrator) summarizeNow(ctx context.Context, task *detector.Task) (bool, error) {
	req, keys, err := o.buildRequest(task)
	if err != nil {
		return false, err
	}

	used, missing := o.fetchEnrichment(ctx, req, keys)

	var attempts uint
	started := time.Now()
	text, err := o.summarizeWithRetry(ctx, req, &attempts)
	if err != nil {
		o.metrics.ObserveSummarization(o.backend.Name(), "abandoned", time.Since(started))
		o.detector.Abandoned(task.Key)
		slog.Error("summarization abandoned, events carried over",
			"key", task.Key, "members", len(task.Members), "attempts", attempts, "error", err)
		return false, nil
	}

	record := &summarylog.Summary{
		SessionID:          task.Key.SessionID,
		PaneID:             task.Key.PaneID,
		WindowStart:        req.WindowStart,
		WindowEnd:          req.WindowEnd,
		SequenceIDs:        consumedSequenceIDs(task),
		Backend:            o.backend.Name(),
		ContextUsed:        used,
		ContextUnavailable: missing,
		Checkpoint:         task.Reason == detector.ReasonTimeout,
		CreatedAt:          o.now().UTC(),
		Text:               text,
	}
	if err := o.summaries.Append(record); err != nil {
		o.detector.Abandoned(task.Key)
		return false, err
	}

	o.watermark.MarkConsumed(record.SequenceIDs)
	o.detector.Summarized(task.Key)
	o.metrics.ObserveSummarization(o.backend.Name(), "summarized", time.Since(started))
	return true, nil
}
