package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Waridley/crumbeez/backend/config"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/backend/eventlog"
	"github.com/Waridley/crumbeez/backend/orchestrator"
	"github.com/Waridley/crumbeez/backend/summarizer"
	"github.com/Waridley/crumbeez/backend/summarylog"
)

func memFs() *afero.Afero {
	return &afero.Afero{Fs: afero.NewMemMapFs()}
}

func testSettings() *config.Settings {
	settings := config.Default()
	settings.Retry.MaxAttempts = 1
	settings.Retry.InitialDelay = config.Duration(time.Millisecond)
	settings.Retry.MaxDelay = config.Duration(time.Millisecond)
	return settings
}

func openLogs(t *testing.T, fs *afero.Afero) (*eventlog.Log, *summarylog.Log) {
	t.Helper()
	events, err := eventlog.Open(fs, "/data/events")
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	summaries, err := summarylog.Open(fs, "/data/summaries")
	if err != nil {
		t.Fatalf("open summary log: %v", err)
	}
	t.Cleanup(func() {
		events.Close()
		summaries.Close()
	})
	return events, summaries
}

func hostEvent(t *testing.T, typ, pane string, minute int, data map[string]any) event.HostEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	return event.HostEvent{
		Type:      typ,
		SessionID: "alpha",
		PaneID:    pane,
		Timestamp: time.Date(2026, 3, 14, 9, minute, 0, 0, time.UTC),
		Data:      raw,
	}
}

// failingBackend always reports a retryable backend failure.
type failingBackend struct {
	calls atomic.Int32
}

func (b *failingBackend) Name() string { return "failing" }

func (b *failingBackend) Summarize(_ context.Context, _ *summarizer.Request) (string, error) {
	b.calls.Add(1)
	return "", summarizer.NewBackendError("failing", summarizer.ErrorKindInternal, errors.New("boom"))
}

// recordingBackend remembers the last request it summarized.
type recordingBackend struct {
	mu   sync.Mutex
	last *summarizer.Request
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) Summarize(_ context.Context, req *summarizer.Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = req
	return "recorded", nil
}

func (b *recordingBackend) lastRequest() *summarizer.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func appendEvents(t *testing.T, events *eventlog.Log, raws ...event.HostEvent) {
	t.Helper()
	classifier := event.NewClassifier()
	for _, raw := range raws {
		ev, err := classifier.Classify(raw)
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if ev == nil {
			t.Fatalf("fixture event %q classified to nothing", raw.Type)
		}
		if _, err := events.Append(ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestRun_BoundaryProducesOneSummary(t *testing.T) {
	t.Parallel()

	fs := memFs()
	events, summaries := openLogs(t, fs)
	core := orchestrator.New(testSettings(), events, summaries, summarizer.NewNoopBackend())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	raws := []event.HostEvent{
		hostEvent(t, "file_modified", "pane-1", 0, map[string]any{"path": "main.go"}),
		hostEvent(t, "file_modified", "pane-1", 2, map[string]any{"path": "main.go"}),
		hostEvent(t, "test_run_completed", "pane-1", 5, map[string]any{"status": "passed", "passed": 12}),
	}
	for _, raw := range raws {
		if err := core.Ingest(ctx, raw); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	written := waitForSummaries(t, summaries, 1)
	if diff := cmp.Diff([]uint64{1, 2, 3}, written[0].SequenceIDs); diff != "" {
		t.Errorf("summary must consume exactly the task's events (-want +got):\n%s", diff)
	}
	if written[0].Checkpoint {
		t.Error("a boundary-closed task is not a checkpoint")
	}
	if written[0].SessionID != "alpha" || written[0].PaneID != "pane-1" {
		t.Errorf("unexpected key: %s/%s", written[0].SessionID, written[0].PaneID)
	}
}

func TestRun_TwoPanesSummarizeIndependently(t *testing.T) {
	t.Parallel()

	fs := memFs()
	events, summaries := openLogs(t, fs)
	core := orchestrator.New(testSettings(), events, summaries, summarizer.NewNoopBackend())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	raws := []event.HostEvent{
		hostEvent(t, "file_modified", "pane-1", 0, map[string]any{"path": "main.go"}),
		hostEvent(t, "command_started", "pane-2", 1, map[string]any{"command": "go build ./..."}),
		hostEvent(t, "build_run_completed", "pane-2", 2, map[string]any{"status": "passed"}),
		hostEvent(t, "test_run_completed", "pane-1", 3, map[string]any{"status": "failed", "failed": 1}),
	}
	for _, raw := range raws {
		if err := core.Ingest(ctx, raw); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	written := waitForSummaries(t, summaries, 2)
	seen := make(map[string][]uint64)
	for _, summary := range written {
		seen[summary.PaneID] = summary.SequenceIDs
	}
	if diff := cmp.Diff([]uint64{2, 3}, seen["pane-2"]); diff != "" {
		t.Errorf("pane-2 summary wrong (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{1, 4}, seen["pane-1"]); diff != "" {
		t.Errorf("pane-1 summary wrong (-want +got):\n%s", diff)
	}
}

func TestRunOnce_FlushesOpenTaskAsCheckpoint(t *testing.T) {
	t.Parallel()

	fs := memFs()
	events, summaries := openLogs(t, fs)
	appendEvents(t, events,
		hostEvent(t, "file_modified", "pane-1", 0, map[string]any{"path": "main.go"}),
		hostEvent(t, "command_started", "pane-1", 1, map[string]any{"command": "go test -run TestParser"}),
	)

	core := orchestrator.New(testSettings(), events, summaries, summarizer.NewNoopBackend())
	written, err := core.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 summary, got %d", written)
	}

	replayed, err := summaries.Replay()
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !replayed[0].Checkpoint {
		t.Error("a flushed open task must be recorded as a checkpoint")
	}
	if diff := cmp.Diff([]uint64{1, 2}, replayed[0].SequenceIDs); diff != "" {
		t.Errorf("unexpected sequence ids (-want +got):\n%s", diff)
	}
}

func TestRunOnce_IsIdempotent(t *testing.T) {
	t.Parallel()

	fs := memFs()
	events, summaries := openLogs(t, fs)
	appendEvents(t, events,
		hostEvent(t, "file_modified", "pane-1", 0, map[string]any{"path": "main.go"}),
		hostEvent(t, "test_run_completed", "pane-1", 1, map[string]any{"status": "passed"}),
	)

	first := orchestrator.New(testSettings(), events, summaries, summarizer.NewNoopBackend())
	written, err := first.RunOnce(context.Background())
	if err != nil || written != 1 {
		t.Fatalf("expected the first pass to write 1 summary, got %d / %v", written, err)
	}

	// A second pass over the same logs must not duplicate anything.
	second := orchestrator.New(testSettings(), events, summaries, summarizer.NewNoopBackend())
	written, err = second.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if written != 0 {
		t.Errorf("expected nothing left to summarize, got %d", written)
	}
}

func TestRunOnce_FailedBackendCarriesEventsToNextRun(t *testing.T) {
	t.Parallel()

	fs := memFs()
	events, summaries := openLogs(t, fs)
	appendEvents(t, events,
		hostEvent(t, "file_modified", "pane-1", 0, map[string]any{"path": "main.go"}),
		hostEvent(t, "test_run_completed", "pane-1", 1, map[string]any{"status": "failed", "failed": 3}),
	)

	backend := &failingBackend{}
	failing := orchestrator.New(testSettings(), events, summaries, backend)
	written, err := failing.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if written != 0 {
		t.Fatalf("a failing backend must not write summaries, got %d", written)
	}
	if backend.calls.Load() == 0 {
		t.Fatal("the backend was never called")
	}

	// The events were recorded but never consumed, so a later pass with a
	// healthy backend summarizes them.
	recovered := orchestrator.New(testSettings(), events, summaries, summarizer.NewNoopBackend())
	written, err = recovered.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected the backlog to flush, got %d", written)
	}

	replayed, err := summaries.Replay()
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if diff := cmp.Diff([]uint64{1, 2}, replayed[0].SequenceIDs); diff != "" {
		t.Errorf("the summary must consume the carried events (-want +got):\n%s", diff)
	}
}

func TestRunOnce_CheckpointContextSurvivesRestart(t *testing.T) {
	t.Parallel()

	fs := memFs()
	events, summaries := openLogs(t, fs)
	appendEvents(t, events,
		hostEvent(t, "file_modified", "pane-1", 0, map[string]any{"path": "main.go"}),
		hostEvent(t, "command_started", "pane-1", 1, map[string]any{"command": "go test ./...", "cwd": "/work"}),
	)

	first := orchestrator.New(testSettings(), events, summaries, summarizer.NewNoopBackend())
	if written, err := first.RunOnce(context.Background()); err != nil || written != 1 {
		t.Fatalf("expected one checkpoint summary, got %d / %v", written, err)
	}

	// More activity lands on the pane, then the process restarts.
	appendEvents(t, events,
		hostEvent(t, "test_run_completed", "pane-1", 3, map[string]any{"status": "passed", "passed": 4}),
	)

	backend := &recordingBackend{}
	second := orchestrator.New(testSettings(), events, summaries, backend)
	written, err := second.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected the new boundary to summarize, got %d", written)
	}

	req := backend.lastRequest()
	if req == nil {
		t.Fatal("the backend was never called")
	}
	carried, ok := req.Context["earlier checkpoint on this pane"]
	if !ok {
		t.Fatal("checkpoint events must be offered as context after a restart")
	}
	if !strings.Contains(carried, "main.go") {
		t.Errorf("checkpoint context must describe the earlier activity:\n%s", carried)
	}

	replayed, err := summaries.Replay()
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	last := replayed[len(replayed)-1]
	if diff := cmp.Diff([]uint64{3}, last.SequenceIDs); diff != "" {
		t.Errorf("checkpoint-consumed events must not be recorded again (-want +got):\n%s", diff)
	}
}

func waitForSummaries(t *testing.T, summaries *summarylog.Log, want int) []*summarylog.Summary {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d summaries", want)
		case <-time.After(10 * time.Millisecond):
		}

		written, err := summaries.Replay()
		if err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		if len(written) >= want {
			return written
		}
	}
}
