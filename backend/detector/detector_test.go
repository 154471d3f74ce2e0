package detector_test

import (
	"testing"
	"time"

	"github.com/Waridley/crumbeez/backend/detector"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/google/go-cmp/cmp"
)

var (
	keyA = event.CorrelationKey{SessionID: "alpha", PaneID: "pane-1"}
	keyB = event.CorrelationKey{SessionID: "alpha", PaneID: "pane-2"}
)

func at(minute int) time.Time {
	return time.Date(2026, 3, 14, 9, minute, 0, 0, time.UTC)
}

func edit(seq uint64, key event.CorrelationKey, minute int) *event.Event {
	return &event.Event{
		SequenceID: seq,
		Timestamp:  at(minute),
		Key:        key,
		Kind:       event.KindFileModified,
		Payload:    &event.FileModifiedPayload{Path: "main.go"},
	}
}

func testRun(seq uint64, key event.CorrelationKey, minute int) *event.Event {
	return &event.Event{
		SequenceID: seq,
		Timestamp:  at(minute),
		Key:        key,
		Kind:       event.KindTestRunCompleted,
		Payload:    &event.TestRunCompletedPayload{Status: "passed", Passed: 12},
	}
}

func commandExit(seq uint64, key event.CorrelationKey, minute, code int) *event.Event {
	return &event.Event{
		SequenceID: seq,
		Timestamp:  at(minute),
		Key:        key,
		Kind:       event.KindCommandCompleted,
		Payload:    &event.CommandCompletedPayload{Command: "make", ExitCode: code},
	}
}

func TestDetector_BoundaryClosesTask(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)

	if tr := d.Observe(edit(1, keyA, 0)); tr != nil {
		t.Fatalf("edit must not close a task, got %+v", tr)
	}
	tr := d.Observe(testRun(2, keyA, 1))
	if tr == nil {
		t.Fatal("test run must close the task")
	}
	if tr.Reason != detector.ReasonBoundary {
		t.Errorf("expected boundary reason, got %s", tr.Reason)
	}
	if diff := cmp.Diff([]uint64{1, 2}, tr.Task.Members); diff != "" {
		t.Errorf("unexpected members (-want +got):\n%s", diff)
	}

	pending := d.NextPending(keyA)
	if pending != tr.Task {
		t.Error("closed task must be queued for summarization")
	}
}

func TestDetector_FailedExitIsAlsoBoundary(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(edit(1, keyA, 0))

	if tr := d.Observe(commandExit(2, keyA, 1, 2)); tr == nil {
		t.Error("a nonzero exit code is still a boundary")
	}
}

func TestDetector_KilledCommandIsNotBoundary(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(edit(1, keyA, 0))

	if tr := d.Observe(commandExit(2, keyA, 1, -1)); tr != nil {
		t.Error("a negative exit code must extend the task, not close it")
	}
	if d.NextPending(keyA) != nil {
		t.Error("no task should be pending")
	}
}

func TestDetector_TickClosesStaleTask(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(edit(1, keyA, 0))

	if trs := d.Tick(at(9)); len(trs) != 0 {
		t.Fatalf("task inside the safety timeout must stay open, got %d transitions", len(trs))
	}
	trs := d.Tick(at(11))
	if len(trs) != 1 {
		t.Fatalf("expected 1 timed-out task, got %d", len(trs))
	}
	if trs[0].Reason != detector.ReasonTimeout {
		t.Errorf("expected timeout reason, got %s", trs[0].Reason)
	}
}

func TestDetector_TickIgnoresIdleKeys(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(edit(1, keyA, 0))
	d.Observe(testRun(2, keyA, 1))
	d.Summarized(keyA)

	if trs := d.Tick(at(30)); len(trs) != 0 {
		t.Errorf("a key with no open task must not time out, got %d transitions", len(trs))
	}
}

func TestDetector_AbandonedEventsCarryIntoNextTask(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(edit(1, keyA, 0))
	d.Observe(testRun(2, keyA, 1))
	d.Abandoned(keyA)

	tr := d.Observe(testRun(3, keyA, 5))
	if tr == nil {
		t.Fatal("expected the next boundary to close a task")
	}
	if diff := cmp.Diff([]uint64{1, 2}, tr.Task.CarriedUnconsumed); diff != "" {
		t.Errorf("unexpected carried events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{3}, tr.Task.Members); diff != "" {
		t.Errorf("unexpected members (-want +got):\n%s", diff)
	}
}

func TestDetector_RepeatedAbandonmentAccumulates(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(testRun(1, keyA, 0))
	d.Abandoned(keyA)
	d.Observe(testRun(2, keyA, 1))
	d.Abandoned(keyA)

	tr := d.Observe(testRun(3, keyA, 2))
	if tr == nil {
		t.Fatal("expected a closed task")
	}
	if diff := cmp.Diff([]uint64{1, 2}, tr.Task.CarriedUnconsumed); diff != "" {
		t.Errorf("unexpected accumulated carry-over (-want +got):\n%s", diff)
	}
}

func TestDetector_CheckpointEventsBecomeContextOnly(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(edit(1, keyA, 0))
	d.Tick(at(11))
	task := d.Summarized(keyA)
	if task == nil || task.Reason != detector.ReasonTimeout {
		t.Fatalf("expected a checkpoint-summarized task, got %+v", task)
	}

	tr := d.Observe(testRun(2, keyA, 12))
	if tr == nil {
		t.Fatal("expected a closed task")
	}
	if len(tr.Task.CarriedUnconsumed) != 0 {
		t.Errorf("checkpoint-summarized events must not be re-consumed, got %v", tr.Task.CarriedUnconsumed)
	}
	if diff := cmp.Diff([]uint64{1}, tr.Task.CarriedContext); diff != "" {
		t.Errorf("expected checkpoint events as context (-want +got):\n%s", diff)
	}
}

func TestDetector_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(edit(1, keyA, 0))
	d.Observe(edit(2, keyB, 0))

	tr := d.Observe(testRun(3, keyB, 1))
	if tr == nil {
		t.Fatal("expected keyB's task to close")
	}
	if tr.Task.Key != keyB {
		t.Errorf("expected keyB, got %v", tr.Task.Key)
	}
	if d.NextPending(keyA) != nil {
		t.Error("keyA must still be open")
	}
}

func TestDetector_PendingTasksDrainInOrder(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.Observe(testRun(1, keyA, 0))
	d.Observe(testRun(2, keyA, 1))

	first := d.NextPending(keyA)
	if first == nil || first.Members[0] != 1 {
		t.Fatalf("expected the oldest task first, got %+v", first)
	}
	d.Summarized(keyA)

	second := d.NextPending(keyA)
	if second == nil || second.Members[0] != 2 {
		t.Fatalf("expected the second task next, got %+v", second)
	}
	d.Summarized(keyA)

	if d.NextPending(keyA) != nil {
		t.Error("no task should remain pending")
	}
}

func TestDetector_SeededCarryContextAttachesToNextTask(t *testing.T) {
	t.Parallel()

	d := detector.New(10 * time.Minute)
	d.SeedCarryContext(keyA, []uint64{1, 2})

	tr := d.Observe(testRun(3, keyA, 0))
	if tr == nil {
		t.Fatal("expected the boundary to close the task")
	}
	if diff := cmp.Diff([]uint64{1, 2}, tr.Task.CarriedContext); diff != "" {
		t.Errorf("seeded events must attach as context (-want +got):\n%s", diff)
	}
	if len(tr.Task.CarriedUnconsumed) != 0 {
		t.Errorf("seeded context must never be consumed again, got %v", tr.Task.CarriedUnconsumed)
	}

	// The stash moves to the first task only.
	tr = d.Observe(testRun(4, keyA, 1))
	if tr == nil {
		t.Fatal("expected the boundary to close the task")
	}
	if len(tr.Task.CarriedContext) != 0 {
		t.Errorf("the stash must not leak into later tasks, got %v", tr.Task.CarriedContext)
	}
}
