// Package detector groups events into tasks, one state machine per
// correlation key. It is pure: no I/O and no timers of its own. The control
// loop feeds it events and clock ticks and acts on the transitions it
// reports.
package detector

import (
	"time"

	"github.com/Waridley/crumbeez/backend/event"
)

type Status string

const (
	StatusOpen                 Status = "open"
	StatusPendingSummarization Status = "pending_summarization"
	StatusSummarized           Status = "summarized"
	StatusAbandoned            Status = "abandoned"
)

// Reason records which trigger closed a task. When a boundary event and a
// timeout coincide in one processing step the boundary wins: the loop drains
// host events before evaluating the tick, and a task closed by a boundary is
// no longer Open when the tick inspects it.
type Reason string

const (
	ReasonBoundary Reason = "boundary"
	ReasonTimeout  Reason = "timeout"
)

// Task is a derived aggregate, reconstructable from the event log. It is
// never persisted on its own.
type Task struct {
	Key      event.CorrelationKey
	OpenedAt time.Time
	Members  []uint64
	Status   Status
	Reason   Reason

	// CarriedUnconsumed holds events from a prior Abandoned task on this
	// key. They were never summarized, so this task's summary consumes them.
	CarriedUnconsumed []uint64
	// CarriedContext holds events already consumed by a prior checkpoint
	// summary on this key. They enrich this task's digest but are never
	// recorded as summarized again.
	CarriedContext []uint64
}

// Transition reports a task entering PendingSummarization.
type Transition struct {
	Task   *Task
	Reason Reason
}

type keyState struct {
	open    *Task
	pending []*Task

	carryUnconsumed []uint64
	carryContext    []uint64
}

type Detector struct {
	safetyTimeout time.Duration
	keys          map[event.CorrelationKey]*keyState
}

func New(safetyTimeout time.Duration) *Detector {
	return &Detector{
		safetyTimeout: safetyTimeout,
		keys:          make(map[event.CorrelationKey]*keyState),
	}
}

// Observe folds one appended event into its key's task, opening a new task
// if the key was idle. It returns a transition when the event is a boundary
// that closes the task, nil otherwise.
func (d *Detector) Observe(ev *event.Event) *Transition {
	ks := d.keys[ev.Key]
	if ks == nil {
		ks = &keyState{}
		d.keys[ev.Key] = ks
	}

	if ks.open == nil {
		ks.open = &Task{
			Key:               ev.Key,
			OpenedAt:          ev.Timestamp,
			Status:            StatusOpen,
			CarriedUnconsumed: ks.carryUnconsumed,
			CarriedContext:    ks.carryContext,
		}
		ks.carryUnconsumed = nil
		ks.carryContext = nil
	}

	ks.open.Members = append(ks.open.Members, ev.SequenceID)

	if !IsBoundary(ev) {
		return nil
	}

	task := ks.open
	task.Status = StatusPendingSummarization
	task.Reason = ReasonBoundary
	ks.pending = append(ks.pending, task)
	ks.open = nil
	return &Transition{Task: task, Reason: ReasonBoundary}
}

// Tick re-evaluates every Open key against the safety timeout. A task only
// times out once it has at least one member event.
func (d *Detector) Tick(now time.Time) []*Transition {
	var transitions []*Transition
	for _, ks := range d.keys {
		task := ks.open
		if task == nil || len(task.Members) == 0 {
			continue
		}
		if now.Sub(task.OpenedAt) < d.safetyTimeout {
			continue
		}
		task.Status = StatusPendingSummarization
		task.Reason = ReasonTimeout
		ks.pending = append(ks.pending, task)
		ks.open = nil
		transitions = append(transitions, &Transition{Task: task, Reason: ReasonTimeout})
	}
	return transitions
}

// Flush closes every Open task with at least one member regardless of age,
// as a checkpoint. Used by the one-shot summarization pass, where there is
// no later tick to wait for.
func (d *Detector) Flush() []*Transition {
	var transitions []*Transition
	for _, ks := range d.keys {
		task := ks.open
		if task == nil || len(task.Members) == 0 {
			continue
		}
		task.Status = StatusPendingSummarization
		task.Reason = ReasonTimeout
		ks.pending = append(ks.pending, task)
		ks.open = nil
		transitions = append(transitions, &Transition{Task: task, Reason: ReasonTimeout})
	}
	return transitions
}

// NextPending returns the oldest task awaiting summarization for the key.
// Summarization for one key is strictly serialized, so the orchestrator
// works on this task alone until Summarized or Abandoned is called.
func (d *Detector) NextPending(key event.CorrelationKey) *Task {
	ks := d.keys[key]
	if ks == nil || len(ks.pending) == 0 {
		return nil
	}
	return ks.pending[0]
}

// Summarized closes the key's oldest pending task as successfully
// summarized. After a checkpoint (timeout) summary the task's events stay
// eligible as context for the next grouping on this key.
func (d *Detector) Summarized(key event.CorrelationKey) *Task {
	task := d.popPending(key)
	if task == nil {
		return nil
	}
	task.Status = StatusSummarized
	if task.Reason == ReasonTimeout {
		ks := d.keys[key]
		ks.carryContext = append(ks.carryContext, task.Members...)
	}
	return task
}

// SeedCarryContext restores a key's checkpoint carry-over after a restart.
// The orchestrator calls it during recovery, before any events are replayed,
// with the sequence ids of the key's trailing checkpoint summary: those
// events were still eligible as context for the next grouping when the
// previous process stopped.
func (d *Detector) SeedCarryContext(key event.CorrelationKey, seqs []uint64) {
	if len(seqs) == 0 {
		return
	}
	ks := d.keys[key]
	if ks == nil {
		ks = &keyState{}
		d.keys[key] = ks
	}
	ks.carryContext = append(ks.carryContext, seqs...)
}

// Abandoned closes the key's oldest pending task without a summary. Its
// events (and any unconsumed events it was itself carrying) are stashed and
// folded, tagged as carried over, into the next task opened for this key.
func (d *Detector) Abandoned(key event.CorrelationKey) *Task {
	task := d.popPending(key)
	if task == nil {
		return nil
	}
	task.Status = StatusAbandoned
	ks := d.keys[key]
	ks.carryUnconsumed = append(ks.carryUnconsumed, task.CarriedUnconsumed...)
	ks.carryUnconsumed = append(ks.carryUnconsumed, task.Members...)
	ks.carryContext = append(ks.carryContext, task.CarriedContext...)
	return task
}

func (d *Detector) popPending(key event.CorrelationKey) *Task {
	ks := d.keys[key]
	if ks == nil || len(ks.pending) == 0 {
		return nil
	}
	task := ks.pending[0]
	ks.pending = ks.pending[1:]
	return task
}

// KeyStatus is a snapshot of one key's state for diagnostics.
type KeyStatus struct {
	Key          event.CorrelationKey
	Open         *Task
	PendingCount int
	CarriedOver  int
}

func (d *Detector) Snapshot() []KeyStatus {
	statuses := make([]KeyStatus, 0, len(d.keys))
	for key, ks := range d.keys {
		statuses = append(statuses, KeyStatus{
			Key:          key,
			Open:         ks.open,
			PendingCount: len(ks.pending),
			CarriedOver:  len(ks.carryUnconsumed),
		})
	}
	return statuses
}

// IsBoundary reports whether the event signals task completion. A completed
// command is a boundary only with a recognized terminal status: negative
// exit codes mean killed or unknown and extend the task instead.
func IsBoundary(ev *event.Event) bool {
	switch ev.Kind {
	case event.KindCommandCompleted:
		payload, ok := ev.Payload.(*event.CommandCompletedPayload)
		return ok && payload.ExitCode >= 0
	case event.KindTestRunCompleted,
		event.KindBuildRunCompleted,
		event.KindGitCommitRecorded,
		event.KindEditorSessionBoundary:
		return true
	default:
		return false
	}
}
