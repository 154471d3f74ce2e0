package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the closed set of semantic event kinds. The wire value is part of
// the persisted event log format and must not change.
type Kind string

const (
	KindPaneFocused           Kind = "pane_focused"
	KindCommandStarted        Kind = "command_started"
	KindCommandCompleted      Kind = "command_completed"
	KindFileModified          Kind = "file_modified"
	KindEditorSessionBoundary Kind = "editor_session_boundary"
	KindTestRunCompleted      Kind = "test_run_completed"
	KindBuildRunCompleted     Kind = "build_run_completed"
	KindGitCommitRecorded     Kind = "git_commit_recorded"
)

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindPaneFocused,
		KindCommandStarted,
		KindCommandCompleted,
		KindFileModified,
		KindEditorSessionBoundary,
		KindTestRunCompleted,
		KindBuildRunCompleted,
		KindGitCommitRecorded,
	}
}

// CorrelationKey identifies the pane/tab/session scope an event belongs to.
// Events sharing a key are grouped into the same task stream; cross-pane
// correlation is a digest-building concern, never a key-merging one.
type CorrelationKey struct {
	SessionID string `json:"session_id"`
	PaneID    string `json:"pane_id"`
}

func (k CorrelationKey) String() string {
	return k.SessionID + "/" + k.PaneID
}

// Event is an immutable semantic activity record. SequenceID is zero until
// the durable log assigns one at append time; after that the event is never
// mutated.
type Event struct {
	SequenceID uint64
	Timestamp  time.Time
	Key        CorrelationKey
	Kind       Kind
	Payload    Payload
}

// wireEvent is the persisted JSON-line shape of an Event.
type wireEvent struct {
	SequenceID uint64          `json:"seq"`
	Timestamp  time.Time       `json:"ts"`
	SessionID  string          `json:"session_id"`
	PaneID     string          `json:"pane_id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Kind, err)
	}

	return json.Marshal(wireEvent{
		SequenceID: e.SequenceID,
		Timestamp:  e.Timestamp,
		SessionID:  e.Key.SessionID,
		PaneID:     e.Key.PaneID,
		Kind:       e.Kind,
		Payload:    payload,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	payload, err := emptyPayload(wire.Kind)
	if err != nil {
		return err
	}
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, payload); err != nil {
			return fmt.Errorf("failed to unmarshal %s payload: %w", wire.Kind, err)
		}
	}

	e.SequenceID = wire.SequenceID
	e.Timestamp = wire.Timestamp
	e.Key = CorrelationKey{SessionID: wire.SessionID, PaneID: wire.PaneID}
	e.Kind = wire.Kind
	e.Payload = payload
	return nil
}
