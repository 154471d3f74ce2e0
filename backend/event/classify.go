package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Waridley/crumbeez/shared"
)

// HostEvent is the raw, at-least-once notification shape delivered by the
// host event source. Type names the claimed kind; Data carries the
// kind-specific fields, unvalidated.
type HostEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	PaneID    string          `json:"pane_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Classifier turns raw host events into validated Events. It is stateful:
// the host stream is at-least-once, so consecutive duplicate focus
// notifications for the same pane are swallowed here.
type Classifier struct {
	now       func() time.Time
	lastFocus map[string]string
}

type ClassifierOption func(*Classifier)

func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		c.now = now
	}
}

func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		now:       time.Now,
		lastFocus: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the semantic event for raw, or nil when the notification
// carries no semantic value (render ticks, unknown types, duplicate focus).
// A raw event that claims a known kind but is missing required payload
// fields fails with a malformed-event error; the caller must count and skip
// it rather than append it.
func (c *Classifier) Classify(raw HostEvent) (*Event, error) {
	kind := Kind(raw.Type)

	var payload Payload
	var missing []string

	switch kind {
	case KindPaneFocused:
		var wire struct {
			TabName   string  `json:"tab_name"`
			PaneTitle *string `json:"pane_title"`
			Command   string  `json:"command"`
			IsPlugin  bool    `json:"is_plugin"`
		}
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		if wire.PaneTitle == nil {
			missing = append(missing, "pane_title")
			break
		}
		if c.lastFocus[raw.SessionID] == raw.PaneID {
			// Duplicate focus notification for the already-focused pane.
			return nil, nil
		}
		c.lastFocus[raw.SessionID] = raw.PaneID
		payload = &PaneFocusedPayload{
			TabName:   wire.TabName,
			PaneTitle: *wire.PaneTitle,
			Command:   wire.Command,
			IsPlugin:  wire.IsPlugin,
		}

	case KindCommandStarted:
		var wire struct {
			Command *string `json:"command"`
			Cwd     string  `json:"cwd"`
		}
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		if wire.Command == nil {
			missing = append(missing, "command")
			break
		}
		payload = &CommandStartedPayload{Command: *wire.Command, Cwd: wire.Cwd}

	case KindCommandCompleted:
		var wire struct {
			Command  *string `json:"command"`
			ExitCode *int    `json:"exit_code"`
		}
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		if wire.Command == nil {
			missing = append(missing, "command")
		}
		if wire.ExitCode == nil {
			missing = append(missing, "exit_code")
		}
		if len(missing) > 0 {
			break
		}
		payload = &CommandCompletedPayload{Command: *wire.Command, ExitCode: *wire.ExitCode}

	case KindFileModified:
		var wire struct {
			Path *string `json:"path"`
			Op   string  `json:"op"`
		}
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		if wire.Path == nil || *wire.Path == "" {
			missing = append(missing, "path")
			break
		}
		payload = &FileModifiedPayload{Path: *wire.Path, Op: wire.Op}

	case KindEditorSessionBoundary:
		var wire EditorSessionBoundaryPayload
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		payload = &wire

	case KindTestRunCompleted:
		var wire struct {
			Status *string `json:"status"`
			Passed int     `json:"passed"`
			Failed int     `json:"failed"`
		}
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		if wire.Status == nil {
			missing = append(missing, "status")
			break
		}
		payload = &TestRunCompletedPayload{Status: *wire.Status, Passed: wire.Passed, Failed: wire.Failed}

	case KindBuildRunCompleted:
		var wire struct {
			Status *string `json:"status"`
			Target string  `json:"target"`
		}
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		if wire.Status == nil {
			missing = append(missing, "status")
			break
		}
		payload = &BuildRunCompletedPayload{Status: *wire.Status, Target: wire.Target}

	case KindGitCommitRecorded:
		var wire struct {
			Hash    *string  `json:"hash"`
			Subject string   `json:"subject"`
			Files   []string `json:"files"`
		}
		if err := c.decode(raw, &wire); err != nil {
			return nil, err
		}
		if wire.Hash == nil || *wire.Hash == "" {
			missing = append(missing, "hash")
			break
		}
		payload = &GitCommitRecordedPayload{Hash: *wire.Hash, Subject: wire.Subject, Files: wire.Files}

	default:
		// Render ticks, scroll updates and anything else we don't recognize
		// carry no semantic value.
		return nil, nil
	}

	if raw.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if raw.PaneID == "" {
		missing = append(missing, "pane_id")
	}
	if len(missing) > 0 {
		return nil, shared.Errorf(shared.ErrorKindMalformedEvent,
			"%s event missing required fields: %s", kind, strings.Join(missing, ", "))
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}

	return &Event{
		Timestamp: ts,
		Key:       CorrelationKey{SessionID: raw.SessionID, PaneID: raw.PaneID},
		Kind:      kind,
		Payload:   payload,
	}, nil
}

func (c *Classifier) decode(raw HostEvent, into any) error {
	if len(raw.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Data, into); err != nil {
		return shared.Wrap(shared.ErrorKindMalformedEvent, err,
			"%s event payload is not valid JSON", raw.Type)
	}
	return nil
}
