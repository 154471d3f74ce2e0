package event

import "fmt"

// Payload carries the kind-specific fields of an event. Implementations are
// plain structs; PayloadKind ties each back to its Kind constant.
type Payload interface {
	PayloadKind() Kind
}

// PaneFocusedPayload records keyboard focus moving to a pane. TabName and
// Command may be empty; plugin panes carry no command.
type PaneFocusedPayload struct {
	TabName   string `json:"tab_name,omitempty"`
	PaneTitle string `json:"pane_title"`
	Command   string `json:"command,omitempty"`
	IsPlugin  bool   `json:"is_plugin,omitempty"`
}

func (*PaneFocusedPayload) PayloadKind() Kind { return KindPaneFocused }

type CommandStartedPayload struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

func (*CommandStartedPayload) PayloadKind() Kind { return KindCommandStarted }

// CommandCompletedPayload records a command finishing. ExitCode < 0 means
// the command was killed or its status is unknown.
type CommandCompletedPayload struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
}

func (*CommandCompletedPayload) PayloadKind() Kind { return KindCommandCompleted }

type FileModifiedPayload struct {
	Path string `json:"path"`
	Op   string `json:"op,omitempty"`
}

func (*FileModifiedPayload) PayloadKind() Kind { return KindFileModified }

type EditorSessionBoundaryPayload struct {
	Editor string `json:"editor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (*EditorSessionBoundaryPayload) PayloadKind() Kind { return KindEditorSessionBoundary }

type TestRunCompletedPayload struct {
	Status string `json:"status"`
	Passed int    `json:"passed,omitempty"`
	Failed int    `json:"failed,omitempty"`
}

func (*TestRunCompletedPayload) PayloadKind() Kind { return KindTestRunCompleted }

type BuildRunCompletedPayload struct {
	Status string `json:"status"`
	Target string `json:"target,omitempty"`
}

func (*BuildRunCompletedPayload) PayloadKind() Kind { return KindBuildRunCompleted }

type GitCommitRecordedPayload struct {
	Hash    string   `json:"hash"`
	Subject string   `json:"subject,omitempty"`
	Files   []string `json:"files,omitempty"`
}

func (*GitCommitRecordedPayload) PayloadKind() Kind { return KindGitCommitRecorded }

func emptyPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindPaneFocused:
		return &PaneFocusedPayload{}, nil
	case KindCommandStarted:
		return &CommandStartedPayload{}, nil
	case KindCommandCompleted:
		return &CommandCompletedPayload{}, nil
	case KindFileModified:
		return &FileModifiedPayload{}, nil
	case KindEditorSessionBoundary:
		return &EditorSessionBoundaryPayload{}, nil
	case KindTestRunCompleted:
		return &TestRunCompletedPayload{}, nil
	case KindBuildRunCompleted:
		return &BuildRunCompletedPayload{}, nil
	case KindGitCommitRecorded:
		return &GitCommitRecordedPayload{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
