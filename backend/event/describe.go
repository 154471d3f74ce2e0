package event

import "fmt"

// Describe renders one event as a short human-readable line, shared by the
// digest builder and the replay command.
func Describe(ev *Event) string {
	switch payload := ev.Payload.(type) {
	case *PaneFocusedPayload:
		if payload.TabName != "" {
			return fmt.Sprintf("focused pane %q (tab %s)", payload.PaneTitle, payload.TabName)
		}
		return fmt.Sprintf("focused pane %q", payload.PaneTitle)
	case *CommandStartedPayload:
		if payload.Cwd != "" {
			return fmt.Sprintf("ran `%s` in %s", payload.Command, payload.Cwd)
		}
		return fmt.Sprintf("ran `%s`", payload.Command)
	case *CommandCompletedPayload:
		if payload.ExitCode == 0 {
			return fmt.Sprintf("`%s` succeeded", payload.Command)
		}
		if payload.ExitCode < 0 {
			return fmt.Sprintf("`%s` was interrupted", payload.Command)
		}
		return fmt.Sprintf("`%s` failed with exit code %d", payload.Command, payload.ExitCode)
	case *FileModifiedPayload:
		op := payload.Op
		if op == "" {
			op = "modified"
		}
		return fmt.Sprintf("%s %s", op, payload.Path)
	case *EditorSessionBoundaryPayload:
		if payload.Editor != "" {
			return fmt.Sprintf("closed %s session", payload.Editor)
		}
		return "closed editor session"
	case *TestRunCompletedPayload:
		return fmt.Sprintf("test run %s (%d passed, %d failed)", payload.Status, payload.Passed, payload.Failed)
	case *BuildRunCompletedPayload:
		if payload.Target != "" {
			return fmt.Sprintf("build of %s %s", payload.Target, payload.Status)
		}
		return fmt.Sprintf("build %s", payload.Status)
	case *GitCommitRecordedPayload:
		return fmt.Sprintf("committed %s %q", payload.Hash, payload.Subject)
	default:
		return string(ev.Kind)
	}
}
