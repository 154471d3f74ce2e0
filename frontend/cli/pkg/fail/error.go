package fail

import (
	"fmt"
	"strings"

	"github.com/Waridley/crumbeez/frontend/cli/pkg/terminal"
)

// UserError renders an actionable message instead of a bare error string.
type UserError struct {
	Cause       error
	UserMessage string
	Solutions   []string
	TechDetails string
}

func (e *UserError) Error() string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("%s %s\n\n", terminal.ErrorSymbol, terminal.Bold(e.UserMessage)))

	if len(e.Solutions) > 0 {
		msg.WriteString(fmt.Sprintf("%s Try these solutions:\n", terminal.InfoSymbol))
		for i, solution := range e.Solutions {
			msg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
		msg.WriteString("\n")
	}

	if e.TechDetails != "" {
		msg.WriteString(fmt.Sprintf("Technical details: %s\n", e.TechDetails))
	}

	return msg.String()
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func NewLogLockedError(dir string, err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: "Another crumbeez process is already writing this event log",
		Solutions: []string{
			"Stop the other 'crumbeez run' instance first",
			"Point this instance at a different data directory with data_dir in the config",
			"Remove a stale LOCK file if the previous process crashed hard",
		},
		TechDetails: fmt.Sprintf("Failed to lock %s: %v", dir, err),
	}
}

func NewConfigError(path string, err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: "The configuration file could not be loaded",
		Solutions: []string{
			"Run 'crumbeez config init' to write a fresh default config",
			"Run 'crumbeez config show' to see the effective settings",
			fmt.Sprintf("Check the YAML syntax in %s", path),
		},
		TechDetails: err.Error(),
	}
}
