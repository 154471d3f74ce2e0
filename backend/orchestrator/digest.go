package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Waridley/crumbeez/backend/enrich"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/backend/summarizer"
)

// digestBuilder turns the raw member events of a task into the bounded
// summarization input: rendered event lines with identical runs collapsed,
// plus a plain-text digest for narrative backends.
type digestBuilder struct {
	maxEvents int
	maxBytes  int
}

func (b *digestBuilder) Build(members, carried []*event.Event) (string, []summarizer.EventLine) {
	lines := make([]summarizer.EventLine, 0, len(members)+len(carried))
	lines = appendCollapsed(lines, carried, true)
	lines = appendCollapsed(lines, members, false)

	omitted := 0
	if len(lines) > b.maxEvents {
		omitted = len(lines) - b.maxEvents
		lines = lines[omitted:]
	}

	digest := renderDigest(lines, omitted)
	for len(digest) > b.maxBytes && len(lines) > 1 {
		omitted++
		lines = lines[1:]
		digest = renderDigest(lines, omitted)
	}

	return digest, lines
}

// appendCollapsed renders events into lines, folding consecutive events with
// identical rendered text (repeated saves of the same file, mostly) into a
// single counted line.
func appendCollapsed(lines []summarizer.EventLine, events []*event.Event, carriedOver bool) []summarizer.EventLine {
	for _, ev := range events {
		text := event.Describe(ev)
		if n := len(lines); n > 0 {
			last := &lines[n-1]
			if last.Kind == ev.Kind && last.Text == text && last.CarriedOver == carriedOver {
				last.Count++
				last.Timestamp = ev.Timestamp
				last.SequenceID = ev.SequenceID
				continue
			}
		}
		lines = append(lines, summarizer.EventLine{
			SequenceID:  ev.SequenceID,
			Timestamp:   ev.Timestamp,
			Kind:        ev.Kind,
			Text:        text,
			Count:       1,
			CarriedOver: carriedOver,
		})
	}
	return lines
}

func renderDigest(lines []summarizer.EventLine, omitted int) string {
	var sb strings.Builder
	if omitted > 0 {
		fmt.Fprintf(&sb, "(%d earlier events omitted)\n", omitted)
	}
	for _, line := range lines {
		sb.WriteString("- ")
		sb.WriteString(line.Timestamp.UTC().Format("15:04:05"))
		sb.WriteString(" ")
		sb.WriteString(line.Text)
		if line.Count > 1 {
			fmt.Fprintf(&sb, " ×%d", line.Count)
		}
		if line.CarriedOver {
			sb.WriteString(" (carried over)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// enrichKeys derives the provider lookup keys from a task's member events:
// the last working directory seen, the distinct files touched, and the last
// recorded commit.
func enrichKeys(events []*event.Event) enrich.Keys {
	var keys enrich.Keys
	seen := make(map[string]struct{})

	for _, ev := range events {
		switch payload := ev.Payload.(type) {
		case *event.CommandStartedPayload:
			if payload.Cwd != "" {
				keys.RepoRoot = payload.Cwd
			}
		case *event.FileModifiedPayload:
			if _, ok := seen[payload.Path]; !ok {
				seen[payload.Path] = struct{}{}
				keys.Files = append(keys.Files, payload.Path)
			}
		case *event.GitCommitRecordedPayload:
			keys.CommitHash = payload.Hash
		}
	}
	return keys
}
