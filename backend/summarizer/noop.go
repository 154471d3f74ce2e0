package summarizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NoopBackend produces a deterministic rendering of the raw event data: an
// event-kind histogram followed by the per-event lines. No narrative, no
// network. It never fails.
type NoopBackend struct{}

func NewNoopBackend() *NoopBackend {
	return &NoopBackend{}
}

func (b *NoopBackend) Name() string {
	return "noop"
}

func (b *NoopBackend) Summarize(_ context.Context, req *Request) (string, error) {
	counts := make(map[string]int)
	for _, line := range req.Events {
		n := line.Count
		if n < 1 {
			n = 1
		}
		counts[string(line.Kind)] += n
	}

	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d events", len(req.Events))
	if len(kinds) > 0 {
		sb.WriteString(" (")
		for i, kind := range kinds {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %d", kind, counts[kind])
		}
		sb.WriteString(")")
	}
	sb.WriteString("\n\n")

	for _, line := range req.Events {
		fmt.Fprintf(&sb, "- %s %s", line.Timestamp.UTC().Format(time.TimeOnly), line.Text)
		if line.Count > 1 {
			fmt.Fprintf(&sb, " ×%d", line.Count)
		}
		if line.CarriedOver {
			sb.WriteString(" (carried over)")
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}
