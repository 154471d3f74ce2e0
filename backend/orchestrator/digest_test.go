package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Waridley/crumbeez/backend/event"
)

func fileEdit(seq uint64, path string, second int) *event.Event {
	return &event.Event{
		SequenceID: seq,
		Timestamp:  time.Date(2026, 3, 14, 9, 0, second, 0, time.UTC),
		Key:        event.CorrelationKey{SessionID: "alpha", PaneID: "pane-1"},
		Kind:       event.KindFileModified,
		Payload:    &event.FileModifiedPayload{Path: path},
	}
}

func TestDigestBuilder_CollapsesIdenticalRuns(t *testing.T) {
	t.Parallel()

	builder := &digestBuilder{maxEvents: 100, maxBytes: 1 << 16}
	members := []*event.Event{
		fileEdit(1, "main.go", 0),
		fileEdit(2, "main.go", 5),
		fileEdit(3, "main.go", 9),
		fileEdit(4, "parse.go", 15),
	}

	digest, lines := builder.Build(members, nil)

	if len(lines) != 2 {
		t.Fatalf("expected 2 collapsed lines, got %d", len(lines))
	}
	if lines[0].Count != 3 || lines[0].SequenceID != 3 {
		t.Errorf("expected the run collapsed into count 3 ending at seq 3, got %+v", lines[0])
	}
	if !strings.Contains(digest, "×3") {
		t.Errorf("digest must show the collapsed count:\n%s", digest)
	}
}

func TestDigestBuilder_CarriedEventsComeFirstAndAreTagged(t *testing.T) {
	t.Parallel()

	builder := &digestBuilder{maxEvents: 100, maxBytes: 1 << 16}
	carried := []*event.Event{fileEdit(1, "old.go", 0)}
	members := []*event.Event{fileEdit(5, "new.go", 30)}

	digest, lines := builder.Build(members, carried)

	if !lines[0].CarriedOver || lines[0].SequenceID != 1 {
		t.Errorf("carried events must lead the digest, got %+v", lines[0])
	}
	if lines[1].CarriedOver {
		t.Errorf("members must not be tagged carried over, got %+v", lines[1])
	}
	if !strings.Contains(digest, "(carried over)") {
		t.Errorf("digest must tag carried events:\n%s", digest)
	}
}

func TestDigestBuilder_EnforcesEventBudget(t *testing.T) {
	t.Parallel()

	builder := &digestBuilder{maxEvents: 3, maxBytes: 1 << 16}
	var members []*event.Event
	for i := 1; i <= 10; i++ {
		members = append(members, fileEdit(uint64(i), "file"+string(rune('a'+i))+".go", i))
	}

	digest, lines := builder.Build(members, nil)

	if len(lines) != 3 {
		t.Fatalf("expected the budget to keep 3 lines, got %d", len(lines))
	}
	if lines[len(lines)-1].SequenceID != 10 {
		t.Errorf("truncation must keep the newest events, got %+v", lines[len(lines)-1])
	}
	if !strings.Contains(digest, "earlier events omitted") {
		t.Errorf("digest must note the omission:\n%s", digest)
	}
}

func TestDigestBuilder_EnforcesByteBudget(t *testing.T) {
	t.Parallel()

	builder := &digestBuilder{maxEvents: 100, maxBytes: 200}
	var members []*event.Event
	for i := 1; i <= 20; i++ {
		members = append(members, fileEdit(uint64(i), strings.Repeat("deep/", 5)+"file.go", i))
	}
	// Distinct paths defeat run collapsing.
	for i, ev := range members {
		ev.Payload = &event.FileModifiedPayload{Path: strings.Repeat("x", i) + ".go"}
	}

	digest, lines := builder.Build(members, nil)

	if len(digest) > 200+80 {
		t.Errorf("digest exceeds the byte budget: %d bytes", len(digest))
	}
	if lines[len(lines)-1].SequenceID != 20 {
		t.Errorf("byte truncation must keep the newest events, got %+v", lines[len(lines)-1])
	}
}

func TestEnrichKeys_DerivedFromMembers(t *testing.T) {
	t.Parallel()

	members := []*event.Event{
		{
			SequenceID: 1,
			Kind:       event.KindCommandStarted,
			Payload:    &event.CommandStartedPayload{Command: "go test", Cwd: "/work/crumbeez"},
		},
		fileEdit(2, "main.go", 5),
		fileEdit(3, "main.go", 6),
		{
			SequenceID: 4,
			Kind:       event.KindGitCommitRecorded,
			Payload:    &event.GitCommitRecordedPayload{Hash: "abc1234", Subject: "fix"},
		},
	}

	keys := enrichKeys(members)
	if keys.RepoRoot != "/work/crumbeez" {
		t.Errorf("expected repo root from the last cwd, got %q", keys.RepoRoot)
	}
	if diff := cmp.Diff([]string{"main.go"}, keys.Files); diff != "" {
		t.Errorf("expected deduplicated files (-want +got):\n%s", diff)
	}
	if keys.CommitHash != "abc1234" {
		t.Errorf("expected the recorded commit hash, got %q", keys.CommitHash)
	}
}
