package summarylog_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Waridley/crumbeez/backend/summarylog"
)

func memFs() *afero.Afero {
	return &afero.Afero{Fs: afero.NewMemMapFs()}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sample(seqs ...uint64) *summarylog.Summary {
	return &summarylog.Summary{
		SessionID:   "alpha",
		PaneID:      "pane-1",
		WindowStart: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 3, 14, 9, 20, 0, 0, time.UTC),
		SequenceIDs: seqs,
		Backend:     "noop",
		CreatedAt:   time.Date(2026, 3, 14, 9, 20, 5, 0, time.UTC),
		Text:        "Fixed the parser and got the tests green.",
	}
}

func TestLog_AppendThenReplayHeaders(t *testing.T) {
	t.Parallel()

	fs := memFs()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	log, err := summarylog.Open(fs, "/data/summaries", summarylog.WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	if err := log.Append(sample(1, 2, 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(sample(4, 5)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	replayed, err := log.Replay()
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(replayed))
	}
	if diff := cmp.Diff([]uint64{1, 2, 3}, replayed[0].SequenceIDs); diff != "" {
		t.Errorf("unexpected sequence ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{4, 5}, replayed[1].SequenceIDs); diff != "" {
		t.Errorf("unexpected sequence ids (-want +got):\n%s", diff)
	}
}

func TestLog_BlocksAreReadableMarkdown(t *testing.T) {
	t.Parallel()

	fs := memFs()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	log, err := summarylog.Open(fs, "/data/summaries", summarylog.WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	if err := log.Append(sample(1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	content, err := fs.ReadFile("/data/summaries/summaries-2026-03-14.md")
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	text := string(content)

	if !strings.Contains(text, "<!-- crumbeez:summary ") {
		t.Error("block must start with the machine-readable header")
	}
	if !strings.Contains(text, "## alpha/pane-1") {
		t.Errorf("block must carry a human-readable heading, got:\n%s", text)
	}
	if !strings.Contains(text, "Fixed the parser") {
		t.Error("block must contain the summary text")
	}
}

func TestLog_PartialTailBlockIsIgnored(t *testing.T) {
	t.Parallel()

	fs := memFs()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	log, err := summarylog.Open(fs, "/data/summaries", summarylog.WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := log.Append(sample(1, 2)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	log.Close()

	// Crash mid-append: the next block's header never got its newline.
	segment := "/data/summaries/summaries-2026-03-14.md"
	file, err := fs.OpenFile(segment, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := file.WriteString(`<!-- crumbeez:summary {"session_id":"alpha","pane_id":"pane-1","sequence_i`); err != nil {
		t.Fatalf("write partial block: %v", err)
	}
	file.Close()

	reopened, err := summarylog.Open(fs, "/data/summaries", summarylog.WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	replayed, err := reopened.Replay()
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != 1 {
		t.Errorf("expected only the durable summary, got %d", len(replayed))
	}
}
