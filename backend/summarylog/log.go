// Package summarylog persists orchestrator output as human-readable
// Markdown, one block per completed task. Each block opens with a
// machine-readable comment header carrying the covered sequence ids, so
// startup replay recovers summarization progress without parsing prose.
package summarylog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Waridley/crumbeez/shared"
)

const (
	segmentPrefix = "summaries-"
	segmentSuffix = ".md"

	headerPrefix = "<!-- crumbeez:summary "
	headerSuffix = " -->"
)

// Summary is one appended record. SequenceIDs is the partition set: the
// events this summary consumed, in sequence order.
type Summary struct {
	SessionID          string    `json:"session_id"`
	PaneID             string    `json:"pane_id"`
	WindowStart        time.Time `json:"window_start"`
	WindowEnd          time.Time `json:"window_end"`
	SequenceIDs        []uint64  `json:"sequence_ids"`
	Backend            string    `json:"backend"`
	ContextUsed        []string  `json:"context_used,omitempty"`
	ContextUnavailable []string  `json:"context_unavailable,omitempty"`
	Checkpoint         bool      `json:"checkpoint,omitempty"`
	CreatedAt          time.Time `json:"created_at"`

	Text string `json:"-"`
}

type Log struct {
	fs  *afero.Afero
	dir string
	now func() time.Time

	file    afero.File
	segDate string
}

type Option func(*Log)

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

func Open(fs *afero.Afero, dir string, opts ...Option) (*Log, error) {
	l := &Log{
		fs:  fs,
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to create summary log directory %s", dir)
	}
	return l, nil
}

// Append writes one summary block and syncs it before returning. The whole
// block goes out in a single write so a crash leaves at most one partial
// block, detectable by its unterminated final line.
func (l *Log) Append(summary *Summary) error {
	if err := l.ensureSegment(); err != nil {
		return err
	}

	block, err := renderBlock(summary)
	if err != nil {
		return err
	}

	if _, err := l.file.Write([]byte(block)); err != nil {
		return shared.Wrap(shared.ErrorKindIoFailure, err, "failed to append summary to %s", l.file.Name())
	}
	if err := l.file.Sync(); err != nil {
		return shared.Wrap(shared.ErrorKindIoFailure, err, "failed to sync summary log %s", l.file.Name())
	}
	return nil
}

// Replay parses the headers of every durably-written summary block across
// all segments, in creation order.
func (l *Log) Replay() ([]*Summary, error) {
	segments, err := l.segments()
	if err != nil {
		return nil, err
	}

	var summaries []*Summary
	for _, path := range segments {
		file, err := l.fs.Open(path)
		if err != nil {
			return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to open summary segment %s", path)
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err == io.EOF {
				if strings.HasPrefix(line, headerPrefix) {
					// Unterminated header at the tail: the block never became
					// durable, so its task was never marked summarized.
					slog.Warn("discarding partial summary block at log tail", "segment", path)
				}
				break
			}
			if err != nil {
				file.Close()
				return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to read summary segment %s", path)
			}

			if !strings.HasPrefix(line, headerPrefix) {
				continue
			}
			raw := strings.TrimSuffix(strings.TrimPrefix(strings.TrimRight(line, "\n"), headerPrefix), headerSuffix)
			var summary Summary
			if err := json.Unmarshal([]byte(raw), &summary); err != nil {
				file.Close()
				return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "corrupt summary header in %s", path)
			}
			summaries = append(summaries, &summary)
		}
		file.Close()
	}
	return summaries, nil
}

func (l *Log) Close() error {
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Log) segments() ([]string, error) {
	infos, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to list summary log directory %s", l.dir)
	}

	var names []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(l.dir, name)
	}
	return paths, nil
}

func (l *Log) ensureSegment() error {
	today := l.now().UTC().Format(time.DateOnly)
	if l.file != nil && l.segDate == today {
		return nil
	}

	if l.file != nil {
		if err := l.file.Close(); err != nil {
			slog.Warn("failed to close rolled summary log segment", "error", err)
		}
	}

	path := filepath.Join(l.dir, segmentPrefix+today+segmentSuffix)
	file, err := l.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return shared.Wrap(shared.ErrorKindIoFailure, err, "failed to open summary segment %s", path)
	}
	l.file = file
	l.segDate = today
	return nil
}

func renderBlock(summary *Summary) (string, error) {
	header, err := json.Marshal(summary)
	if err != nil {
		return "", shared.Wrap(shared.ErrorKindIoFailure, err, "failed to encode summary header")
	}

	var sb strings.Builder
	sb.WriteString(headerPrefix)
	sb.Write(header)
	sb.WriteString(headerSuffix)
	sb.WriteString("\n")

	title := fmt.Sprintf("## %s/%s · %s – %s UTC",
		summary.SessionID,
		summary.PaneID,
		summary.WindowStart.UTC().Format("2006-01-02 15:04"),
		summary.WindowEnd.UTC().Format("15:04"),
	)
	if summary.Checkpoint {
		title += " (checkpoint)"
	}
	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimRight(summary.Text, "\n"))
	sb.WriteString("\n\n")
	return sb.String(), nil
}
