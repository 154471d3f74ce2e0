// Package eventlog implements the durable, append-only event store. Events
// are written one JSON line at a time into date-segmented files and fsynced
// before the assigned sequence id is returned: if Append returns, the event
// survives a crash.
package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/shared"
)

const (
	segmentPrefix = "events-"
	segmentSuffix = ".log"

	// DefaultMaxSegmentSize is the size threshold that rolls a segment
	// before its date does.
	DefaultMaxSegmentSize int64 = 64 << 20

	lockFileName = "LOCK"
)

type Log struct {
	fs  *afero.Afero
	dir string
	now func() time.Time

	lock *flock.Flock

	file     afero.File
	segDate  string
	segIndex int
	segSize  int64

	maxSegmentSize int64
	nextSeq        uint64
}

type Option func(*Log)

func WithMaxSegmentSize(n int64) Option {
	return func(l *Log) {
		l.maxSegmentSize = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithExclusiveLock takes an advisory flock on <dir>/LOCK so a second
// process cannot corrupt the single-writer log. Only meaningful on a real
// filesystem; tests on afero.MemMapFs skip it.
func WithExclusiveLock() Option {
	return func(l *Log) {
		l.lock = flock.New(filepath.Join(l.dir, lockFileName))
	}
}

// Open prepares dir for appending: it replays all existing segments to
// recover the last assigned sequence id, then positions the log at the
// current segment.
func Open(fs *afero.Afero, dir string, opts ...Option) (*Log, error) {
	l := &Log{
		fs:             fs,
		dir:            dir,
		now:            time.Now,
		maxSegmentSize: DefaultMaxSegmentSize,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to create event log directory %s", dir)
	}

	// Advisory flocks only exist on the real filesystem.
	if l.lock != nil {
		if _, ok := fs.Fs.(*afero.OsFs); !ok {
			l.lock = nil
		}
	}
	if l.lock != nil {
		locked, err := l.lock.TryLock()
		if err != nil {
			return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to lock event log directory %s", dir)
		}
		if !locked {
			return nil, shared.Errorf(shared.ErrorKindIoFailure, "event log directory %s is locked by another process", dir)
		}
	}

	segments, err := l.segments()
	if err != nil {
		return nil, err
	}

	reader := newReader(fs, segments)
	defer reader.Close()
	var last uint64
	for {
		ev, err := reader.Next()
		if err != nil {
			if err == ErrEndOfLog {
				break
			}
			return nil, err
		}
		if ev.SequenceID <= last {
			return nil, shared.Errorf(shared.ErrorKindIoFailure,
				"event log sequence regression: %d after %d", ev.SequenceID, last)
		}
		last = ev.SequenceID
	}
	l.nextSeq = last + 1

	if err := l.openCurrentSegment(segments); err != nil {
		return nil, err
	}

	return l, nil
}

// Append assigns the next sequence id, writes the event as one JSON line and
// syncs it to stable storage before returning the id.
func (l *Log) Append(ev *event.Event) (uint64, error) {
	stamped := *ev
	stamped.SequenceID = l.nextSeq

	line, err := json.Marshal(stamped)
	if err != nil {
		return 0, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to encode event")
	}
	line = append(line, '\n')

	if err := l.rollIfNeeded(int64(len(line))); err != nil {
		return 0, err
	}

	if _, err := l.file.Write(line); err != nil {
		return 0, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to append event to %s", l.file.Name())
	}

	// Once the write lands the record occupies this sequence id in the
	// segment whether or not the sync succeeds. Advance before syncing so a
	// retried append after a sync-only failure writes a fresh id instead of
	// duplicating this one, which would read back as a sequence regression.
	l.segSize += int64(len(line))
	l.nextSeq++

	if err := l.file.Sync(); err != nil {
		return 0, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to sync event log %s", l.file.Name())
	}

	ev.SequenceID = stamped.SequenceID
	return stamped.SequenceID, nil
}

// LastSequenceID returns the highest assigned sequence id, if any event has
// ever been appended.
func (l *Log) LastSequenceID() (uint64, bool) {
	if l.nextSeq <= 1 {
		return 0, false
	}
	return l.nextSeq - 1, true
}

// Replay returns a restartable reader over every fully-written event, in
// append order across all segments. A trailing partial record left by a
// crash is discarded and counted, not propagated.
func (l *Log) Replay() (*Reader, error) {
	segments, err := l.segments()
	if err != nil {
		return nil, err
	}
	return newReader(l.fs, segments), nil
}

// Collect reads the events with the given sequence ids, in sequence order.
// Missing ids are an error: members of a closed task were fsynced before the
// task closed, so they must exist.
func (l *Log) Collect(seqs []uint64) ([]*event.Event, error) {
	want := make(map[uint64]struct{}, len(seqs))
	for _, s := range seqs {
		want[s] = struct{}{}
	}

	reader, err := l.Replay()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	collected := make([]*event.Event, 0, len(seqs))
	for len(want) > 0 {
		ev, err := reader.Next()
		if err != nil {
			if err == ErrEndOfLog {
				break
			}
			return nil, err
		}
		if _, ok := want[ev.SequenceID]; ok {
			collected = append(collected, ev)
			delete(want, ev.SequenceID)
		}
	}

	if len(want) > 0 {
		return nil, shared.Errorf(shared.ErrorKindIoFailure,
			"event log is missing %d of %d requested events", len(want), len(seqs))
	}
	return collected, nil
}

func (l *Log) Close() error {
	var firstErr error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			firstErr = err
		}
		l.file = nil
	}
	if l.lock != nil {
		if err := l.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// segments returns all segment file paths in creation order. Names embed a
// zero-padded index so plain lexicographic order is creation order.
func (l *Log) segments() ([]string, error) {
	infos, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to list event log directory %s", l.dir)
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

func segmentName(date string, index int) string {
	return fmt.Sprintf("%s%s.%03d%s", segmentPrefix, date, index, segmentSuffix)
}

func parseSegmentName(name string) (date string, index int, ok bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	// trimmed is "YYYY-MM-DD.NNN"
	dot := strings.LastIndexByte(trimmed, '.')
	if dot < 0 {
		return "", 0, false
	}
	date = trimmed[:dot]
	if _, err := fmt.Sscanf(trimmed[dot+1:], "%d", &index); err != nil {
		return "", 0, false
	}
	return date, index, true
}

func (l *Log) openCurrentSegment(segments []string) error {
	today := l.now().UTC().Format(time.DateOnly)

	if len(segments) > 0 {
		lastName := filepath.Base(segments[len(segments)-1])
		date, index, ok := parseSegmentName(lastName)
		if ok && date == today {
			info, err := l.fs.Stat(segments[len(segments)-1])
			if err != nil {
				return shared.Wrap(shared.ErrorKindIoFailure, err, "failed to stat segment %s", lastName)
			}
			l.segDate = date
			l.segIndex = index
			l.segSize = info.Size()
			return l.openSegmentFile()
		}
	}

	l.segDate = today
	l.segIndex = 0
	l.segSize = 0
	return l.openSegmentFile()
}

func (l *Log) openSegmentFile() error {
	path := filepath.Join(l.dir, segmentName(l.segDate, l.segIndex))
	file, err := l.fs.OpenFile(path, osAppendFlags, 0600)
	if err != nil {
		return shared.Wrap(shared.ErrorKindIoFailure, err, "failed to open segment %s", path)
	}
	l.file = file
	return nil
}

func (l *Log) rollIfNeeded(incoming int64) error {
	today := l.now().UTC().Format(time.DateOnly)

	switch {
	case today != l.segDate:
		l.segDate = today
		l.segIndex = 0
	case l.segSize > 0 && l.segSize+incoming > l.maxSegmentSize:
		l.segIndex++
	default:
		return nil
	}

	if err := l.file.Close(); err != nil {
		slog.Warn("failed to close rolled event log segment", "error", err)
	}
	l.segSize = 0
	return l.openSegmentFile()
}
