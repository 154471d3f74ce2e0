package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/shared"
)

const osAppendFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND

// ErrEndOfLog is returned by Reader.Next after the last fully-written event.
var ErrEndOfLog = errors.New("end of event log")

// Reader iterates events across segments in creation order. A record whose
// line is not newline-terminated is a partial write from a crash: it can
// only sit at the tail of a segment and is discarded, not returned.
type Reader struct {
	fs        *afero.Afero
	segments  []string
	index     int
	file      afero.File
	buf       *bufio.Reader
	discarded int
}

func newReader(fs *afero.Afero, segments []string) *Reader {
	return &Reader{fs: fs, segments: segments}
}

// Next returns the next event, or ErrEndOfLog when the log is exhausted.
func (r *Reader) Next() (*event.Event, error) {
	for {
		if r.buf == nil {
			if r.index >= len(r.segments) {
				return nil, ErrEndOfLog
			}
			file, err := r.fs.Open(r.segments[r.index])
			if err != nil {
				return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to open segment %s", r.segments[r.index])
			}
			r.file = file
			r.buf = bufio.NewReader(file)
		}

		line, err := r.buf.ReadString('\n')
		if err == io.EOF {
			if len(strings.TrimSpace(line)) > 0 {
				// Trailing record without a newline: a crash interrupted the
				// write. Drop it; the event was never acknowledged.
				r.discarded++
				slog.Warn("discarding partial record at event log tail",
					"segment", r.segments[r.index],
					"bytes", len(line),
				)
			}
			r.closeCurrent()
			r.index++
			continue
		}
		if err != nil {
			return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "failed to read segment %s", r.segments[r.index])
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		var ev event.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, shared.Wrap(shared.ErrorKindIoFailure, err, "corrupt record in segment %s", r.segments[r.index])
		}
		return &ev, nil
	}
}

// Discarded reports how many partial tail records were dropped so far.
func (r *Reader) Discarded() int {
	return r.discarded
}

func (r *Reader) Close() error {
	r.closeCurrent()
	return nil
}

func (r *Reader) closeCurrent() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	r.buf = nil
}
