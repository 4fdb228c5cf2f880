// Package journal implements the append-only JSONL event log backing each
// session (spec §4.1). A Journal is a thin wrapper around a single file: one
// JSON object per line, one newline terminator per event, CRLF and LF both
// accepted on read and collapsed to a single line break.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/telemetry"
)

// Journal is an append-only JSONL event log for one session. Writes are
// serialized by a per-instance mutex so concurrent appenders within a
// process never interleave partial lines (spec §5 "writer serializes
// per-session appends").
type Journal struct {
	path string
	log  telemetry.Logger

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Open lazily prepares a Journal bound to path. The underlying file is
// created (including parent directories) on first Append, not on Open,
// matching the teacher's lazy-stream-creation idiom (spec §9 Design Notes
// "Per-session append streams").
func Open(path string, log telemetry.Logger) *Journal {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Journal{path: path, log: log}
}

// Path returns the underlying file path.
func (j *Journal) Path() string { return j.path }

// Append writes one event as a single JSON line terminated by '\n'. The
// write is flushed immediately so readers observe it as soon as the OS
// makes it visible; Journal does not buffer across calls.
func (j *Journal) Append(ctx context.Context, e *event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.ensureOpenLocked(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal event: %w", err)
	}
	b = append(b, '\n')
	if _, err := j.w.Write(b); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return j.w.Flush()
}

func (j *Journal) ensureOpenLocked() error {
	if j.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	j.file = f
	j.w = bufio.NewWriter(f)
	return nil
}

// Close flushes and releases the underlying file handle. Safe to call when
// the stream was never opened. Part of the explicit
// flushAllSessionStreams-style shutdown path (spec §9).
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	if err := j.w.Flush(); err != nil {
		_ = j.file.Close()
		j.file = nil
		return err
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Stat returns the size and modification time of the journal file. Returns
// os.ErrNotExist wrapped when the file has never been written.
func (j *Journal) Stat() (os.FileInfo, error) {
	return os.Stat(j.path)
}

// ReadAll reads and parses every well-formed line in the journal. Malformed
// lines are skipped with a warning rather than aborting the read (spec
// §4.1). Returns an empty, non-nil slice when the file does not exist.
func (j *Journal) ReadAll(ctx context.Context) ([]*event.Event, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return []*event.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open for read: %w", err)
	}
	defer f.Close()

	var out []*event.Event
	sc := newLineScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			j.log.Warn(ctx, "journal: skipping malformed line", "path", j.path, "error", err.Error())
			continue
		}
		out = append(out, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan: %w", err)
	}
	if out == nil {
		out = []*event.Event{}
	}
	return out, nil
}

// FirstSecondLast is the O(constant-buffers) metadata probe used by
// getMetadata (spec §4.2): it reads only enough of the file to determine
// the first line, the second line (if any), and the last line, regardless
// of total file size.
type FirstSecondLast struct {
	First  string
	Second string
	Last   string
}

// ReadFirstSecondLast implements the bounded probe described in spec §4.1
// and the boundary behavior in spec §8 ("on a 1-line file returns
// first==last, second==\"\""). It reads forward for the first two lines
// and reads backward from EOF for the last line, never scanning the whole
// file.
func (j *Journal) ReadFirstSecondLast() (FirstSecondLast, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return FirstSecondLast{}, nil
	}
	if err != nil {
		return FirstSecondLast{}, fmt.Errorf("journal: open for read: %w", err)
	}
	defer f.Close()

	first, second, err := readFirstTwoLines(f)
	if err != nil {
		return FirstSecondLast{}, err
	}
	last, err := readLastLine(f)
	if err != nil {
		return FirstSecondLast{}, err
	}
	if first != "" && last == "" {
		// Single line with no trailing newline: last-line backward scan can
		// miss a file whose only content precedes EOF without a terminator.
		last = first
	}
	if first != "" && second == "" && last == first {
		// Single-line file: first == last, second == "" (spec §8).
		return FirstSecondLast{First: first, Second: "", Last: last}, nil
	}
	return FirstSecondLast{First: first, Second: second, Last: last}, nil
}

const probeBufSize = 4096

// readFirstTwoLines scans forward from the start of the file using a small
// fixed buffer, normalizing CRLF to LF, and returns the first two complete
// (or EOF-terminated) lines.
func readFirstTwoLines(f *os.File) (string, string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", "", err
	}
	sc := newLineScanner(f)
	var lines [2]string
	n := 0
	for n < 2 && sc.Scan() {
		lines[n] = string(sc.Bytes())
		n++
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	return lines[0], lines[1], nil
}

// readLastLine reads backward from EOF in fixed-size chunks until it finds
// a newline or reaches the start of the file, returning the final
// normalized line. This keeps the operation O(constant buffers) on large
// files: it never scans forward from the beginning.
func readLastLine(f *os.File) (string, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}

	var tail []byte
	pos := size
	for pos > 0 {
		chunk := int64(probeBufSize)
		if pos < chunk {
			chunk = pos
		}
		pos -= chunk
		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, pos); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		tail = append(buf, tail...)

		trimmed := bytes.TrimRight(tail, "\r\n")
		if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
			return normalizeLine(trimmed[idx+1:]), nil
		}
		if pos == 0 {
			return normalizeLine(trimmed), nil
		}
	}
	return normalizeLine(bytes.TrimRight(tail, "\r\n")), nil
}

func normalizeLine(b []byte) string {
	return string(bytes.TrimRight(b, "\r"))
}
