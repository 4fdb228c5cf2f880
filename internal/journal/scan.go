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

	"github.com/machellerogden/thinksuit/internal/event"
)

// newLineScanner returns a bufio.Scanner configured with a split function
// that treats both "\n" and "\r\n" as line terminators, collapsing a CRLF
// split across buffer boundaries into a single line break (spec §4.1,
// §8 "CRLF split across buffer boundaries is collapsed to a single line
// break"). bufio.ScanLines already strips a trailing '\r', which handles
// this correctly even when the '\r' and '\n' land in different underlying
// reads, because bufio.Scanner re-fills its buffer before re-running the
// split function on a short match.
func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanLines)
	return sc
}

// ReadLinesFrom is a forward byte-scan that counts normalized newlines and
// returns every event starting at the given zero-based line index
// (spec §4.1). At index == lineCount or index > lineCount it returns an
// empty slice (spec §8).
func (j *Journal) ReadLinesFrom(ctx context.Context, index int) ([]*event.Event, error) {
	if index < 0 {
		index = 0
	}
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
	line := 0
	for sc.Scan() {
		if line < index {
			line++
			continue
		}
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var e event.Event
		if err := json.Unmarshal(raw, &e); err != nil {
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
