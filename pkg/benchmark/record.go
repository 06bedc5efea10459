package benchmark

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

// Outcome labels a record line.
type Outcome string

const (
	// Attempt is written before the stress step, so a crash leaves the
	// offset that was under test as the last line.
	Attempt   Outcome = "attempt"
	Stable    Outcome = "stable"
	Unstable  Outcome = "unstable"
	Failed    Outcome = "failed"
	Cancelled Outcome = "cancelled"
)

// Entry is one line of the benchmark record.
type Entry struct {
	Time      time.Time
	RunID     string
	Iteration int
	Offsets   voltage.OffsetRequest
	Outcome   Outcome
	Err       string
}

// String renders the entry as a single line without the trailing newline:
//
//	2026-10-18T18:41:00.123Z run=<uuid> iter=3 core=-150.39 cache=-150.39 outcome=stable
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Time.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, " run=%s iter=%d", e.RunID, e.Iteration)
	if len(e.Offsets) > 0 {
		b.WriteByte(' ')
		b.WriteString(e.Offsets.Format())
	}
	fmt.Fprintf(&b, " outcome=%s", e.Outcome)
	if e.Err != "" {
		fmt.Fprintf(&b, " err=%s", strconv.Quote(e.Err))
	}
	return b.String()
}

// ParseLine parses a line produced by Entry.String.
func ParseLine(line string) (Entry, error) {
	line = strings.TrimSpace(line)
	var e Entry
	if i := strings.Index(line, " err="); i >= 0 {
		msg, err := strconv.Unquote(line[i+len(" err="):])
		if err != nil {
			return Entry{}, fmt.Errorf("%w: err field: %v", ErrMalformedLine, err)
		}
		e.Err = msg
		line = line[:i]
	}

	fs := strings.Fields(line)
	if len(fs) < 4 {
		return Entry{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	ts, err := time.Parse(time.RFC3339Nano, fs[0])
	if err != nil {
		return Entry{}, fmt.Errorf("%w: time: %v", ErrMalformedLine, err)
	}
	e.Time = ts

	for _, f := range fs[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return Entry{}, fmt.Errorf("%w: field %q", ErrMalformedLine, f)
		}
		switch key {
		case "run":
			e.RunID = val
		case "iter":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Entry{}, fmt.Errorf("%w: iter: %v", ErrMalformedLine, err)
			}
			e.Iteration = n
		case "outcome":
			e.Outcome = Outcome(val)
		default:
			p, err := voltage.ParsePlane(key)
			if err != nil {
				return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
			}
			mv, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return Entry{}, fmt.Errorf("%w: %s: %v", ErrMalformedLine, key, err)
			}
			if e.Offsets == nil {
				e.Offsets = voltage.OffsetRequest{}
			}
			e.Offsets[p] = types.Millivolts(mv)
		}
	}
	if e.Outcome == "" {
		return Entry{}, fmt.Errorf("%w: missing outcome", ErrMalformedLine)
	}
	return e, nil
}

// ReadEntries parses every non-empty line of r. A torn final line (a crash
// mid-write) is skipped.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var (
		out  []Entry
		bad  error
		sc   = bufio.NewScanner(r)
		line int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if bad != nil {
			return nil, bad
		}
		e, err := ParseLine(text)
		if err != nil {
			bad = fmt.Errorf("line %d: %w", line, err)
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// LastUnconfirmed returns the last attempt that never got an outcome: the
// offset that was under stress when the machine went down.
func LastUnconfirmed(entries []Entry) (Entry, bool) {
	type key struct {
		run  string
		iter int
	}
	done := map[key]bool{}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		k := key{e.RunID, e.Iteration}
		if e.Outcome != Attempt {
			done[k] = true
			continue
		}
		if !done[k] {
			return e, true
		}
	}
	return Entry{}, false
}

// LastStable returns the most recent stable entry.
func LastStable(entries []Entry) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Outcome == Stable {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// Record is an append-only, line oriented benchmark log fanned out to one
// or more sinks. Each line is written and synced to every sink before
// Append returns.
type Record struct {
	mu    sync.Mutex
	sinks []io.Writer
}

// NewRecord returns a Record writing to sinks.
func NewRecord(sinks ...io.Writer) *Record {
	return &Record{sinks: sinks}
}

type syncer interface{ Sync() error }

// Append writes e as one line to every sink and flushes sinks that can be
// synced. Terminals and pipes reject fsync with EINVAL; that is ignored.
func (r *Record) Append(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := e.String() + "\n"
	for _, w := range r.sinks {
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("record: write: %w", err)
		}
		if s, ok := w.(syncer); ok {
			if err := s.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTSUP) {
				return fmt.Errorf("record: sync: %w", err)
			}
		}
	}
	return nil
}

// OpenFile opens path for appending, creating it and its directory. A torn
// last line is removed first.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	if err := trimTornTail(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("record: %w", err)
	}
	return f, nil
}

// trimTornTail drops a trailing partial line left by a crash mid-Append, so
// the next entry starts on its own line. The fragment was never
// acknowledged, so no stress run depends on it.
func trimTornTail(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	end := st.Size()
	buf := make([]byte, 4096)
	for off := end; off > 0; {
		n := int64(len(buf))
		if off < n {
			n = off
		}
		off -= n
		if _, err := f.ReadAt(buf[:n], off); err != nil {
			return err
		}
		i := bytes.LastIndexByte(buf[:n], '\n')
		if i < 0 {
			continue
		}
		keep := off + int64(i) + 1
		if keep == end {
			return nil
		}
		return truncate(f, keep)
	}
	if end == 0 {
		return nil
	}
	return truncate(f, 0)
}

func truncate(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	return f.Sync()
}
