// Package jsonl reads line-delimited JSON streams.
//
// Every non-blank line is decoded on its own. A line that is not valid
// JSON, or that is longer than the line limit, produces a Line with a
// non-nil Err and reading continues with the next line. Values drops
// those lines so that a truncated or partially corrupt file still yields
// everything that can be read. A UTF-8 byte order mark before the first
// line is ignored.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// maxLineSize bounds a single line. Attempt records carrying long
// generations regularly exceed bufio's 64KiB default.
const maxLineSize = 64 * 1024 * 1024

var bom = []byte("\xEF\xBB\xBF")

// Line is the outcome of reading one non-blank input line.
type Line struct {
	// Number is the 1-based line number in the source.
	Number int
	// Value holds the raw JSON when Err is nil.
	Value json.RawMessage
	// Err is set when the line is invalid or the source failed.
	Err error
}

// Lines yields one Line per non-blank line of r in input order. A read
// error from r is reported as a final Line with Err set.
func Lines(r io.Reader) iter.Seq[Line] {
	return readLines(r, maxLineSize)
}

func readLines(r io.Reader, limit int) iter.Seq[Line] {
	return func(yield func(Line) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		n := 0

		for {
			raw, tooLong, err := readLine(br, limit)
			if err != nil && !errors.Is(err, io.EOF) {
				yield(Line{Number: n + 1, Err: fmt.Errorf("reading line %d: %w", n+1, err)})

				return
			}

			eof := err != nil
			if eof && len(raw) == 0 && !tooLong {
				return
			}

			n++

			if line, ok := parseLine(n, raw, tooLong, limit); ok && !yield(line) {
				return
			}

			if eof {
				return
			}
		}
	}
}

// readLine returns the next line of br including its terminator. Once a
// line grows past limit the rest of it is discarded and tooLong is set.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		line    []byte
		tooLong bool
	)

	for {
		chunk, err := br.ReadSlice('\n')

		if !tooLong {
			if len(line)+len(chunk) > limit {
				line, tooLong = nil, true
			} else {
				line = append(line, chunk...)
			}
		}

		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, tooLong, err
		}
	}
}

// parseLine turns line n into a Line. Blank lines report ok=false.
func parseLine(n int, raw []byte, tooLong bool, limit int) (Line, bool) {
	if tooLong {
		return Line{Number: n, Err: fmt.Errorf("line %d: longer than %d bytes", n, limit)}, true
	}

	if n == 1 {
		raw = bytes.TrimPrefix(raw, bom)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Line{}, false
	}

	if !json.Valid(raw) {
		return Line{Number: n, Err: fmt.Errorf("line %d: invalid json", n)}, true
	}

	return Line{Number: n, Value: json.RawMessage(raw)}, true
}

// Values yields the parsed values of r, silently dropping lines that fail.
func Values(r io.Reader) iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		for line := range Lines(r) {
			if line.Err != nil {
				continue
			}

			if !yield(line.Value) {
				return
			}
		}
	}
}

// Decode yields every line of r that decodes into T. Lines that are not
// valid JSON, or whose shape does not match T, are dropped.
func Decode[T any](r io.Reader) iter.Seq[T] {
	return func(yield func(T) bool) {
		for raw := range Values(r) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}

			if !yield(v) {
				return
			}
		}
	}
}
