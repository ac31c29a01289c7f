// Package export renders enriched attempts as a spreadsheet-friendly CSV
// document.
package export

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vulntrex/vulntrex/pkg/query"
)

// utf8BOM lets spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

var fixedHeader = []string{
	"RunID",
	"AttemptID",
	"Sequence",
	"Probe",
	"Goal",
	"Detector",
	"Score",
	"HasHit",
	"Prompt",
}

const triggersHeader = "Triggers"

// Filename returns the download name for a run export.
func Filename(runID string) string {
	return fmt.Sprintf("garak-run-%s.csv", runID)
}

// OutputColumns returns how many "Output N" columns rows need: the
// longest outputs list, and never less than one.
func OutputColumns(rows []query.EnrichedAttempt) int {
	n := 1
	for i := range rows {
		n = max(n, len(rows[i].Outputs))
	}

	return n
}

// Header returns the header row for the given number of output columns.
func Header(outputs int) []string {
	header := make([]string, 0, len(fixedHeader)+outputs+1)
	header = append(header, fixedHeader...)

	for i := 1; i <= outputs; i++ {
		header = append(header, fmt.Sprintf("Output %d", i))
	}

	return append(header, triggersHeader)
}

// Record returns the CSV fields of one row, padded to outputs columns.
func Record(runID string, row *query.EnrichedAttempt, outputs int) []string {
	var detector, score, triggers string

	goal := row.Goal

	if h := row.HitlogData; h != nil {
		if h.Goal != "" {
			goal = h.Goal
		}

		detector = h.Detector
		score = strconv.FormatFloat(h.Score*100, 'f', 2, 64)
		triggers = strings.Join(h.Triggers, ", ")
	}

	hasHit := "No"
	if row.HasHit {
		hasHit = "Yes"
	}

	record := make([]string, 0, len(fixedHeader)+outputs+1)
	record = append(record,
		runID,
		row.UUID,
		strconv.Itoa(row.Seq),
		row.Probe,
		goal,
		detector,
		score,
		hasHit,
		row.Prompt,
	)

	for i := range outputs {
		if i < len(row.Outputs) {
			record = append(record, row.Outputs[i])
		} else {
			record = append(record, "")
		}
	}

	return append(record, triggers)
}

// Write renders rows to w as CSV with a byte-order mark. Every field is
// quoted, including empty ones.
func Write(w io.Writer, runID string, rows []query.EnrichedAttempt) error {
	cw := newQuotedWriter(w)

	if _, err := cw.w.WriteString(utf8BOM); err != nil {
		return fmt.Errorf("writing byte order mark: %w", err)
	}

	outputs := OutputColumns(rows)

	if err := cw.Write(Header(outputs)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i := range rows {
		if err := cw.Write(Record(runID, &rows[i], outputs)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	return cw.Flush()
}

// Render returns the complete CSV document for rows.
func Render(runID string, rows []query.EnrichedAttempt) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, runID, rows); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// RowSource yields the enriched attempts of a run.
type RowSource interface {
	Enriched(ctx context.Context, runID string) ([]query.EnrichedAttempt, error)
}

// Run renders the full export of a run. Errors from src are returned
// unwrapped so callers can match not-found conditions. Nothing is
// returned unless the whole document rendered.
func Run(ctx context.Context, src RowSource, runID string) ([]byte, error) {
	rows, err := src.Enriched(ctx, runID)
	if err != nil {
		return nil, err
	}

	return Render(runID, rows)
}

// quotedWriter writes records with every field enclosed in double quotes.
type quotedWriter struct {
	w *bufio.Writer
}

func newQuotedWriter(w io.Writer) *quotedWriter {
	return &quotedWriter{w: bufio.NewWriter(w)}
}

func (q *quotedWriter) Write(record []string) error {
	for i, field := range record {
		if i > 0 {
			if err := q.w.WriteByte(','); err != nil {
				return err
			}
		}

		if err := q.w.WriteByte('"'); err != nil {
			return err
		}

		if _, err := q.w.WriteString(strings.ReplaceAll(field, `"`, `""`)); err != nil {
			return err
		}

		if err := q.w.WriteByte('"'); err != nil {
			return err
		}
	}

	return q.w.WriteByte('\n')
}

func (q *quotedWriter) Flush() error {
	return q.w.Flush()
}
