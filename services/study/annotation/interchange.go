// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

// Label columns, in file order. Any further column is context.
const (
	HeaderSampleRef     = "sample_ref"
	HeaderErrorType     = "error_type"
	HeaderErrorLocation = "error_location"
	HeaderRecoverable   = "recoverable"
	HeaderNotes         = "notes"
)

// LabelHeaders is the fixed leading header of an interchange file.
var LabelHeaders = []string{HeaderSampleRef, HeaderErrorType, HeaderErrorLocation, HeaderRecoverable, HeaderNotes}

// Column is a bit set of label columns a row carries.
type Column uint8

const (
	ColumnErrorType Column = 1 << iota
	ColumnErrorLocation
	ColumnRecoverable
	ColumnNotes

	AllColumns = ColumnErrorType | ColumnErrorLocation | ColumnRecoverable | ColumnNotes
)

// Row is one imported task edit. Only columns in Present are applied.
// Cells are raw text; validation happens at import.
type Row struct {
	SampleRef     string
	ErrorType     string
	ErrorLocation string
	Recoverable   string
	Notes         string
	Present       Column
}

// Has reports whether the row carries column c.
func (r Row) Has(c Column) bool {
	return r.Present&c != 0
}

// RowFromTask renders a task as a full row.
func RowFromTask(t Task) Row {
	return Row{
		SampleRef:     t.SampleRef,
		ErrorType:     string(t.ErrorType),
		ErrorLocation: t.ErrorLocation,
		Recoverable:   string(t.Recoverable),
		Notes:         t.Notes,
		Present:       AllColumns,
	}
}

// ContextColumns adds read-only columns after the label columns. They help
// the annotator and are ignored on import.
type ContextColumns struct {
	Headers []string
	Values  func(Task) []string
}

// WriteTSV writes tasks with the label columns and optional context.
func WriteTSV(w io.Writer, tasks []Task, extra *ContextColumns) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	header := append([]string{}, LabelHeaders...)
	if extra != nil {
		header = append(header, extra.Headers...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, t := range tasks {
		rec := []string{
			t.SampleRef,
			string(t.ErrorType),
			t.ErrorLocation,
			string(t.Recoverable),
			t.Notes,
		}
		if extra != nil {
			vals := extra.Values(t)
			if len(vals) != len(extra.Headers) {
				return fmt.Errorf("context for %s has %d values, want %d", t.SampleRef, len(vals), len(extra.Headers))
			}
			rec = append(rec, vals...)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write %s: %w", t.SampleRef, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTSV parses an interchange file.
//
// Description:
//
//	The header decides which label columns each row carries, so a file
//	holding only sample_ref and notes edits notes alone. Unknown columns are
//	context and ignored. An empty error_type cell reads as unlabeled and an
//	empty recoverable cell as unset at import. Blank lines are skipped.
//
// Outputs:
//
//	[]Row - One per data line.
//	error - Missing sample_ref header, duplicate header, or a malformed line.
func ReadTSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("annotation file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		idx[h] = i
	}
	refCol, ok := idx[HeaderSampleRef]
	if !ok {
		return nil, fmt.Errorf("missing %s column", HeaderSampleRef)
	}

	var present Column
	colOf := map[string]Column{
		HeaderErrorType:     ColumnErrorType,
		HeaderErrorLocation: ColumnErrorLocation,
		HeaderRecoverable:   ColumnRecoverable,
		HeaderNotes:         ColumnNotes,
	}
	for name, c := range colOf {
		if _, ok := idx[name]; ok {
			present |= c
		}
	}

	cell := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok {
			return ""
		}
		return rec[i]
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read annotation file: %w", err)
		}
		ref := strings.TrimSpace(rec[refCol])
		if ref == "" {
			line, _ := cr.FieldPos(refCol)
			return nil, fmt.Errorf("line %d: empty %s", line, HeaderSampleRef)
		}
		rows = append(rows, Row{
			SampleRef:     ref,
			ErrorType:     cell(rec, HeaderErrorType),
			ErrorLocation: cell(rec, HeaderErrorLocation),
			Recoverable:   cell(rec, HeaderRecoverable),
			Notes:         cell(rec, HeaderNotes),
			Present:       present,
		})
	}
	return rows, nil
}

// contextTextRunes bounds the generated text shown to annotators.
const contextTextRunes = 1000

// SampleContext builds context columns from the samples behind each task.
//
// Inputs:
//
//	bySampleRef - Samples keyed by ref.
//	questions - Question text keyed by problem ID. May be nil.
//	suggest - Adds heuristic suggestion columns when true.
func SampleContext(bySampleRef map[string]samples.Sample, questions map[string]string, suggest bool) *ContextColumns {
	headers := []string{"question", "ground_truth", "generated", "predicted", "tokens_used"}
	if suggest {
		headers = append(headers, "suggested_error_type", "suggested_location", "suggested_recoverable", "suggestion_confidence")
	}
	return &ContextColumns{
		Headers: headers,
		Values: func(t Task) []string {
			s, ok := bySampleRef[t.SampleRef]
			if !ok {
				return make([]string, len(headers))
			}
			question := questions[s.ProblemID]
			predicted := "N/A"
			if s.ExtractedAnswer != nil {
				predicted = *s.ExtractedAnswer
			}
			vals := []string{
				question,
				s.GroundTruth,
				truncateRunes(s.GeneratedText, contextTextRunes),
				predicted,
				strconv.Itoa(s.TokensUsed),
			}
			if suggest {
				sg := Suggest(s, question)
				vals = append(vals,
					string(sg.ErrorType),
					sg.Location,
					string(sg.Recoverable),
					strconv.FormatFloat(sg.Confidence, 'f', 2, 64),
				)
			}
			return vals
		},
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
