// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package samples

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// maxLogLine bounds one JSONL line. Generated texts at the largest budgets
// stay well under this.
const maxLogLine = 16 << 20

// WriteLog writes samples as JSONL, one Sample per line.
//
// Outputs:
//
//	int - Number of samples written.
//	error - The first iteration or write error.
func WriteLog(w io.Writer, seq iter.Seq2[Sample, error]) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	n := 0
	for sample, err := range seq {
		if err != nil {
			return n, err
		}
		if err := enc.Encode(sample); err != nil {
			return n, fmt.Errorf("write sample %s: %w", sample.Key(), err)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flush sample log: %w", err)
	}
	return n, nil
}

// ReadLog lazily parses a JSONL sample log. Blank lines are skipped.
// A malformed line is yielded as an error naming its line number and ends
// iteration.
func ReadLog(r io.Reader) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLogLine)

		line := 0
		for sc.Scan() {
			line++
			raw := sc.Bytes()
			if len(raw) == 0 {
				continue
			}
			var sample Sample
			if err := json.Unmarshal(raw, &sample); err != nil {
				yield(Sample{}, fmt.Errorf("sample log line %d: %w", line, err))
				return
			}
			if !yield(sample, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(Sample{}, fmt.Errorf("read sample log: %w", err))
		}
	}
}

// ImportResult summarizes an ImportLog call.
type ImportResult struct {
	Recorded   int `json:"recorded"`
	Duplicates int `json:"duplicates"`
}

// Recorder is the write side of a sample store.
type Recorder interface {
	Record(ctx context.Context, s Sample) error
}

// ImportLog records every sample in a JSONL log.
//
// Keys already present are counted as duplicates and skipped, so importing
// the same log twice is a no-op. Any other failure stops the import; samples
// recorded before it stay recorded.
func ImportLog(ctx context.Context, rec Recorder, r io.Reader) (*ImportResult, error) {
	res := &ImportResult{}
	for sample, err := range ReadLog(r) {
		if err != nil {
			return res, err
		}
		err := rec.Record(ctx, sample)
		switch {
		case err == nil:
			res.Recorded++
		case errors.Is(err, ErrDuplicateKey):
			res.Duplicates++
		default:
			return res, err
		}
	}
	return res, nil
}
