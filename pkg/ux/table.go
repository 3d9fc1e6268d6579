// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table is one report table.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string

	// Highlight marks rows to emphasize, such as the cliff interval.
	Highlight func(row int) bool

	// Empty is printed instead of the table when there are no rows.
	Empty string
}

// Table prints t. Plain printers use an ASCII border and no color.
func (p *Printer) Table(t Table) {
	if t.Title != "" {
		p.Title(t.Title)
	}
	if len(t.Rows) == 0 {
		msg := t.Empty
		if msg == "" {
			msg = "no data"
		}
		p.Info("%s", msg)
		return
	}
	fmt.Fprintln(p.w, p.render(t))
}

func (p *Printer) render(t Table) string {
	tbl := table.New().Headers(t.Headers...).Rows(t.Rows...)
	if p.plain {
		return tbl.Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				return lipgloss.NewStyle().Padding(0, 1)
			}).
			String()
	}
	return tbl.Border(lipgloss.RoundedBorder()).
		BorderStyle(Styles.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return Styles.Header
			case t.Highlight != nil && t.Highlight(row):
				return Styles.Highlight
			default:
				return Styles.Cell
			}
		}).
		String()
}
