// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type resultRow struct {
	Signal  string
	Repname string
	Style   string
	Noise   float64
	P       float64
	Metrics map[string]float64
}

// resultsTable accumulates one row per (representation, noise,
// style) in the order they were added.
type resultsTable struct {
	metrics []string
	rows    []resultRow
}

func newResultsTable(metrics []string) *resultsTable {
	return &resultsTable{metrics: metrics}
}

func (t *resultsTable) Columns() []string {
	return append([]string{"signal", "repname", "style", "noise", "P"}, t.metrics...)
}

func (t *resultsTable) Append(row resultRow) {
	t.rows = append(t.rows, row)
}

func (t *resultsTable) Len() int { return len(t.rows) }

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (t *resultsTable) fields(row resultRow) []string {
	fields := []string{row.Signal, row.Repname, row.Style, formatFloat(row.Noise), formatFloat(row.P)}
	for _, name := range t.metrics {
		fields = append(fields, formatFloat(metricOrNaN(row.Metrics, name)))
	}
	return fields
}

// WriteTSV replaces fnm with the full table. The table is written to
// a temporary file in the same directory and renamed into place, so
// fnm always holds a complete table.
func (t *resultsTable) WriteTSV(fnm string) error {
	f, err := os.CreateTemp(filepath.Dir(fnm), "."+filepath.Base(fnm)+".tmp-")
	if err != nil {
		return err
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)
	defer f.Close()
	bufw := bufio.NewWriter(f)
	_, err = fmt.Fprintln(bufw, strings.Join(t.Columns(), "\t"))
	if err != nil {
		return fmt.Errorf("write %s: %w", tmpname, err)
	}
	for _, row := range t.rows {
		_, err = fmt.Fprintln(bufw, strings.Join(t.fields(row), "\t"))
		if err != nil {
			return fmt.Errorf("write %s: %w", tmpname, err)
		}
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", tmpname, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", tmpname, err)
	}
	return os.Rename(tmpname, fnm)
}
