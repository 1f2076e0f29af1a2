// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// resultsDB mirrors results rows into a SQLite database. Rows from
// all runs share one table and are distinguished by run UUID.
type resultsDB struct {
	db    *sql.DB
	RunID string
}

const resultsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	signal TEXT NOT NULL,
	family TEXT NOT NULL,
	seed INTEGER NOT NULL,
	started TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	row INTEGER NOT NULL,
	signal TEXT NOT NULL,
	repname TEXT NOT NULL,
	style TEXT NOT NULL,
	noise REAL NOT NULL,
	p REAL,
	k REAL,
	r2 REAL,
	region_corr REAL,
	region_p REAL,
	PRIMARY KEY (run_id, row)
);
`

// openResultsDB opens (creating if needed) the database at path and
// registers a new run.
func openResultsDB(ctx context.Context, path, signal, family string, seed int64) (*resultsDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, resultsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: create tables: %w", path, err)
	}
	rdb := &resultsDB{db: db, RunID: uuid.New().String()}
	_, err = db.ExecContext(ctx, `INSERT INTO runs (run_id, signal, family, seed, started) VALUES (?, ?, ?, ?, ?)`,
		rdb.RunID, signal, family, seed, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: register run: %w", path, err)
	}
	return rdb, nil
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: !math.IsNaN(f)}
}

// Insert stores results row number rownum.
func (rdb *resultsDB) Insert(ctx context.Context, rownum int, row resultRow) error {
	_, err := rdb.db.ExecContext(ctx, `
		INSERT INTO results (run_id, row, signal, repname, style, noise, p, k, r2, region_corr, region_p)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rdb.RunID, rownum, row.Signal, row.Repname, row.Style, row.Noise,
		nullFloat(row.P),
		nullFloat(metricOrNaN(row.Metrics, "k")),
		nullFloat(metricOrNaN(row.Metrics, "r2")),
		nullFloat(metricOrNaN(row.Metrics, "region_corr")),
		nullFloat(metricOrNaN(row.Metrics, "region_p")))
	return err
}

// Count returns the number of rows stored for this run.
func (rdb *resultsDB) Count(ctx context.Context) (int, error) {
	var n int
	err := rdb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE run_id = ?`, rdb.RunID).Scan(&n)
	return n, err
}

func (rdb *resultsDB) Close() error {
	return rdb.db.Close()
}

func metricOrNaN(metrics map[string]float64, name string) float64 {
	if v, ok := metrics[name]; ok {
		return v
	}
	return math.NaN()
}
