// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package ledger keeps a SQLite record of every measurement run and the file
// it produced.
package ledger

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Run is one ledger row.
type Run struct {
	ID          string
	Kind        string // LIV, EAM or spectrum
	DeviceID    string
	Temperature string
	Timestamp   string // token embedded in the output file names
	Path        string
	OK          bool
	Error       string
	Started     time.Time
	Finished    time.Time
}

// Ledger is an open run database.
type Ledger struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	device_id TEXT NOT NULL DEFAULT '',
	temperature TEXT NOT NULL DEFAULT '',
	ts TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	ok INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_device ON runs(device_id);
`

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "ledger directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening ledger")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ledger schema")
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Record appends r. A run id may only be recorded once.
func (l *Ledger) Record(r Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`INSERT INTO runs
		(id, kind, device_id, temperature, ts, path, ok, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.DeviceID, r.Temperature, r.Timestamp, r.Path,
		boolInt(r.OK), r.Error, r.Started.UTC(), r.Finished.UTC())
	return errors.Wrapf(err, "recording run %s", r.ID)
}

// Recent returns up to limit runs, newest first. A device filter of ""
// matches every device.
func (l *Ledger) Recent(device string, limit int) ([]Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, err := l.db.Query(`SELECT id, kind, device_id, temperature, ts, path, ok, error, started_at, finished_at
		FROM runs WHERE ? = '' OR device_id = ?
		ORDER BY started_at DESC, id LIMIT ?`, device, device, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var ok int
		if err := rows.Scan(&r.ID, &r.Kind, &r.DeviceID, &r.Temperature, &r.Timestamp,
			&r.Path, &ok, &r.Error, &r.Started, &r.Finished); err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		r.OK = ok != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
