// Copyright 2026 The scriptd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history persists lifecycle status reports in a SQLite database
// so operators can reconstruct what the service did and when. The store
// implements service.TransitionSink; recording failures are logged by the
// controller and never affect a transition.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scriptd/scriptd/internal/service"
)

// Entry is one recorded status report.
type Entry struct {
	ID                      int64
	RecordedAt              time.Time
	State                   string
	Win32ExitCode           int
	ServiceSpecificExitCode int
	Checkpoint              int
	WaitHintMillis          int
}

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at_ns INTEGER NOT NULL,
	state TEXT NOT NULL,
	win32_exit_code INTEGER NOT NULL,
	service_exit_code INTEGER NOT NULL,
	checkpoint INTEGER NOT NULL,
	wait_hint_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_recorded_at ON transitions(recorded_at_ns);
`

var _ service.TransitionSink = (*Store)(nil)

// Store records status reports in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// The sqlite driver serializes writes on a single connection; more
	// connections only contend on the database lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// RecordTransition stores one status report. It implements
// service.TransitionSink.
func (s *Store) RecordTransition(rep service.StatusReport) error {
	_, err := s.db.Exec(
		`INSERT INTO transitions
		(recorded_at_ns, state, win32_exit_code, service_exit_code, checkpoint, wait_hint_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.now().UnixNano(),
		rep.State.String(),
		rep.Win32ExitCode,
		rep.ServiceSpecificExitCode,
		rep.Checkpoint,
		rep.WaitHintMillis,
	)
	if err != nil {
		return fmt.Errorf("history: record transition: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recorded_at_ns, state, win32_exit_code, service_exit_code, checkpoint, wait_hint_ms
		FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ns int64
		if err := rows.Scan(&e.ID, &ns, &e.State, &e.Win32ExitCode,
			&e.ServiceSpecificExitCode, &e.Checkpoint, &e.WaitHintMillis); err != nil {
			return nil, fmt.Errorf("history: scan entry: %w", err)
		}
		e.RecordedAt = time.Unix(0, ns)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate entries: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
