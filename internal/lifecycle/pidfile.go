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

// Package lifecycle guards against concurrent scriptd instances through a
// locked PID file. The lock is held for the lifetime of the process; a
// stale file left by a crashed instance is detected by the lock, not the
// file's existence.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrPIDFileLocked is returned when another live instance holds the
	// PID file lock.
	ErrPIDFileLocked = errors.New("lifecycle: PID file is locked by another process")

	// ErrInvalidPID is returned when the PID file contains non-numeric
	// data.
	ErrInvalidPID = errors.New("lifecycle: invalid PID in file")

	// ErrUnsafeDirectory is returned when the PID file parent is
	// world-writable.
	ErrUnsafeDirectory = errors.New("lifecycle: PID file directory is world-writable")
)

// PIDFile is an exclusively locked PID file.
type PIDFile struct {
	path     string
	lockFile *os.File
}

// NewPIDFile creates a PID file handle for the given path. Nothing is
// created until Acquire.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire creates or takes over the PID file and writes the current PID.
// A file left behind by a dead instance is replaced; a file locked by a
// live instance yields ErrPIDFileLocked.
func (p *PIDFile) Acquire() error {
	parentDir := filepath.Dir(p.path)
	if err := verifyDirectorySafety(parentDir); err != nil {
		return err
	}
	if err := os.MkdirAll(parentDir, 0o700); err != nil {
		return fmt.Errorf("lifecycle: create PID file directory: %w", err)
	}

	// O_CREATE without O_EXCL: a stale file from a crashed instance is
	// distinguished from a live one by the lock, taken before writing.
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("lifecycle: open PID file: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		return err
	}

	if err := f.Truncate(0); err != nil {
		p.release(f)
		return fmt.Errorf("lifecycle: truncate PID file: %w", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		p.release(f)
		return fmt.Errorf("lifecycle: write PID: %w", err)
	}
	if err := f.Sync(); err != nil {
		p.release(f)
		return fmt.Errorf("lifecycle: sync PID file: %w", err)
	}

	p.lockFile = f
	return nil
}

// Read returns the PID recorded in the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: must be positive, got %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// Release removes the PID file and drops the lock. Safe to call when
// Acquire failed or was never called.
func (p *PIDFile) Release() error {
	if p.lockFile != nil {
		unlockFile(p.lockFile)
		p.lockFile.Close()
		p.lockFile = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lifecycle: remove PID file: %w", err)
	}
	return nil
}

func (p *PIDFile) release(f *os.File) {
	unlockFile(f)
	f.Close()
	os.Remove(p.path)
}

// verifyDirectorySafety rejects world-writable parents, where a symlink
// could redirect the PID file onto another file.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lifecycle: stat PID file directory: %w", err)
	}
	if info.Mode()&0o002 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, info.Mode()&os.ModePerm)
	}
	return nil
}
