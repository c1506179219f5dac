/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package history keeps a bounded log of engine wait points for rollback.
package history

import (
	"sync"
	"time"
)

// Checkpoint is the state needed to return to a wait point: the program,
// the action that waited, and the variables at that moment.
type Checkpoint struct {
	ProgramID string
	Cursor    int
	Vars      map[string]string
	TS        time.Time
}

func (c Checkpoint) size() int {
	n := len(c.ProgramID) + 8
	for k, v := range c.Vars {
		n += len(k) + len(v)
	}
	return n
}

// Config caps the log. Zero values pick the defaults.
type Config struct {
	// MaxBytes is a soft cap on the estimated size of stored variables.
	MaxBytes int
	// MaxDepth limits the number of checkpoints kept.
	MaxDepth int
}

// Log is a rollback stack of checkpoints, oldest first. It is safe for concurrent use.
type Log struct {
	cfg        Config
	mu         sync.Mutex
	entries    []Checkpoint
	totalBytes int
}

func New(cfg Config) *Log {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 20
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 200
	}
	return &Log{cfg: cfg}
}

// Push records cp. A checkpoint at the same program and cursor as the last
// one replaces it, so re-running a wait point does not grow the log.
func (l *Log) Push(cp Checkpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if last.ProgramID == cp.ProgramID && last.Cursor == cp.Cursor {
			l.totalBytes += cp.size() - last.size()
			l.entries[n-1] = cp
			l.enforceCapsLocked()
			return
		}
	}
	l.entries = append(l.entries, cp)
	l.totalBytes += cp.size()
	l.enforceCapsLocked()
}

// Back drops the newest checkpoint (the current wait point) and returns the
// one before it, which stays on the log as the new current point.
func (l *Log) Back() (Checkpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if n < 2 {
		return Checkpoint{}, false
	}
	l.totalBytes -= l.entries[n-1].size()
	l.entries = l.entries[:n-1]
	return l.entries[n-2], true
}

// Previous returns the checkpoint Back would return without removing
// anything.
func (l *Log) Previous() (Checkpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if n < 2 {
		return Checkpoint{}, false
	}
	return l.entries[n-2], true
}

// Len returns the number of checkpoints.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear empties the log.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.totalBytes = 0
}

// Stats returns current sizes for diagnostics.
func (l *Log) Stats() (totalBytes int, checkpoints int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalBytes, len(l.entries)
}

func (l *Log) enforceCapsLocked() {
	drop := 0
	if extra := len(l.entries) - l.cfg.MaxDepth; extra > 0 {
		drop = extra
	}
	bytes := l.totalBytes
	for i := 0; i < drop; i++ {
		bytes -= l.entries[i].size()
	}
	// keep at least the newest checkpoint even when it alone exceeds MaxBytes
	for bytes > l.cfg.MaxBytes && drop < len(l.entries)-1 {
		bytes -= l.entries[drop].size()
		drop++
	}
	if drop == 0 {
		return
	}
	l.entries = append([]Checkpoint(nil), l.entries[drop:]...)
	l.totalBytes = bytes
}
