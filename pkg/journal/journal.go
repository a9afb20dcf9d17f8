// Package journal provides the append-only NDJSON persistence for the
// orchestrator: the checkpoint journal (one record per terminal stage per
// run) and the audit log (one record per transactional phase boundary).
//
// Both files are newline-delimited JSON, written by a single writer, and
// readable by scanning in insertion order. A write failure marks the file
// unhealthy; journal failures are fatal to the affected run and surface on
// the process health check.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// CheckpointRecord is one journal line: a terminal stage state for a run,
// together with the session snapshot taken after the stage completed.
type CheckpointRecord struct {
	TS        time.Time          `json:"ts"`
	SessionID string             `json:"session_id"`
	RunID     string             `json:"run_id"`
	StageID   models.StageID     `json:"stage_id"`
	Status    models.StageStatus `json:"status"`
	Message   string             `json:"message,omitempty"`
	Snapshot  json.RawMessage    `json:"snapshot,omitempty"`
}

// Journal is the append-only checkpoint journal.
type Journal struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	failed atomic.Bool
}

// Open opens (or creates) the journal file for appending. Parent directories
// are created as needed. An error here means the journal is unwritable; the
// process must exit with code 3.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{f: f, path: path}, nil
}

// Append writes one checkpoint record. On failure the journal is marked
// unhealthy and the error carries the journal_failure kind.
func (j *Journal) Append(rec *CheckpointRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return models.NewKindError(models.ErrKindJournalFailure, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.f.Write(append(line, '\n')); err != nil {
		j.failed.Store(true)
		return models.NewKindError(models.ErrKindJournalFailure, err)
	}
	return nil
}

// Sync flushes the journal to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Sync(); err != nil {
		j.failed.Store(true)
		return models.NewKindError(models.ErrKindJournalFailure, err)
	}
	return nil
}

// Healthy reports whether every write so far succeeded.
func (j *Journal) Healthy() bool { return !j.failed.Load() }

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Scan reads the journal in insertion order, calling fn per record until it
// returns false. Unparseable lines stop the scan: a torn tail means the file
// needs operator attention, not silent skipping.
func Scan(path string, fn func(*CheckpointRecord) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening journal for scan: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec CheckpointRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("journal line %d: %w", line, err)
		}
		if !fn(&rec) {
			return nil
		}
	}
	return scanner.Err()
}

// LastSnapshots returns the most recent non-empty session snapshot per
// session id, in one pass over the journal. Used for restore on startup.
func LastSnapshots(path string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	err := Scan(path, func(rec *CheckpointRecord) bool {
		if len(rec.Snapshot) > 0 {
			out[rec.SessionID] = rec.Snapshot
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
