package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// AuditLog is the append-only transactional audit file. All writes go
// through a single writer goroutine; callers append without blocking and
// await durability only at phase boundaries via Flush.
type AuditLog struct {
	path     string
	instance string

	f   *os.File
	seq atomic.Uint64

	reqCh    chan auditRequest
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	failed  atomic.Bool
	lastErr atomic.Value // error

	logger *slog.Logger
}

type auditRequest struct {
	line []byte // nil for barrier requests
	sync bool
	ack  chan error // non-nil for barrier requests
}

// OpenAudit opens (or creates) the audit file and starts the writer.
// The instance marker keeps ids unique across restarts and replicas.
func OpenAudit(path, instance string) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	a := &AuditLog{
		path:     path,
		instance: instance,
		f:        f,
		reqCh:    make(chan auditRequest, 256),
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With("component", "audit-log"),
	}
	a.wg.Add(1)
	go a.writeLoop()
	return a, nil
}

// Append assigns the next monotonic id, enqueues the record, and returns the
// id immediately. Durability is confirmed by a later Flush.
func (a *AuditLog) Append(rec models.AuditRecord) string {
	rec.ID = fmt.Sprintf("%s-%08d", a.instance, a.seq.Add(1))
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	line, err := json.Marshal(&rec)
	if err != nil {
		a.recordFailure(err)
		return rec.ID
	}

	select {
	case a.reqCh <- auditRequest{line: append(line, '\n')}:
	case <-a.stopCh:
		a.recordFailure(fmt.Errorf("audit log stopped"))
	}
	return rec.ID
}

// Flush blocks until every record enqueued before it is written, fsyncing
// when sync is true. Returns the sticky failure if any write has failed.
func (a *AuditLog) Flush(ctx context.Context, sync bool) error {
	ack := make(chan error, 1)
	select {
	case a.reqCh <- auditRequest{sync: sync, ack: ack}:
	case <-a.stopCh:
		return models.Kindf(models.ErrKindJournalFailure, "audit log stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether every audit write so far succeeded.
func (a *AuditLog) Healthy() bool { return !a.failed.Load() }

// Close drains pending writes, syncs, and closes the file.
func (a *AuditLog) Close() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
	_ = a.f.Sync()
	return a.f.Close()
}

func (a *AuditLog) writeLoop() {
	defer a.wg.Done()

	for {
		select {
		case req := <-a.reqCh:
			a.handle(req)
		case <-a.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case req := <-a.reqCh:
					a.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLog) handle(req auditRequest) {
	if req.line != nil {
		if _, err := a.f.Write(req.line); err != nil {
			a.recordFailure(err)
		}
		return
	}

	// Barrier: everything enqueued before it has been written by now.
	var err error
	if req.sync {
		if syncErr := a.f.Sync(); syncErr != nil {
			a.recordFailure(syncErr)
		}
	}
	if a.failed.Load() {
		if v := a.lastErr.Load(); v != nil {
			err = models.NewKindError(models.ErrKindJournalFailure, v.(error))
		} else {
			err = models.Kindf(models.ErrKindJournalFailure, "audit write failed")
		}
	}
	req.ack <- err
}

func (a *AuditLog) recordFailure(err error) {
	a.failed.Store(true)
	a.lastErr.Store(err)
	a.logger.Error("Audit write failed", "path", a.path, "error", err)
}

// ScanAudit reads the audit file in insertion order, calling fn per record
// until it returns false.
func ScanAudit(path string, fn func(models.AuditRecord) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening audit log for scan: %w", err)
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
		var rec models.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("audit line %d: %w", line, err)
		}
		if !fn(rec) {
			return nil
		}
	}
	return scanner.Err()
}
