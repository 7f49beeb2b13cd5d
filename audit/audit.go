// Package audit records structured start/success/failure traces for every
// core operation. Each Recorder covers one operation: it accumulates timed
// entries in memory, echoes them to the structured logger, and persists the
// final record through the storage collaborator when the operation settles.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rgranatodutra/wwebjs-api/storage"
)

// persistTimeout bounds the fire-and-forget write of a settled record.
const persistTimeout = 10 * time.Second

// Sink creates Recorders bound to one instance, store and logger.
type Sink struct {
	store    storage.AuditStore
	logger   *slog.Logger
	instance string
}

// NewSink builds a Sink. A nil store disables persistence; entries still
// reach the logger.
func NewSink(store storage.AuditStore, logger *slog.Logger, instance string) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, logger: logger, instance: instance}
}

// Begin opens a Recorder for one operation. The input snapshot is stored
// verbatim in the final record.
func (s *Sink) Begin(processName string, input any) *Recorder {
	return &Recorder{
		sink:        s,
		processName: processName,
		processID:   processName + "-" + uuid.NewString(),
		input:       input,
		startTime:   time.Now(),
		logger:      s.logger.With("process", processName),
	}
}

// Recorder accumulates the trace of one operation. Safe for concurrent use;
// settle it exactly once with Success or Failed.
type Recorder struct {
	sink        *Sink
	processName string
	processID   string
	input       any
	startTime   time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	entries []storage.AuditEntry
	output  []any
	settled bool
}

// ProcessID returns the unique id of this operation.
func (r *Recorder) ProcessID() string { return r.processID }

// Log records an info-level entry.
func (r *Recorder) Log(msg string, data any) {
	r.append("INFO", msg, data)
	r.logger.Info(msg, "data", data)
}

// Debug records a debug-level entry.
func (r *Recorder) Debug(msg string, data any) {
	r.append("DEBUG", msg, data)
	r.logger.Debug(msg, "data", data)
}

// Success settles the operation as succeeded and persists the record.
func (r *Recorder) Success(result any) {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return
	}
	r.settled = true
	if result != nil {
		r.output = append(r.output, result)
	}
	r.mu.Unlock()

	r.persist(time.Now(), nil)
}

// Failed settles the operation as failed and persists the record.
func (r *Recorder) Failed(err error) {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return
	}
	r.settled = true
	r.mu.Unlock()

	r.logger.Error("operation failed", "process_id", r.processID, "error", err)
	r.persist(time.Now(), err)
}

func (r *Recorder) append(level, msg string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.entries = append(r.entries, storage.AuditEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Data:      data,
	})
	if data != nil {
		r.output = append(r.output, data)
	}
}

func (r *Recorder) persist(end time.Time, opErr error) {
	if r.sink.store == nil {
		return
	}

	r.mu.Lock()
	record := &storage.AuditRecord{
		Instance:    r.sink.instance,
		ProcessName: r.processName,
		ProcessID:   r.processID,
		StartTime:   r.startTime,
		EndTime:     end,
		Duration:    end.Sub(r.startTime),
		Entries:     append([]storage.AuditEntry(nil), r.entries...),
		Input:       r.input,
		Output:      append([]any(nil), r.output...),
	}
	r.mu.Unlock()

	if opErr != nil {
		record.HasError = true
		record.Error = opErr.Error()
	}

	// Fire and forget: audit persistence never blocks or fails the
	// operation it describes.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.sink.store.SaveAuditRecord(ctx, record); err != nil {
			r.logger.Error("failed to save audit record", "process_id", r.processID, "error", err)
		}
	}()
}
