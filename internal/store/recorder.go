package store

import (
	"context"
	"sync"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"go.uber.org/zap"
)

// EventPersister writes a batch of run events at once.
type EventPersister interface {
	PersistEvents(ctx context.Context, events []schemas.RunEvent) error
}

// BufferedRecorder keeps the events of a run in memory and writes them in a
// single batch when the run finishes. Flush writes whatever is still held.
type BufferedRecorder struct {
	dest   EventPersister
	logger *zap.Logger

	mu      sync.Mutex
	pending []schemas.RunEvent
}

var _ schemas.EventRecorder = (*BufferedRecorder)(nil)

// NewBufferedRecorder creates a recorder that writes to dest.
func NewBufferedRecorder(dest EventPersister, logger *zap.Logger) *BufferedRecorder {
	return &BufferedRecorder{
		dest:   dest,
		logger: logger.Named("history"),
	}
}

// Record buffers ev. A run_finished event flushes the buffer.
func (r *BufferedRecorder) Record(ctx context.Context, ev schemas.RunEvent) error {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()

	if ev.Kind != schemas.EventRunFinished {
		return nil
	}
	return r.Flush(ctx)
}

// Flush writes the buffered events. On failure they stay buffered so a later
// Flush can retry them.
func (r *BufferedRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.dest.PersistEvents(ctx, r.pending); err != nil {
		return err
	}
	r.logger.Debug("Run history written", zap.Int("events", len(r.pending)))
	r.pending = nil
	return nil
}

// Pending reports how many events are waiting to be written.
func (r *BufferedRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
