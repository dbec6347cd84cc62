package trace

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/aditiharini/drone-mesh/simulation"
)

const defaultBatchSize = 256

// Recorder writes simulator events into one run of a Store. Events are
// batched; Close flushes what is left.
type Recorder struct {
	store     *Store
	run       string
	batchSize int

	mu      sync.Mutex
	pending []Record
	err     error
}

func NewRecorder(store *Store, runID string) *Recorder {
	return &Recorder{store: store, run: runID, batchSize: defaultBatchSize}
}

func (r *Recorder) RunID() string {
	return r.run
}

// Observe implements simulation.EventSink.
func (r *Recorder) Observe(ev simulation.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, FromEvent(ev))
	if len(r.pending) >= r.batchSize {
		r.flushLocked()
	}
}

// Flush stores pending records and returns the first write error seen.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
	return r.err
}

func (r *Recorder) flushLocked() {
	if len(r.pending) == 0 {
		return
	}
	if err := r.store.Append(r.run, r.pending...); err != nil {
		log.WithFields(log.Fields{"event": "trace_write_failed", "run": r.run, "records": len(r.pending)}).Error(err)
		if r.err == nil {
			r.err = err
		}
	}
	r.pending = r.pending[:0]
}

func (r *Recorder) Close() error {
	return r.Flush()
}
