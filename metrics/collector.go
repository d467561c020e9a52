// Package metrics collects per-run counters for the generate/critique loop.
//
// The Collector is a leaf package with no internal dependencies. All
// methods are safe on a nil receiver so callers can run without metrics.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of a run's counters.
type Snapshot struct {
	// Loop progress
	LoopsStarted        int64
	IterationsCompleted int64

	// Generation backend
	JobsSubmitted    int64
	Polls            int64
	JobTimeouts      int64
	ArtifactsFetched int64
	ArtifactBytes    int64
	MissingArtifacts int64

	// Critique backend
	CritiquesRequested int64
	CritiqueFailures   int64
	MalformedCritiques int64
	// DoneTokenMismatches counts critiques whose reason token and done
	// boolean disagree.
	DoneTokenMismatches int64

	// Storage
	StorageWriteSuccess int64
	StorageWriteFailure int64

	// Stage latency totals
	GenerationTime time.Duration
	CritiqueTime   time.Duration

	// Dimensions (informational, set at construction)
	Critic         string
	StorageBackend string
	WaitMode       string
	RunID          string
}

// Collector accumulates metrics during a single run.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(critic, storageBackend, waitMode, runID string) *Collector {
	return &Collector{snap: Snapshot{
		Critic:         critic,
		StorageBackend: storageBackend,
		WaitMode:       waitMode,
		RunID:          runID,
	}}
}

func (c *Collector) update(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.snap)
	c.mu.Unlock()
}

// IncLoopStarted records entry into an outer loop.
func (c *Collector) IncLoopStarted() { c.update(func(s *Snapshot) { s.LoopsStarted++ }) }

// IncIterationCompleted records a fully persisted iteration.
func (c *Collector) IncIterationCompleted() {
	c.update(func(s *Snapshot) { s.IterationsCompleted++ })
}

// IncJobSubmitted records a successful generation submission.
func (c *Collector) IncJobSubmitted() { c.update(func(s *Snapshot) { s.JobsSubmitted++ }) }

// IncPoll records one completion-index read.
func (c *Collector) IncPoll() { c.update(func(s *Snapshot) { s.Polls++ }) }

// IncJobTimeout records a job that never completed.
func (c *Collector) IncJobTimeout() { c.update(func(s *Snapshot) { s.JobTimeouts++ }) }

// IncMissingArtifact records a completed job without an image.
func (c *Collector) IncMissingArtifact() { c.update(func(s *Snapshot) { s.MissingArtifacts++ }) }

// AddArtifact records a downloaded artifact of n bytes.
func (c *Collector) AddArtifact(n int) {
	c.update(func(s *Snapshot) {
		s.ArtifactsFetched++
		s.ArtifactBytes += int64(n)
	})
}

// IncCritiqueRequested records a review call.
func (c *Collector) IncCritiqueRequested() {
	c.update(func(s *Snapshot) { s.CritiquesRequested++ })
}

// IncCritiqueFailure records a review call that returned an error.
func (c *Collector) IncCritiqueFailure() { c.update(func(s *Snapshot) { s.CritiqueFailures++ }) }

// IncMalformedCritique records a reply with no extractable JSON object.
func (c *Collector) IncMalformedCritique() {
	c.update(func(s *Snapshot) { s.MalformedCritiques++ })
}

// IncDoneTokenMismatch records disagreement between token and boolean.
func (c *Collector) IncDoneTokenMismatch() {
	c.update(func(s *Snapshot) { s.DoneTokenMismatches++ })
}

// IncStorageWriteSuccess records a successful storage write.
func (c *Collector) IncStorageWriteSuccess() {
	c.update(func(s *Snapshot) { s.StorageWriteSuccess++ })
}

// IncStorageWriteFailure records a failed storage write.
func (c *Collector) IncStorageWriteFailure() {
	c.update(func(s *Snapshot) { s.StorageWriteFailure++ })
}

// ObserveGeneration adds time spent from submit to artifact download.
func (c *Collector) ObserveGeneration(d time.Duration) {
	c.update(func(s *Snapshot) { s.GenerationTime += d })
}

// ObserveCritique adds time spent waiting for the reviewer.
func (c *Collector) ObserveCritique(d time.Duration) {
	c.update(func(s *Snapshot) { s.CritiqueTime += d })
}

// Snapshot returns a copy of the current counters.
// Returns a zero Snapshot on a nil receiver.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}
