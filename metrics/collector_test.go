package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("ollama/llava", "fs", "poll", "run-001")

	c.IncLoopStarted()
	c.IncLoopStarted()
	c.IncIterationCompleted()
	c.IncJobSubmitted()
	c.IncPoll()
	c.IncPoll()
	c.IncPoll()
	c.IncJobTimeout()
	c.IncMissingArtifact()
	c.AddArtifact(100)
	c.AddArtifact(50)
	c.IncCritiqueRequested()
	c.IncCritiqueFailure()
	c.IncMalformedCritique()
	c.IncDoneTokenMismatch()
	c.IncStorageWriteSuccess()
	c.IncStorageWriteSuccess()
	c.IncStorageWriteFailure()
	c.ObserveGeneration(2 * time.Second)
	c.ObserveCritique(time.Second)
	c.ObserveCritique(time.Second)

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"LoopsStarted", s.LoopsStarted, 2},
		{"IterationsCompleted", s.IterationsCompleted, 1},
		{"JobsSubmitted", s.JobsSubmitted, 1},
		{"Polls", s.Polls, 3},
		{"JobTimeouts", s.JobTimeouts, 1},
		{"MissingArtifacts", s.MissingArtifacts, 1},
		{"ArtifactsFetched", s.ArtifactsFetched, 2},
		{"ArtifactBytes", s.ArtifactBytes, 150},
		{"CritiquesRequested", s.CritiquesRequested, 1},
		{"CritiqueFailures", s.CritiqueFailures, 1},
		{"MalformedCritiques", s.MalformedCritiques, 1},
		{"DoneTokenMismatches", s.DoneTokenMismatches, 1},
		{"StorageWriteSuccess", s.StorageWriteSuccess, 2},
		{"StorageWriteFailure", s.StorageWriteFailure, 1},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
		}
	}
	if s.GenerationTime != 2*time.Second {
		t.Errorf("GenerationTime = %v, want 2s", s.GenerationTime)
	}
	if s.CritiqueTime != 2*time.Second {
		t.Errorf("CritiqueTime = %v, want 2s", s.CritiqueTime)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("gemini/gemini-2.5-flash", "s3", "websocket", "run-xyz")
	s := c.Snapshot()

	if s.Critic != "gemini/gemini-2.5-flash" {
		t.Errorf("Critic = %q", s.Critic)
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q", s.StorageBackend)
	}
	if s.WaitMode != "websocket" {
		t.Errorf("WaitMode = %q", s.WaitMode)
	}
	if s.RunID != "run-xyz" {
		t.Errorf("RunID = %q", s.RunID)
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("c", "fs", "poll", "r")
	c.IncPoll()
	s1 := c.Snapshot()
	c.IncPoll()
	if s1.Polls != 1 {
		t.Errorf("snapshot changed after later increment: Polls = %d", s1.Polls)
	}
	if c.Snapshot().Polls != 2 {
		t.Errorf("Polls = %d, want 2", c.Snapshot().Polls)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncLoopStarted()
	c.IncIterationCompleted()
	c.IncJobSubmitted()
	c.IncPoll()
	c.IncJobTimeout()
	c.IncMissingArtifact()
	c.AddArtifact(10)
	c.IncCritiqueRequested()
	c.IncCritiqueFailure()
	c.IncMalformedCritique()
	c.IncDoneTokenMismatch()
	c.IncStorageWriteSuccess()
	c.IncStorageWriteFailure()
	c.ObserveGeneration(time.Second)
	c.ObserveCritique(time.Second)

	s := c.Snapshot()
	if s.Polls != 0 || s.Critic != "" {
		t.Errorf("nil collector snapshot should be zero, got %+v", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("c", "fs", "poll", "r")
	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perGoroutine {
				c.IncPoll()
				c.AddArtifact(1)
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.Polls != goroutines*perGoroutine {
		t.Errorf("Polls = %d, want %d", s.Polls, goroutines*perGoroutine)
	}
	if s.ArtifactBytes != goroutines*perGoroutine {
		t.Errorf("ArtifactBytes = %d, want %d", s.ArtifactBytes, goroutines*perGoroutine)
	}
}

func TestCollector_ZeroValueSnapshot(t *testing.T) {
	c := NewCollector("c", "fs", "poll", "r")
	s := c.Snapshot()
	if s.IterationsCompleted != 0 || s.JobsSubmitted != 0 || s.StorageWriteSuccess != 0 {
		t.Errorf("fresh collector should have zero counters, got %+v", s)
	}
}
