package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pithecene-io/imitatoes/lode"
	"github.com/pithecene-io/imitatoes/types"
)

var (
	// ErrNoIterations means the store holds no journal records.
	ErrNoIterations = errors.New("no iterations recorded")
	// ErrIterationNotFound means the requested loop/iteration has no record.
	ErrIterationNotFound = errors.New("iteration not found")
)

// Reader abstracts read-only access to a run's persisted history.
type Reader interface {
	Summary(ctx context.Context) (*RunSummary, error)
	Iterations(ctx context.Context) ([]IterationRow, error)
	Iteration(ctx context.Context, at types.Counters) (*IterationDetail, error)
}

// JournalReader reads the iteration journal from an artifact store.
type JournalReader struct {
	store *lode.ArtifactStore
}

// NewJournalReader creates a reader over store.
func NewJournalReader(store *lode.ArtifactStore) *JournalReader {
	return &JournalReader{store: store}
}

// latest returns the records of the run that wrote the newest record,
// plus how many records belong to other runs.
func (r *JournalReader) latest(ctx context.Context) ([]lode.IterationRecord, int, error) {
	records, err := r.store.ReadJournal(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		return nil, 0, ErrNoIterations
	}

	newest := records[0]
	for _, rec := range records[1:] {
		if rec.RecordedAt.After(newest.RecordedAt) {
			newest = rec
		}
	}
	run := records[:0:0]
	for _, rec := range records {
		if rec.RunID == newest.RunID {
			run = append(run, rec)
		}
	}
	return run, len(records) - len(run), nil
}

// Summary describes the most recent run.
func (r *JournalReader) Summary(ctx context.Context) (*RunSummary, error) {
	records, stale, err := r.latest(ctx)
	if err != nil {
		return nil, err
	}

	first, last := records[0], records[len(records)-1]
	summary := &RunSummary{
		RunID:         last.RunID,
		Critic:        last.Critic,
		Location:      r.store.Location(),
		Iterations:    len(records),
		Loops:         last.Loop,
		Done:          last.Done,
		LastReason:    last.Reason,
		FirstRecorded: first.RecordedAt,
		LastRecorded:  last.RecordedAt,
		Stale:         stale,
	}
	final := last.State
	if last.Next != nil {
		final = *last.Next
	}
	summary.FinalPrompt = final.Prompt
	summary.FinalNegative = final.NegativePrompt
	return summary, nil
}

// Iterations lists the most recent run's iterations in order.
func (r *JournalReader) Iterations(ctx context.Context) ([]IterationRow, error) {
	records, _, err := r.latest(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]IterationRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, IterationRow{
			Key:          rec.Counters().Key(),
			Loop:         rec.Loop,
			Iteration:    rec.Iteration,
			JobID:        rec.JobID,
			Done:         rec.Done,
			CFG:          rec.State.CFGString(),
			Steps:        rec.State.StepsString(),
			Seed:         rec.State.SeedString(),
			Reason:       rec.Reason,
			GenerationMs: rec.GenerationMs,
			CritiqueMs:   rec.CritiqueMs,
		})
	}
	return rows, nil
}

// Iteration returns the full record of one iteration, including the
// critique snapshot and image size read back from the store.
func (r *JournalReader) Iteration(ctx context.Context, at types.Counters) (*IterationDetail, error) {
	records, _, err := r.latest(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Counters() != at {
			continue
		}
		detail := &IterationDetail{
			Key:            at.Key(),
			RunID:          rec.RunID,
			JobID:          rec.JobID,
			Critic:         rec.Critic,
			Done:           rec.Done,
			Reason:         rec.Reason,
			Prompt:         rec.State.Prompt,
			NegativePrompt: rec.State.NegativePrompt,
			State:          rec.State,
			Next:           rec.Next,
			Image:          rec.ImageFile,
			Reply:          rec.Reply,
			RecordedAt:     rec.RecordedAt,
		}
		if img, err := r.store.Get(ctx, rec.ImageFile); err == nil {
			detail.ImageBytes = len(img)
		}
		if snapshot, err := r.store.Get(ctx, rec.CritiqueFile); err == nil && json.Valid(snapshot) {
			detail.Critique = Snapshot(snapshot)
		} else if rec.Critique != "" {
			detail.Critique = Snapshot(rec.Critique)
		}
		return detail, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrIterationNotFound, at.Key())
}

// View loads the summary and history together.
func View(ctx context.Context, r Reader) (*RunView, error) {
	summary, err := r.Summary(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.Iterations(ctx)
	if err != nil {
		return nil, err
	}
	return &RunView{Summary: summary, Iterations: rows}, nil
}

var _ Reader = (*JournalReader)(nil)
