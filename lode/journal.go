package lode

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/imitatoes/types"
)

// JournalExt is the suffix of per-iteration journal records.
const JournalExt = ".msgpack"

// IterationRecord is the journal entry persisted next to each iteration's
// image and critique snapshot.
type IterationRecord struct {
	Version      string            `msgpack:"version"`
	RunID        string            `msgpack:"run_id"`
	Loop         int               `msgpack:"loop"`
	Iteration    int               `msgpack:"iteration"`
	JobID        string            `msgpack:"job_id"`
	Artifact     types.ArtifactRef `msgpack:"artifact"`
	ImageFile    string            `msgpack:"image_file"`
	CritiqueFile string            `msgpack:"critique_file"`
	Critic       string            `msgpack:"critic"`
	// State is the state the image was generated from.
	State types.LoopState `msgpack:"state"`
	// Next is the evolved state; nil when the critique reported done.
	Next   *types.LoopState `msgpack:"next,omitempty"`
	Done   bool             `msgpack:"done"`
	Reason string           `msgpack:"reason"`
	// Critique is the extracted JSON object; Reply the full reviewer text.
	Critique     string    `msgpack:"critique"`
	Reply        string    `msgpack:"reply"`
	GenerationMs int64     `msgpack:"generation_ms"`
	CritiqueMs   int64     `msgpack:"critique_ms"`
	RecordedAt   time.Time `msgpack:"recorded_at"`
}

// Counters returns the record's loop position.
func (r *IterationRecord) Counters() types.Counters {
	return types.Counters{Loop: r.Loop, Iteration: r.Iteration}
}

// Iteration bundles everything persisted for one loop iteration.
type Iteration struct {
	Counters types.Counters
	// Image is the raw artifact; Ext its file extension (".png").
	Image []byte
	Ext   string
	// Critique is the indented critique JSON.
	Critique []byte
	Record   IterationRecord
}

// SaveIteration writes the image, the critique snapshot and the journal
// record, in that order, and returns the written names.
func (s *ArtifactStore) SaveIteration(ctx context.Context, it Iteration) ([]string, error) {
	key := it.Counters.Key()
	ext := it.Ext
	if ext == "" {
		ext = ".png"
	}
	imageName := key + ext
	critiqueName := key + ".json"
	journalName := key + JournalExt

	rec := it.Record
	rec.Loop, rec.Iteration = it.Counters.Loop, it.Counters.Iteration
	rec.ImageFile, rec.CritiqueFile = imageName, critiqueName
	if rec.Version == "" {
		rec.Version = types.Version
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	encoded, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode journal record %s: %w", journalName, err)
	}

	written := make([]string, 0, 3)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{imageName, it.Image},
		{critiqueName, it.Critique},
		{journalName, encoded},
	} {
		if err := s.Put(ctx, f.name, f.data); err != nil {
			return written, err
		}
		written = append(written, f.name)
	}
	return written, nil
}

// ReadJournal returns every journal record in the store ordered by loop
// and iteration.
func (s *ArtifactStore) ReadJournal(ctx context.Context) ([]IterationRecord, error) {
	names, err := s.List(ctx, "loop_")
	if err != nil {
		return nil, err
	}

	var records []IterationRecord
	for _, name := range names {
		if !strings.HasSuffix(name, JournalExt) {
			continue
		}
		data, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		var rec IterationRecord
		if err := msgpack.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode journal record %s: %w", name, err)
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Loop != records[j].Loop {
			return records[i].Loop < records[j].Loop
		}
		return records[i].Iteration < records[j].Iteration
	})
	return records, nil
}
