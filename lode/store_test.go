package lode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/imitatoes/metrics"
)

// failingStore is a lode.Store that returns configurable errors.
type failingStore struct {
	PutErr   error
	PutCalls int
}

func (s *failingStore) Put(_ context.Context, _ string, _ io.Reader) error {
	s.PutCalls++
	return s.PutErr
}

func (s *failingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, errors.New("not found")
}

func (s *failingStore) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

func (s *failingStore) List(_ context.Context, _ string) ([]string, error) { return nil, nil }

func (s *failingStore) Delete(_ context.Context, _ string) error { return nil }

func (s *failingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)

func TestMemoryStore_PutGetOverwrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()

	if err := s.Put(ctx, "loop_01_iter_01.json", []byte("first")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "loop_01_iter_01.json", []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Get(ctx, "loop_01_iter_01.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want second", got)
	}
	if s.Backend() != BackendMemory {
		t.Errorf("Backend() = %q", s.Backend())
	}
}

func TestMemoryStore_List(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	for _, name := range []string{"loop_01_iter_02.png", "report.json", "loop_01_iter_01.png"} {
		if err := s.Put(ctx, name, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	names, err := s.List(ctx, "loop_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"loop_01_iter_01.png", "loop_01_iter_02.png"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestPut_RejectsUnsafeNames(t *testing.T) {
	s := NewMemoryStore()
	for _, name := range []string{"", "../escape.png", "sub/dir.png", `win\path.png`} {
		if err := s.Put(t.Context(), name, []byte("x")); err == nil {
			t.Errorf("Put(%q) expected error", name)
		}
	}
}

func TestFSStore_WritesUnderRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "runs", "nested")
	s, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if err := s.Put(t.Context(), "loop_01_iter_01.png", []byte("png")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(t.Context(), "loop_01_iter_01.png", []byte("png2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "loop_01_iter_01.png"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png2" {
		t.Errorf("file content = %q, want png2", data)
	}
	if s.Backend() != BackendFS {
		t.Errorf("Backend() = %q", s.Backend())
	}
}

func TestPut_ClassifiesAndCountsFailures(t *testing.T) {
	store := &failingStore{PutErr: errors.New("write /runs/x: no space left on device")}
	collector := metrics.NewCollector("c", "fs", "poll", "r")
	s := NewStoreWithFactory(func() (lode.Store, error) { return store, nil }, BackendFS, "file:///runs", WithMetrics(collector))

	err := s.Put(t.Context(), "x.png", []byte("x"))
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("expected ErrDiskFull, got %v", err)
	}
	if store.PutCalls != 1 {
		t.Errorf("PutCalls = %d, want 1", store.PutCalls)
	}

	store.PutErr = nil
	if err := s.Put(t.Context(), "x.png", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	snap := collector.Snapshot()
	if snap.StorageWriteFailure != 1 || snap.StorageWriteSuccess != 1 {
		t.Errorf("write metrics = %d ok / %d failed", snap.StorageWriteSuccess, snap.StorageWriteFailure)
	}
}

func TestFactoryError_IsInitError(t *testing.T) {
	s := NewStoreWithFactory(func() (lode.Store, error) {
		return nil, errors.New("stat /nope: no such file or directory")
	}, BackendFS, "file:///nope")

	err := s.Put(t.Context(), "a.png", nil)
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "init" {
		t.Fatalf("expected init StorageError, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/runs/2026", "bucket", "runs/2026"},
		{"s3://bucket/runs/", "bucket", "runs"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = (%q, %q), want (%q, %q)", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	if err := (&S3Config{}).Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}
	if err := (&S3Config{Bucket: "b"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
