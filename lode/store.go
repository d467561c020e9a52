// Package lode persists loop artifacts (images, critique snapshots and the
// iteration journal) on a Lode store: local filesystem, S3 or memory.
package lode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/imitatoes/metrics"
)

// Backend names the storage backend for logs and metrics.
type Backend string

const (
	// BackendFS stores files under a local directory.
	BackendFS Backend = "fs"
	// BackendS3 stores objects in an S3-compatible bucket.
	BackendS3 Backend = "s3"
	// BackendMemory keeps files in process memory.
	BackendMemory Backend = "memory"
)

// ArtifactStore writes and reads flat per-run files. Writes overwrite
// existing files, so a rerun into the same directory replaces artifacts.
type ArtifactStore struct {
	factory  lode.StoreFactory
	backend  Backend
	location string
	metrics  *metrics.Collector

	once     sync.Once
	store    lode.Store
	storeErr error
}

// Option configures an ArtifactStore.
type Option func(*ArtifactStore)

// WithMetrics records write outcomes on the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *ArtifactStore) { s.metrics = c }
}

// NewFSStore creates a store rooted at dir, creating it if needed.
func NewFSStore(dir string, opts ...Option) (*ArtifactStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, WrapInitError(err, dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, WrapInitError(err, abs)
	}
	return NewStoreWithFactory(lode.NewFSFactory(abs), BackendFS, "file://"+filepath.ToSlash(abs), opts...), nil
}

// NewMemoryStore creates an in-memory store, mostly for tests and dry runs.
func NewMemoryStore(opts ...Option) *ArtifactStore {
	mem := lode.NewMemory()
	factory := func() (lode.Store, error) { return mem, nil }
	return NewStoreWithFactory(factory, BackendMemory, "memory://", opts...)
}

// NewStoreWithFactory wraps an arbitrary Lode store factory. The factory
// is invoked lazily on first use.
func NewStoreWithFactory(factory lode.StoreFactory, backend Backend, location string, opts ...Option) *ArtifactStore {
	s := &ArtifactStore{factory: factory, backend: backend, location: location}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend reports the storage backend.
func (s *ArtifactStore) Backend() Backend { return s.backend }

// Location is a URI-like description of where files land.
func (s *ArtifactStore) Location() string { return s.location }

// Put writes data under name, replacing any existing file.
func (s *ArtifactStore) Put(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := s.put(ctx, name, data)
	if err != nil {
		s.metrics.IncStorageWriteFailure()
		return err
	}
	s.metrics.IncStorageWriteSuccess()
	return nil
}

func (s *ArtifactStore) put(ctx context.Context, name string, data []byte) error {
	store, err := s.get()
	if err != nil {
		return err
	}
	exists, err := store.Exists(ctx, name)
	if err != nil {
		return WrapWriteError(err, name)
	}
	if exists {
		if err := store.Delete(ctx, name); err != nil {
			return NewStorageError(classifyError(err), "delete", name, err)
		}
	}
	return WrapWriteError(store.Put(ctx, name, bytes.NewReader(data)), name)
}

// Get reads the file stored under name.
func (s *ArtifactStore) Get(ctx context.Context, name string) ([]byte, error) {
	store, err := s.get()
	if err != nil {
		return nil, err
	}
	rc, err := store.Get(ctx, name)
	if err != nil {
		return nil, WrapReadError(err, name)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, WrapReadError(err, name)
	}
	return data, nil
}

// List returns the sorted names of stored files that start with prefix.
func (s *ArtifactStore) List(ctx context.Context, prefix string) ([]string, error) {
	store, err := s.get()
	if err != nil {
		return nil, err
	}
	paths, err := store.List(ctx, "")
	if err != nil {
		return nil, NewStorageError(classifyError(err), "list", prefix, err)
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimPrefix(filepath.ToSlash(p), "/")
		if strings.HasPrefix(p, prefix) {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close releases store resources. Lode stores hold none today.
func (s *ArtifactStore) Close() error { return nil }

func (s *ArtifactStore) get() (lode.Store, error) {
	s.once.Do(func() {
		s.store, s.storeErr = s.factory()
		if s.storeErr != nil {
			s.storeErr = WrapInitError(s.storeErr, s.location)
		}
	})
	return s.store, s.storeErr
}

// validateName keeps writes flat inside the run root.
func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
